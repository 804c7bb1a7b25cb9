package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	activeRulesCacheKey = "mes:number_rules:active"
	activeRulesCacheTTL = 30 * time.Second
)

// NumberingService 批次号规则与发号服务
//
// 覆盖规则管理、规则解析、序列号分配和批次号渲染。
type NumberingService struct {
	ruleRepo *repository.RuleRepository
	seqRepo  *repository.SequenceRepository
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewNumberingService(ruleRepo *repository.RuleRepository, seqRepo *repository.SequenceRepository, rdb *redis.Client, logger *zap.Logger) *NumberingService {
	return &NumberingService{ruleRepo: ruleRepo, seqRepo: seqRepo, rdb: rdb, logger: logger}
}

// ResolveContext 批次创建上下文，空字段不参与匹配
type ResolveContext struct {
	OperationType string `json:"operation_type" form:"operation_type"`
	ProductSKU    string `json:"product_sku" form:"product_sku"`
	EquipmentType string `json:"equipment_type" form:"equipment_type"`
}

// normalized 与规则写入侧相同的归一化，保证匹配两侧口径一致。
// SKU保留原大小写，只去首尾空白。
func (c ResolveContext) normalized() ResolveContext {
	return ResolveContext{
		OperationType: strings.ToUpper(strings.TrimSpace(c.OperationType)),
		ProductSKU:    strings.TrimSpace(c.ProductSKU),
		EquipmentType: strings.ToUpper(strings.TrimSpace(c.EquipmentType)),
	}
}

// ============================================================
// 规则管理
// ============================================================

type CreateRuleRequest struct {
	Name          string `json:"name" binding:"required"`
	OperationType string `json:"operation_type"`
	ProductSKU    string `json:"product_sku"`
	EquipmentType string `json:"equipment_type"`
	Prefix        string `json:"prefix" binding:"required"`
	Separator     string `json:"separator"`
	IncludeOpCode bool   `json:"include_op_code"`
	OpCodeLength  int    `json:"op_code_length"`
	IncludeDate   bool   `json:"include_date"`
	DateFormat    string `json:"date_format"`
	SeqLength     int    `json:"seq_length"`
	ResetPolicy   string `json:"reset_policy"`
	Priority      int    `json:"priority"`
}

// UpdateRuleRequest 只接受可变字段，范围字段创建后不可修改
type UpdateRuleRequest struct {
	Name          *string `json:"name"`
	Prefix        *string `json:"prefix"`
	Separator     *string `json:"separator"`
	IncludeOpCode *bool   `json:"include_op_code"`
	OpCodeLength  *int    `json:"op_code_length"`
	IncludeDate   *bool   `json:"include_date"`
	DateFormat    *string `json:"date_format"`
	SeqLength     *int    `json:"seq_length"`
	ResetPolicy   *string `json:"reset_policy"`
	Priority      *int    `json:"priority"`
	Active        *bool   `json:"active"`
}

// CreateRule 创建编号规则
func (s *NumberingService) CreateRule(ctx context.Context, req CreateRuleRequest, userID string) (*entity.BatchNumberRule, error) {
	rule := &entity.BatchNumberRule{
		Name:          req.Name,
		OperationType: strings.ToUpper(strings.TrimSpace(req.OperationType)),
		ProductSKU:    strings.TrimSpace(req.ProductSKU),
		EquipmentType: strings.ToUpper(strings.TrimSpace(req.EquipmentType)),
		Prefix:        req.Prefix,
		Separator:     req.Separator,
		IncludeOpCode: req.IncludeOpCode,
		OpCodeLength:  req.OpCodeLength,
		IncludeDate:   req.IncludeDate,
		DateFormat:    req.DateFormat,
		SeqLength:     req.SeqLength,
		ResetPolicy:   req.ResetPolicy,
		Priority:      req.Priority,
		Active:        true,
		CreatedBy:     userID,
	}
	if rule.Separator == "" {
		rule.Separator = "-"
	}
	if rule.DateFormat == "" {
		rule.DateFormat = "yyyyMMdd"
	}
	if rule.SeqLength == 0 {
		rule.SeqLength = 4
	}
	if rule.OpCodeLength == 0 {
		rule.OpCodeLength = 3
	}
	if rule.ResetPolicy == "" {
		rule.ResetPolicy = entity.ResetPolicyDaily
	}
	if err := validateRuleTemplate(rule.SeqLength, rule.OpCodeLength, rule.ResetPolicy, rule.DateFormat); err != nil {
		return nil, err
	}

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("创建编号规则失败: %w", err)
	}
	s.invalidateRuleCache(ctx)
	s.logger.Info("编号规则已创建",
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name),
		zap.String("prefix", rule.Prefix),
	)
	return rule, nil
}

// UpdateRule 更新规则的模板/优先级/启用状态
func (s *NumberingService) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*entity.BatchNumberRule, error) {
	rule, err := s.ruleRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Prefix != nil {
		fields["prefix"] = *req.Prefix
	}
	if req.Separator != nil {
		fields["separator"] = *req.Separator
	}
	if req.IncludeOpCode != nil {
		fields["include_op_code"] = *req.IncludeOpCode
	}
	if req.OpCodeLength != nil {
		fields["op_code_length"] = *req.OpCodeLength
	}
	if req.IncludeDate != nil {
		fields["include_date"] = *req.IncludeDate
	}
	if req.DateFormat != nil {
		fields["date_format"] = *req.DateFormat
	}
	if req.SeqLength != nil {
		fields["seq_length"] = *req.SeqLength
	}
	if req.ResetPolicy != nil {
		fields["reset_policy"] = *req.ResetPolicy
	}
	if req.Priority != nil {
		fields["priority"] = *req.Priority
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}

	seqLength := rule.SeqLength
	if req.SeqLength != nil {
		seqLength = *req.SeqLength
	}
	opCodeLength := rule.OpCodeLength
	if req.OpCodeLength != nil {
		opCodeLength = *req.OpCodeLength
	}
	resetPolicy := rule.ResetPolicy
	if req.ResetPolicy != nil {
		resetPolicy = *req.ResetPolicy
	}
	dateFormat := rule.DateFormat
	if req.DateFormat != nil {
		dateFormat = *req.DateFormat
	}
	if err := validateRuleTemplate(seqLength, opCodeLength, resetPolicy, dateFormat); err != nil {
		return nil, err
	}

	if err := s.ruleRepo.UpdateTemplate(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("更新编号规则失败: %w", err)
	}
	s.invalidateRuleCache(ctx)
	return s.ruleRepo.FindByID(ctx, id)
}

// DeactivateRule 停用规则
func (s *NumberingService) DeactivateRule(ctx context.Context, id string) error {
	if err := s.ruleRepo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.invalidateRuleCache(ctx)
	return nil
}

// GetRule 获取规则详情
func (s *NumberingService) GetRule(ctx context.Context, id string) (*entity.BatchNumberRule, error) {
	return s.ruleRepo.FindByID(ctx, id)
}

// ListRules 获取规则列表
func (s *NumberingService) ListRules(ctx context.Context, params repository.RuleListParams) ([]entity.BatchNumberRule, int64, error) {
	return s.ruleRepo.List(ctx, params)
}

// ListWindows 获取规则的历史计数窗口
func (s *NumberingService) ListWindows(ctx context.Context, ruleID string) ([]entity.SequenceCounter, error) {
	return s.seqRepo.ListWindows(ctx, ruleID)
}

func validateRuleTemplate(seqLength, opCodeLength int, resetPolicy, dateFormat string) error {
	if seqLength < 1 || seqLength > 9 {
		return fmt.Errorf("%w: 序列号位数必须在1-9之间", ErrInvalidRuleTemplate)
	}
	if opCodeLength < 1 || opCodeLength > 8 {
		return fmt.Errorf("%w: 工序码位数必须在1-8之间", ErrInvalidRuleTemplate)
	}
	switch resetPolicy {
	case entity.ResetPolicyDaily, entity.ResetPolicyMonthly, entity.ResetPolicyNever:
	default:
		return fmt.Errorf("%w: 无效的重置周期 %s", ErrInvalidRuleTemplate, resetPolicy)
	}
	if _, err := dateLayout(dateFormat); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleTemplate, err)
	}
	return nil
}

// ============================================================
// 规则解析
// ============================================================

// Resolve 解析创建上下文对应的编号规则
//
// 匹配：规则的非空范围字段必须与上下文一致，空字段通配。
// 排序：具体程度（匹配的非空字段数）> 优先级 > 创建时间（新的优先）。
// 兜底规则范围全空，匹配任何上下文，具体程度最低。只读，预览可安全调用。
func (s *NumberingService) Resolve(ctx context.Context, rctx ResolveContext) (*entity.BatchNumberRule, error) {
	rctx = rctx.normalized()
	rules, err := s.activeRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取编号规则失败: %w", err)
	}
	rule := rankRules(rules, rctx)
	if rule == nil {
		return nil, ErrNoApplicableRule
	}
	return rule, nil
}

// ruleMatches 规则是否匹配上下文（空范围字段通配）
func ruleMatches(rule *entity.BatchNumberRule, rctx ResolveContext) bool {
	if rule.OperationType != "" && rule.OperationType != rctx.OperationType {
		return false
	}
	if rule.ProductSKU != "" && rule.ProductSKU != rctx.ProductSKU {
		return false
	}
	if rule.EquipmentType != "" && rule.EquipmentType != rctx.EquipmentType {
		return false
	}
	return true
}

// rankRules 从启用规则中确定性地挑出一条
func rankRules(rules []entity.BatchNumberRule, rctx ResolveContext) *entity.BatchNumberRule {
	candidates := make([]*entity.BatchNumberRule, 0, len(rules))
	for i := range rules {
		if ruleMatches(&rules[i], rctx) {
			candidates = append(candidates, &rules[i])
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].Specificity(), candidates[j].Specificity()
		if si != sj {
			return si > sj
		}
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0]
}

// activeRules 读取启用规则，优先走Redis缓存
func (s *NumberingService) activeRules(ctx context.Context) ([]entity.BatchNumberRule, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, activeRulesCacheKey).Bytes()
		if err == nil {
			var rules []entity.BatchNumberRule
			if jsonErr := json.Unmarshal(cached, &rules); jsonErr == nil {
				return rules, nil
			}
		}
	}

	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if data, jsonErr := json.Marshal(rules); jsonErr == nil {
			if err := s.rdb.Set(ctx, activeRulesCacheKey, data, activeRulesCacheTTL).Err(); err != nil {
				s.logger.Debug("规则缓存写入失败", zap.Error(err))
			}
		}
	}
	return rules, nil
}

func (s *NumberingService) invalidateRuleCache(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, activeRulesCacheKey).Err(); err != nil {
		s.logger.Debug("规则缓存失效失败", zap.Error(err))
	}
}

// ============================================================
// 窗口与渲染
// ============================================================

// WindowKey 计算重置窗口键
func WindowKey(resetPolicy string, now time.Time) string {
	switch resetPolicy {
	case entity.ResetPolicyDaily:
		return now.Format("20060102")
	case entity.ResetPolicyMonthly:
		return now.Format("200601")
	default:
		return "ALL"
	}
}

// dateLayout 把规则里的日期格式(yyyyMMdd风格)转成Go布局
func dateLayout(format string) (string, error) {
	layout := strings.NewReplacer(
		"yyyy", "2006",
		"yy", "06",
		"MM", "01",
		"dd", "02",
	).Replace(format)
	if strings.ContainsAny(layout, "yMd") {
		return "", fmt.Errorf("无效的日期格式: %s", format)
	}
	return layout, nil
}

// opCodeSegment 工序码段：超长截断，不足左补0
func opCodeSegment(operationType string, length int) string {
	code := strings.ToUpper(operationType)
	if len(code) > length {
		return code[:length]
	}
	for len(code) < length {
		code = "0" + code
	}
	return code
}

// Render 渲染批次号，纯函数
//
// 序列号超出规则位数时返回ErrSequenceOverflow，宁可失败也不截断重号。
func Render(rule *entity.BatchNumberRule, seq int64, now time.Time, rctx ResolveContext) (string, error) {
	max := int64(1)
	for i := 0; i < rule.SeqLength; i++ {
		max *= 10
	}
	if seq >= max {
		return "", ErrSequenceOverflow
	}

	segments := []string{rule.Prefix}
	if rule.IncludeOpCode {
		segments = append(segments, opCodeSegment(rctx.OperationType, rule.OpCodeLength))
	}
	if rule.IncludeDate {
		layout, err := dateLayout(rule.DateFormat)
		if err != nil {
			return "", err
		}
		segments = append(segments, now.Format(layout))
	}
	segments = append(segments, fmt.Sprintf("%0*d", rule.SeqLength, seq))
	return strings.Join(segments, rule.Separator), nil
}

// ============================================================
// 发号
// ============================================================

// NextNumber 解析规则并分配下一个批次号
//
// 分配后下游持久化失败不回收号，留下的空号是可接受的审计事实。
func (s *NumberingService) NextNumber(ctx context.Context, rctx ResolveContext, now time.Time) (*entity.BatchNumberRule, string, error) {
	rule, err := s.Resolve(ctx, rctx)
	if err != nil {
		return nil, "", err
	}
	seq, err := s.seqRepo.AllocateNext(ctx, rule.ID, WindowKey(rule.ResetPolicy, now))
	if err != nil {
		return nil, "", fmt.Errorf("分配序列号失败: %w", err)
	}
	number, err := Render(rule, seq, now, rctx)
	if err != nil {
		return nil, "", err
	}
	return rule, number, nil
}

// PreviewNext 预览下一个批次号，不消耗序列号
func (s *NumberingService) PreviewNext(ctx context.Context, rctx ResolveContext, now time.Time) (string, error) {
	rule, err := s.Resolve(ctx, rctx)
	if err != nil {
		return "", err
	}
	seq, err := s.seqRepo.PeekNext(ctx, rule.ID, WindowKey(rule.ResetPolicy, now))
	if err != nil {
		return "", fmt.Errorf("读取序列号失败: %w", err)
	}
	return Render(rule, seq, now, rctx)
}
