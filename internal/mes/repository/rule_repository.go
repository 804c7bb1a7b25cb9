package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// RuleRepository 批次号规则仓储
type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create 创建规则
func (r *RuleRepository) Create(ctx context.Context, rule *entity.BatchNumberRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// FindByID 根据ID查找规则
func (r *RuleRepository) FindByID(ctx context.Context, id string) (*entity.BatchNumberRule, error) {
	var rule entity.BatchNumberRule
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListActive 获取所有启用的规则
func (r *RuleRepository) ListActive(ctx context.Context) ([]entity.BatchNumberRule, error) {
	var rules []entity.BatchNumberRule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// RuleListParams 规则列表查询参数
type RuleListParams struct {
	OperationType string
	ProductSKU    string
	Active        *bool
	Keyword       string
	Page          int
	Size          int
}

// List 获取规则列表
func (r *RuleRepository) List(ctx context.Context, params RuleListParams) ([]entity.BatchNumberRule, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.BatchNumberRule{})
	if params.OperationType != "" {
		query = query.Where("operation_type = ?", params.OperationType)
	}
	if params.ProductSKU != "" {
		query = query.Where("product_sku = ?", params.ProductSKU)
	}
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("name ILIKE ? OR prefix ILIKE ?", kw, kw)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var rules []entity.BatchNumberRule
	err := query.Order("priority DESC, created_at DESC").
		Offset((params.Page - 1) * params.Size).
		Limit(params.Size).
		Find(&rules).Error
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// UpdateTemplate 更新规则的模板/优先级/启用状态
//
// 范围字段(operation_type/product_sku/equipment_type)创建后不可变，
// 这里只落可变列，写入路径保证不会触碰范围字段。
func (r *RuleRepository) UpdateTemplate(ctx context.Context, id string, fields map[string]interface{}) error {
	allowed := map[string]bool{
		"name": true, "prefix": true, "separator": true,
		"include_op_code": true, "op_code_length": true,
		"include_date": true, "date_format": true,
		"seq_length": true, "reset_policy": true,
		"priority": true, "active": true,
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		if allowed[k] {
			updates[k] = v
		}
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).
		Model(&entity.BatchNumberRule{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate 停用规则
func (r *RuleRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&entity.BatchNumberRule{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
