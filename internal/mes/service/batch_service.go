package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// 乐观锁冲突时生命周期操作的最大重试次数
const maxTransitionRetries = 3

// BatchService 批次生命周期服务
type BatchService struct {
	batchRepo *repository.BatchRepository
	numbering *NumberingService
	logger    *zap.Logger
}

func NewBatchService(batchRepo *repository.BatchRepository, numbering *NumberingService, logger *zap.Logger) *BatchService {
	return &BatchService{batchRepo: batchRepo, numbering: numbering, logger: logger}
}

// canTransition 批次状态机
//
// QUALITY_PENDING → AVAILABLE | SCRAPPED（质检判定）
// AVAILABLE → CONSUMED | SPLIT | MERGED | SCRAPPED
// CONSUMED / SPLIT / MERGED / SCRAPPED 为终态，只读不可变。
func canTransition(from, to string) bool {
	switch from {
	case entity.BatchStatusQualityPending:
		return to == entity.BatchStatusAvailable || to == entity.BatchStatusScrapped
	case entity.BatchStatusAvailable:
		return to == entity.BatchStatusConsumed || to == entity.BatchStatusSplit ||
			to == entity.BatchStatusMerged || to == entity.BatchStatusScrapped
	}
	return false
}

type CreateBatchRequest struct {
	MaterialRef   string  `json:"material_ref" binding:"required"`
	Quantity      float64 `json:"quantity" binding:"required,gt=0"`
	Unit          string  `json:"unit"`
	OperationType string  `json:"operation_type"`
	ProductSKU    string  `json:"product_sku"`
	EquipmentType string  `json:"equipment_type"`
}

func (req CreateBatchRequest) resolveContext() ResolveContext {
	return ResolveContext{
		OperationType: req.OperationType,
		ProductSKU:    req.ProductSKU,
		EquipmentType: req.EquipmentType,
	}
}

// Create 创建批次
//
// 解析规则 → 取号 → 渲染 → 落库，初始状态待质检。取号后落库失败
// 不回收序列号（接受空号），批次号唯一约束兜底防重。
func (s *BatchService) Create(ctx context.Context, req CreateBatchRequest, userID string) (*entity.Batch, error) {
	now := time.Now()
	rule, number, err := s.numbering.NextNumber(ctx, req.resolveContext(), now)
	if err != nil {
		return nil, err
	}

	unit := req.Unit
	if unit == "" {
		unit = "pcs"
	}
	batch := &entity.Batch{
		BatchNumber:   number,
		MaterialRef:   req.MaterialRef,
		Quantity:      req.Quantity,
		RemainingQty:  req.Quantity,
		Unit:          unit,
		Status:        entity.BatchStatusQualityPending,
		OperationType: req.OperationType,
		EquipmentType: req.EquipmentType,
		RuleID:        rule.ID,
		Version:       1,
		CreatedBy:     userID,
	}
	event := &entity.BatchEvent{
		EventType: entity.EventTypeCreated,
		Quantity:  req.Quantity,
		CreatedBy: userID,
	}
	if err := s.batchRepo.CreateWithEvent(ctx, batch, event); err != nil {
		return nil, fmt.Errorf("创建批次失败: %w", err)
	}

	s.logger.Info("批次已创建",
		zap.String("batch_id", batch.ID),
		zap.String("batch_number", batch.BatchNumber),
		zap.String("rule_id", rule.ID),
		zap.Float64("quantity", batch.Quantity),
	)
	return batch, nil
}

// PreviewNextNumber 预览下一个批次号，不消耗序列号、不落库
func (s *BatchService) PreviewNextNumber(ctx context.Context, rctx ResolveContext) (string, error) {
	return s.numbering.PreviewNext(ctx, rctx, time.Now())
}

// GetByID 获取批次详情
func (s *BatchService) GetByID(ctx context.Context, id string) (*entity.Batch, error) {
	return s.batchRepo.FindByID(ctx, id)
}

// GetByNumber 根据批次号获取批次
func (s *BatchService) GetByNumber(ctx context.Context, number string) (*entity.Batch, error) {
	return s.batchRepo.FindByNumber(ctx, number)
}

// List 获取批次列表
func (s *BatchService) List(ctx context.Context, params repository.BatchListParams) ([]entity.Batch, int64, error) {
	return s.batchRepo.List(ctx, params)
}

// ListEvents 获取批次事件流水
func (s *BatchService) ListEvents(ctx context.Context, batchID string) ([]entity.BatchEvent, error) {
	return s.batchRepo.ListEvents(ctx, batchID)
}

// Approve 质检通过：待质检 → 可用
func (s *BatchService) Approve(ctx context.Context, id, userID string) (*entity.Batch, error) {
	return s.transition(ctx, id, func(batch *entity.Batch) (map[string]interface{}, *entity.BatchEvent, error) {
		if !canTransition(batch.Status, entity.BatchStatusAvailable) {
			return nil, nil, ErrInvalidTransition
		}
		updates := map[string]interface{}{"status": entity.BatchStatusAvailable}
		event := &entity.BatchEvent{
			BatchID:   batch.ID,
			EventType: entity.EventTypeApproved,
			CreatedBy: userID,
		}
		return updates, event, nil
	})
}

// Reject 质检不合格：待质检 → 报废
func (s *BatchService) Reject(ctx context.Context, id, reason, userID string) (*entity.Batch, error) {
	return s.transition(ctx, id, func(batch *entity.Batch) (map[string]interface{}, *entity.BatchEvent, error) {
		if batch.Status != entity.BatchStatusQualityPending {
			return nil, nil, ErrInvalidTransition
		}
		updates := map[string]interface{}{
			"status":        entity.BatchStatusScrapped,
			"remaining_qty": 0,
		}
		event := &entity.BatchEvent{
			BatchID:   batch.ID,
			EventType: entity.EventTypeRejected,
			Quantity:  batch.RemainingQty,
			Reason:    reason,
			CreatedBy: userID,
		}
		return updates, event, nil
	})
}

// Consume 生产消耗
//
// 只允许从可用状态消耗；剩余数量耗尽时批次转为已消耗终态，
// 不留零数量的可用批次。
func (s *BatchService) Consume(ctx context.Context, id string, qty float64, userID string) (*entity.Batch, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("消耗数量必须大于0")
	}
	return s.transition(ctx, id, func(batch *entity.Batch) (map[string]interface{}, *entity.BatchEvent, error) {
		if batch.Status != entity.BatchStatusAvailable {
			return nil, nil, ErrInvalidTransition
		}
		if qty > batch.RemainingQty {
			return nil, nil, ErrInsufficientQuantity
		}
		remaining := batch.RemainingQty - qty
		updates := map[string]interface{}{"remaining_qty": remaining}
		if remaining == 0 {
			updates["status"] = entity.BatchStatusConsumed
		}
		event := &entity.BatchEvent{
			BatchID:   batch.ID,
			EventType: entity.EventTypeConsumed,
			Quantity:  qty,
			CreatedBy: userID,
		}
		return updates, event, nil
	})
}

// Scrap 报废
func (s *BatchService) Scrap(ctx context.Context, id string, qty float64, reason, userID string) (*entity.Batch, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("报废数量必须大于0")
	}
	return s.transition(ctx, id, func(batch *entity.Batch) (map[string]interface{}, *entity.BatchEvent, error) {
		if batch.Status != entity.BatchStatusAvailable {
			return nil, nil, ErrInvalidTransition
		}
		if qty > batch.RemainingQty {
			return nil, nil, ErrInsufficientQuantity
		}
		remaining := batch.RemainingQty - qty
		updates := map[string]interface{}{"remaining_qty": remaining}
		if remaining == 0 {
			updates["status"] = entity.BatchStatusScrapped
		}
		event := &entity.BatchEvent{
			BatchID:   batch.ID,
			EventType: entity.EventTypeScrapped,
			Quantity:  qty,
			Reason:    reason,
			CreatedBy: userID,
		}
		return updates, event, nil
	})
}

// transition 带乐观锁重试的生命周期操作骨架
//
// 校验在decide里基于最新读取的状态做，版本冲突说明有并发操作，
// 重读后重试；校验失败直接返回且不产生任何写入。
func (s *BatchService) transition(ctx context.Context, id string, decide func(*entity.Batch) (map[string]interface{}, *entity.BatchEvent, error)) (*entity.Batch, error) {
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		batch, err := s.batchRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		updates, event, err := decide(batch)
		if err != nil {
			return nil, err
		}

		err = s.batchRepo.UpdateVersionedWithEvent(ctx, batch.ID, batch.Version, updates, event)
		if err == nil {
			return s.batchRepo.FindByID(ctx, id)
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("更新批次失败: %w", err)
		}
		s.logger.Debug("批次版本冲突，重试",
			zap.String("batch_id", id),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, ErrConcurrentModification
}

// ============================================================
// 导出
// ============================================================

var batchExportHeaders = []string{
	"批次号", "物料", "状态", "初始数量", "剩余数量", "单位", "创建人", "创建时间",
}

// Export 导出批次台账
func (s *BatchService) Export(ctx context.Context, params repository.BatchListParams) (*excelize.File, error) {
	params.Page = 1
	params.Size = 10000
	batches, _, err := s.batchRepo.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("读取批次列表失败: %w", err)
	}

	f := excelize.NewFile()
	sheet := "批次台账"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	for i, h := range batchExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for rowIdx, b := range batches {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), b.BatchNumber)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), b.MaterialRef)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), b.Status)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), b.Quantity)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), b.RemainingQty)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), b.Unit)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), b.CreatedBy)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), b.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	colWidths := []float64{24, 16, 14, 12, 12, 8, 14, 20}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
	return f, nil
}
