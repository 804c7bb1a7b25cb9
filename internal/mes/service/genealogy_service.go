package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GenealogyService 批次谱系服务：拆分、合并与追溯查询
type GenealogyService struct {
	batchRepo     *repository.BatchRepository
	genealogyRepo *repository.GenealogyRepository
	numbering     *NumberingService
	logger        *zap.Logger
}

func NewGenealogyService(batchRepo *repository.BatchRepository, genealogyRepo *repository.GenealogyRepository, numbering *NumberingService, logger *zap.Logger) *GenealogyService {
	return &GenealogyService{
		batchRepo:     batchRepo,
		genealogyRepo: genealogyRepo,
		numbering:     numbering,
		logger:        logger,
	}
}

// SplitPortion 拆分份额
type SplitPortion struct {
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
}

// Split 拆分批次
//
// 份额之和不能超过父批次剩余数量，差额视为拆分损耗记入事件。
// 子批次走完整发号流程，继承父批次的物料和上下文，直接进入可用状态。
// 整个拆分是一个事务，父批次置SPLIT与子批次创建同时生效。
func (s *GenealogyService) Split(ctx context.Context, batchID string, portions []SplitPortion, userID string) ([]entity.Batch, error) {
	if len(portions) == 0 {
		return nil, fmt.Errorf("拆分份额不能为空")
	}
	var total float64
	for _, p := range portions {
		if p.Quantity <= 0 {
			return nil, fmt.Errorf("拆分份额必须大于0")
		}
		total += p.Quantity
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		parent, err := s.batchRepo.FindByID(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if parent.Status != entity.BatchStatusAvailable {
			return nil, ErrInvalidTransition
		}
		if total > parent.RemainingQty {
			return nil, ErrQuantityConservation
		}
		loss := parent.RemainingQty - total

		rctx := ResolveContext{
			OperationType: parent.OperationType,
			ProductSKU:    parent.MaterialRef,
			EquipmentType: parent.EquipmentType,
		}
		now := time.Now()

		children := make([]*entity.Batch, 0, len(portions))
		edges := make([]*entity.GenealogyEdge, 0, len(portions))
		events := make([]*entity.BatchEvent, 0, len(portions)+1)
		for _, p := range portions {
			rule, number, err := s.numbering.NextNumber(ctx, rctx, now)
			if err != nil {
				return nil, err
			}
			child := &entity.Batch{
				ID:            uuid.New().String(),
				BatchNumber:   number,
				MaterialRef:   parent.MaterialRef,
				Quantity:      p.Quantity,
				RemainingQty:  p.Quantity,
				Unit:          parent.Unit,
				Status:        entity.BatchStatusAvailable,
				OperationType: parent.OperationType,
				EquipmentType: parent.EquipmentType,
				RuleID:        rule.ID,
				Version:       1,
				CreatedBy:     userID,
			}
			if err := s.ensureNoCycle(ctx, parent.ID, child.ID); err != nil {
				return nil, err
			}
			children = append(children, child)
			edges = append(edges, &entity.GenealogyEdge{
				ParentBatchID: parent.ID,
				ChildBatchID:  child.ID,
				Quantity:      p.Quantity,
				EdgeType:      entity.EdgeTypeSplit,
			})
			events = append(events, &entity.BatchEvent{
				BatchID:   child.ID,
				EventType: entity.EventTypeCreated,
				Quantity:  p.Quantity,
				Notes:     fmt.Sprintf("由批次 %s 拆分", parent.BatchNumber),
				CreatedBy: userID,
			})
		}
		splitEvent := &entity.BatchEvent{
			BatchID:   parent.ID,
			EventType: entity.EventTypeSplit,
			Quantity:  total,
			CreatedBy: userID,
		}
		if loss > 0 {
			splitEvent.Notes = fmt.Sprintf("拆分损耗 %.4f %s", loss, parent.Unit)
		}
		events = append(events, splitEvent)

		err = s.genealogyRepo.CreateSplit(ctx, parent, children, edges, events)
		if err == nil {
			s.logger.Info("批次已拆分",
				zap.String("parent_batch", parent.BatchNumber),
				zap.Int("children", len(children)),
				zap.Float64("loss", loss),
			)
			result := make([]entity.Batch, 0, len(children))
			for _, c := range children {
				result = append(result, *c)
			}
			return result, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("拆分批次失败: %w", err)
		}
	}
	return nil, ErrConcurrentModification
}

// Merge 合并批次
//
// 所有源批次必须可用且物料、单位一致；合并批次数量为源批次剩余数量之和。
// 整个合并是一个事务，源批次置MERGED与合并批次创建同时生效。
func (s *GenealogyService) Merge(ctx context.Context, batchIDs []string, userID string) (*entity.Batch, error) {
	if len(batchIDs) < 2 {
		return nil, fmt.Errorf("合并至少需要2个批次")
	}
	seen := make(map[string]bool, len(batchIDs))
	for _, id := range batchIDs {
		if seen[id] {
			return nil, fmt.Errorf("合并批次重复: %s", id)
		}
		seen[id] = true
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		sources, err := s.batchRepo.FindByIDs(ctx, batchIDs)
		if err != nil {
			return nil, err
		}
		if len(sources) != len(batchIDs) {
			return nil, repository.ErrNotFound
		}

		var total float64
		for i := range sources {
			if sources[i].Status != entity.BatchStatusAvailable {
				return nil, ErrInvalidTransition
			}
			if sources[i].MaterialRef != sources[0].MaterialRef || sources[i].Unit != sources[0].Unit {
				return nil, ErrIncompatibleMaterial
			}
			total += sources[i].RemainingQty
		}
		if total <= 0 {
			return nil, ErrQuantityConservation
		}

		rctx := ResolveContext{
			OperationType: sources[0].OperationType,
			ProductSKU:    sources[0].MaterialRef,
			EquipmentType: sources[0].EquipmentType,
		}
		now := time.Now()
		rule, number, err := s.numbering.NextNumber(ctx, rctx, now)
		if err != nil {
			return nil, err
		}

		merged := &entity.Batch{
			ID:            uuid.New().String(),
			BatchNumber:   number,
			MaterialRef:   sources[0].MaterialRef,
			Quantity:      total,
			RemainingQty:  total,
			Unit:          sources[0].Unit,
			Status:        entity.BatchStatusAvailable,
			OperationType: sources[0].OperationType,
			EquipmentType: sources[0].EquipmentType,
			RuleID:        rule.ID,
			Version:       1,
			CreatedBy:     userID,
		}

		edges := make([]*entity.GenealogyEdge, 0, len(sources))
		events := make([]*entity.BatchEvent, 0, len(sources)+1)
		for i := range sources {
			if err := s.ensureNoCycle(ctx, sources[i].ID, merged.ID); err != nil {
				return nil, err
			}
			edges = append(edges, &entity.GenealogyEdge{
				ParentBatchID: sources[i].ID,
				ChildBatchID:  merged.ID,
				Quantity:      sources[i].RemainingQty,
				EdgeType:      entity.EdgeTypeMerge,
			})
			events = append(events, &entity.BatchEvent{
				BatchID:   sources[i].ID,
				EventType: entity.EventTypeMerged,
				Quantity:  sources[i].RemainingQty,
				Notes:     fmt.Sprintf("合并至批次 %s", merged.BatchNumber),
				CreatedBy: userID,
			})
		}
		events = append(events, &entity.BatchEvent{
			BatchID:   merged.ID,
			EventType: entity.EventTypeCreated,
			Quantity:  total,
			Notes:     fmt.Sprintf("由 %d 个批次合并", len(sources)),
			CreatedBy: userID,
		})

		err = s.genealogyRepo.CreateMerge(ctx, sources, merged, edges, events)
		if err == nil {
			s.logger.Info("批次已合并",
				zap.String("merged_batch", merged.BatchNumber),
				zap.Int("sources", len(sources)),
				zap.Float64("quantity", total),
			)
			return merged, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("合并批次失败: %w", err)
		}
	}
	return nil, ErrConcurrentModification
}

// ensureNoCycle 防环检查
//
// 拆分/合并的子批次都是新建的，按定义不会成环；这里防御性地校验
// 子节点不是父节点的祖先，避免将来新增边类型时破坏无环不变量。
func (s *GenealogyService) ensureNoCycle(ctx context.Context, parentID, childID string) error {
	if parentID == childID {
		return ErrCycleDetected
	}
	ancestorIDs, err := s.collectAncestorIDs(ctx, parentID)
	if err != nil {
		return err
	}
	if ancestorIDs[childID] {
		return ErrCycleDetected
	}
	return nil
}

// collectAncestorIDs BFS向上收集祖先集合
func (s *GenealogyService) collectAncestorIDs(ctx context.Context, batchID string) (map[string]bool, error) {
	visited := map[string]bool{}
	frontier := []string{batchID}
	for len(frontier) > 0 {
		edges, err := s.genealogyRepo.ListByChildren(ctx, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(edges))
		for _, e := range edges {
			if !visited[e.ParentBatchID] {
				visited[e.ParentBatchID] = true
				next = append(next, e.ParentBatchID)
			}
		}
		frontier = next
	}
	return visited, nil
}

// collectDescendantIDs BFS向下收集后代集合
func (s *GenealogyService) collectDescendantIDs(ctx context.Context, batchID string) (map[string]bool, error) {
	visited := map[string]bool{}
	frontier := []string{batchID}
	for len(frontier) > 0 {
		edges, err := s.genealogyRepo.ListByParents(ctx, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(edges))
		for _, e := range edges {
			if !visited[e.ChildBatchID] {
				visited[e.ChildBatchID] = true
				next = append(next, e.ChildBatchID)
			}
		}
		frontier = next
	}
	return visited, nil
}

// Ancestors 追溯批次的所有祖先（召回调查：向上找原料来源）
func (s *GenealogyService) Ancestors(ctx context.Context, batchID string) ([]entity.Batch, error) {
	if _, err := s.batchRepo.FindByID(ctx, batchID); err != nil {
		return nil, err
	}
	ids, err := s.collectAncestorIDs(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.batchesByIDSet(ctx, ids)
}

// Descendants 追溯批次的所有后代（召回调查：向下找受影响产出）
func (s *GenealogyService) Descendants(ctx context.Context, batchID string) ([]entity.Batch, error) {
	if _, err := s.batchRepo.FindByID(ctx, batchID); err != nil {
		return nil, err
	}
	ids, err := s.collectDescendantIDs(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.batchesByIDSet(ctx, ids)
}

// Edges 获取批次的直接谱系边（父向+子向），谱系图渲染用
func (s *GenealogyService) Edges(ctx context.Context, batchID string) (parents, children []entity.GenealogyEdge, err error) {
	parents, err = s.genealogyRepo.ListByChild(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	children, err = s.genealogyRepo.ListByParent(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return parents, children, nil
}

func (s *GenealogyService) batchesByIDSet(ctx context.Context, idSet map[string]bool) ([]entity.Batch, error) {
	if len(idSet) == 0 {
		return []entity.Batch{}, nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	return s.batchRepo.FindByIDs(ctx, ids)
}
