package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// GenealogyRepository 批次谱系仓储
type GenealogyRepository struct {
	db *gorm.DB
}

func NewGenealogyRepository(db *gorm.DB) *GenealogyRepository {
	return &GenealogyRepository{db: db}
}

// ListByParent 获取以指定批次为父节点的边
func (r *GenealogyRepository) ListByParent(ctx context.Context, parentBatchID string) ([]entity.GenealogyEdge, error) {
	var edges []entity.GenealogyEdge
	err := r.db.WithContext(ctx).
		Where("parent_batch_id = ?", parentBatchID).
		Order("created_at ASC").
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ListByChild 获取以指定批次为子节点的边
func (r *GenealogyRepository) ListByChild(ctx context.Context, childBatchID string) ([]entity.GenealogyEdge, error) {
	var edges []entity.GenealogyEdge
	err := r.db.WithContext(ctx).
		Where("child_batch_id = ?", childBatchID).
		Order("created_at ASC").
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ListByParents 批量获取以指定批次集合为父节点的边（BFS展开用）
func (r *GenealogyRepository) ListByParents(ctx context.Context, parentBatchIDs []string) ([]entity.GenealogyEdge, error) {
	var edges []entity.GenealogyEdge
	err := r.db.WithContext(ctx).
		Where("parent_batch_id IN ?", parentBatchIDs).
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ListByChildren 批量获取以指定批次集合为子节点的边
func (r *GenealogyRepository) ListByChildren(ctx context.Context, childBatchIDs []string) ([]entity.GenealogyEdge, error) {
	var edges []entity.GenealogyEdge
	err := r.db.WithContext(ctx).
		Where("child_batch_id IN ?", childBatchIDs).
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// CreateSplit 拆分落库
//
// 一个事务内：父批次带乐观锁置为SPLIT、创建全部子批次、谱系边和事件。
// 任一步失败整体回滚，不会出现只建了部分子批次的中间态。
func (r *GenealogyRepository) CreateSplit(ctx context.Context, parent *entity.Batch, children []*entity.Batch, edges []*entity.GenealogyEdge, events []*entity.BatchEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.Batch{}).
			Where("id = ? AND version = ?", parent.ID, parent.Version).
			Updates(map[string]interface{}{
				"status":        entity.BatchStatusSplit,
				"remaining_qty": 0,
				"version":       parent.Version + 1,
				"updated_at":    time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		for _, child := range children {
			if err := tx.Create(child).Error; err != nil {
				return err
			}
		}
		for _, edge := range edges {
			if err := tx.Create(edge).Error; err != nil {
				return err
			}
		}
		for _, event := range events {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateMerge 合并落库
//
// 一个事务内：每个源批次带乐观锁置为MERGED、创建合并批次、谱系边和事件。
func (r *GenealogyRepository) CreateMerge(ctx context.Context, sources []entity.Batch, merged *entity.Batch, edges []*entity.GenealogyEdge, events []*entity.BatchEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, src := range sources {
			result := tx.Model(&entity.Batch{}).
				Where("id = ? AND version = ?", src.ID, src.Version).
				Updates(map[string]interface{}{
					"status":        entity.BatchStatusMerged,
					"remaining_qty": 0,
					"version":       src.Version + 1,
					"updated_at":    time.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrVersionConflict
			}
		}

		if err := tx.Create(merged).Error; err != nil {
			return err
		}
		for _, edge := range edges {
			if err := tx.Create(edge).Error; err != nil {
				return err
			}
		}
		for _, event := range events {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
