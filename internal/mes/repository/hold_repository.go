package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// HoldRepository 挂起单仓储
type HoldRepository struct {
	db *gorm.DB
}

func NewHoldRepository(db *gorm.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// Create 创建挂起单
func (r *HoldRepository) Create(ctx context.Context, hold *entity.Hold) error {
	return r.db.WithContext(ctx).Create(hold).Error
}

// FindByID 根据ID查找挂起单
func (r *HoldRepository) FindByID(ctx context.Context, id string) (*entity.Hold, error) {
	var hold entity.Hold
	err := r.db.WithContext(ctx).Preload("Reason").Where("id = ?", id).First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &hold, nil
}

// Release 释放挂起单
//
// WHERE带上ACTIVE状态，重复释放或释放已释放的单不会命中，
// 返回ErrVersionConflict由上层区分处理。
func (r *HoldRepository) Release(ctx context.Context, id, releasedBy, comments string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&entity.Hold{}).
		Where("id = ? AND status = ?", id, entity.HoldStatusActive).
		Updates(map[string]interface{}{
			"status":           entity.HoldStatusReleased,
			"released_by":      releasedBy,
			"released_at":      now,
			"release_comments": comments,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CountActive 统计实体的ACTIVE挂起数量
func (r *HoldRepository) CountActive(ctx context.Context, entityType, entityID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Hold{}).
		Where("entity_type = ? AND entity_id = ? AND status = ?", entityType, entityID, entity.HoldStatusActive).
		Count(&count).Error
	return count, err
}

// ListByEntity 获取实体的挂起单列表
func (r *HoldRepository) ListByEntity(ctx context.Context, entityType, entityID string, activeOnly bool) ([]entity.Hold, error) {
	query := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)
	if activeOnly {
		query = query.Where("status = ?", entity.HoldStatusActive)
	}
	var holds []entity.Hold
	err := query.Preload("Reason").Order("applied_at DESC").Find(&holds).Error
	if err != nil {
		return nil, err
	}
	return holds, nil
}

// ============================================================
// 挂起原因（基础数据）
// ============================================================

// CreateReason 创建挂起原因
func (r *HoldRepository) CreateReason(ctx context.Context, reason *entity.HoldReason) error {
	return r.db.WithContext(ctx).Create(reason).Error
}

// FindReasonByID 根据ID查找挂起原因
func (r *HoldRepository) FindReasonByID(ctx context.Context, id string) (*entity.HoldReason, error) {
	var reason entity.HoldReason
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reason).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reason, nil
}

// ListReasons 获取挂起原因列表
func (r *HoldRepository) ListReasons(ctx context.Context, activeOnly bool) ([]entity.HoldReason, error) {
	query := r.db.WithContext(ctx).Model(&entity.HoldReason{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var reasons []entity.HoldReason
	err := query.Order("code ASC").Find(&reasons).Error
	if err != nil {
		return nil, err
	}
	return reasons, nil
}
