package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// BatchRepository 批次仓储
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create 创建批次
func (r *BatchRepository) Create(ctx context.Context, batch *entity.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// CreateWithEvent 创建批次并记录事件（同一事务）
func (r *BatchRepository) CreateWithEvent(ctx context.Context, batch *entity.Batch, event *entity.BatchEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		event.BatchID = batch.ID
		return tx.Create(event).Error
	})
}

// FindByID 根据ID查找批次
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*entity.Batch, error) {
	var batch entity.Batch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// FindByNumber 根据批次号查找批次
func (r *BatchRepository) FindByNumber(ctx context.Context, number string) (*entity.Batch, error) {
	var batch entity.Batch
	err := r.db.WithContext(ctx).Where("batch_number = ?", number).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// BatchListParams 批次列表查询参数
type BatchListParams struct {
	Status      string
	MaterialRef string
	Keyword     string
	Page        int
	Size        int
}

// List 获取批次列表
func (r *BatchRepository) List(ctx context.Context, params BatchListParams) ([]entity.Batch, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Batch{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.MaterialRef != "" {
		query = query.Where("material_ref = ?", params.MaterialRef)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("batch_number ILIKE ? OR material_ref ILIKE ?", kw, kw)
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
	var batches []entity.Batch
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).
		Limit(params.Size).
		Find(&batches).Error
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// FindByIDs 批量查找批次
func (r *BatchRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.Batch, error) {
	var batches []entity.Batch
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// UpdateVersioned 带乐观锁更新批次
//
// WHERE带上期望版本，未命中说明并发修改，返回ErrVersionConflict，
// 调用方重新读取后重试。
func (r *BatchRepository) UpdateVersioned(ctx context.Context, id string, version int, updates map[string]interface{}) error {
	return r.updateVersioned(r.db.WithContext(ctx), id, version, updates)
}

func (r *BatchRepository) updateVersioned(tx *gorm.DB, id string, version int, updates map[string]interface{}) error {
	updates["version"] = version + 1
	updates["updated_at"] = time.Now()
	result := tx.Model(&entity.Batch{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateVersionedWithEvent 带乐观锁更新批次并记录事件（同一事务）
func (r *BatchRepository) UpdateVersionedWithEvent(ctx context.Context, id string, version int, updates map[string]interface{}, event *entity.BatchEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.updateVersioned(tx, id, version, updates); err != nil {
			return err
		}
		return tx.Create(event).Error
	})
}

// CreateEvent 记录批次事件
func (r *BatchRepository) CreateEvent(ctx context.Context, event *entity.BatchEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListEvents 获取批次事件流水
func (r *BatchRepository) ListEvents(ctx context.Context, batchID string) ([]entity.BatchEvent, error) {
	var events []entity.BatchEvent
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// DB 返回底层db用于事务
func (r *BatchRepository) DB() *gorm.DB {
	return r.db
}
