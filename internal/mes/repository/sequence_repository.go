package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// SequenceRepository 序列号计数器仓储
type SequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// AllocateNext 原子取号
//
// 单条语句完成"不存在则从1开始，存在则+1"，并发调用由数据库行锁串行化，
// 同一窗口内不会重号。取号后下游失败产生的空号不回收。
func (r *SequenceRepository) AllocateNext(ctx context.Context, ruleID, windowKey string) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO mes_sequence_counters (rule_id, window_key, current_value, created_at, updated_at)
		VALUES (?, ?, 1, now(), now())
		ON CONFLICT (rule_id, window_key)
		DO UPDATE SET current_value = mes_sequence_counters.current_value + 1, updated_at = now()
		RETURNING current_value
	`, ruleID, windowKey).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

// PeekNext 查看下一个号，不消耗
func (r *SequenceRepository) PeekNext(ctx context.Context, ruleID, windowKey string) (int64, error) {
	var counter entity.SequenceCounter
	err := r.db.WithContext(ctx).
		Where("rule_id = ? AND window_key = ?", ruleID, windowKey).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 1, nil
		}
		return 0, err
	}
	return counter.CurrentValue + 1, nil
}

// ListWindows 获取规则的历史窗口计数器（审计用）
func (r *SequenceRepository) ListWindows(ctx context.Context, ruleID string) ([]entity.SequenceCounter, error) {
	var counters []entity.SequenceCounter
	err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("window_key DESC").
		Find(&counters).Error
	if err != nil {
		return nil, err
	}
	return counters, nil
}
