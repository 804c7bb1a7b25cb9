package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
)

// HoldService 挂起服务
//
// 挂起是独立于实体自身状态的叠加限制：申请/释放从不读写实体的
// 状态字段，可用性判定时才把两者合在一起看。
type HoldService struct {
	holdRepo  *repository.HoldRepository
	batchRepo *repository.BatchRepository
	logger    *zap.Logger
}

func NewHoldService(holdRepo *repository.HoldRepository, batchRepo *repository.BatchRepository, logger *zap.Logger) *HoldService {
	return &HoldService{holdRepo: holdRepo, batchRepo: batchRepo, logger: logger}
}

type ApplyHoldRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
	ReasonID   string `json:"reason_id" binding:"required"`
	Comments   string `json:"comments"`
}

// Apply 申请挂起
//
// 同一实体允许多条ACTIVE挂起并存，互相独立。
func (s *HoldService) Apply(ctx context.Context, req ApplyHoldRequest, userID string) (*entity.Hold, error) {
	if !entity.ValidHoldEntityType(req.EntityType) {
		return nil, fmt.Errorf("无效的实体类型: %s", req.EntityType)
	}
	reason, err := s.holdRepo.FindReasonByID(ctx, req.ReasonID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("挂起原因不存在")
		}
		return nil, err
	}
	if !reason.Active {
		return nil, fmt.Errorf("挂起原因已停用: %s", reason.Code)
	}
	if req.EntityType == entity.HoldEntityBatch {
		if _, err := s.batchRepo.FindByID(ctx, req.EntityID); err != nil {
			return nil, err
		}
	}

	hold := &entity.Hold{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ReasonID:   req.ReasonID,
		Comments:   req.Comments,
		Status:     entity.HoldStatusActive,
		AppliedBy:  userID,
	}
	if err := s.holdRepo.Create(ctx, hold); err != nil {
		return nil, fmt.Errorf("创建挂起单失败: %w", err)
	}

	s.logger.Info("挂起已申请",
		zap.String("hold_id", hold.ID),
		zap.String("entity_type", hold.EntityType),
		zap.String("entity_id", hold.EntityID),
		zap.String("reason", reason.Code),
	)
	return hold, nil
}

// Release 释放挂起
//
// 只作用于ACTIVE挂起单，释放不会改动实体自身状态，也不影响
// 该实体上的其他挂起。
func (s *HoldService) Release(ctx context.Context, holdID, comments, userID string) (*entity.Hold, error) {
	err := s.holdRepo.Release(ctx, holdID, userID, comments)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			if _, findErr := s.holdRepo.FindByID(ctx, holdID); errors.Is(findErr, repository.ErrNotFound) {
				return nil, repository.ErrNotFound
			}
			return nil, ErrHoldNotActive
		}
		return nil, fmt.Errorf("释放挂起单失败: %w", err)
	}

	hold, err := s.holdRepo.FindByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("挂起已释放",
		zap.String("hold_id", hold.ID),
		zap.String("entity_type", hold.EntityType),
		zap.String("entity_id", hold.EntityID),
	)
	return hold, nil
}

// GetByID 获取挂起单详情
func (s *HoldService) GetByID(ctx context.Context, id string) (*entity.Hold, error) {
	return s.holdRepo.FindByID(ctx, id)
}

// ListByEntity 获取实体的挂起单列表
func (s *HoldService) ListByEntity(ctx context.Context, entityType, entityID string, activeOnly bool) ([]entity.Hold, error) {
	if !entity.ValidHoldEntityType(entityType) {
		return nil, fmt.Errorf("无效的实体类型: %s", entityType)
	}
	return s.holdRepo.ListByEntity(ctx, entityType, entityID, activeOnly)
}

// IsUsable 实体当前是否可用
//
// 可用 = 自身生命周期状态允许使用 且 没有ACTIVE挂起。
// 批次的可用状态集是{AVAILABLE}；其他实体类型的状态不归本引擎管，
// 只看挂起。
func (s *HoldService) IsUsable(ctx context.Context, entityType, entityID string) (bool, error) {
	if !entity.ValidHoldEntityType(entityType) {
		return false, fmt.Errorf("无效的实体类型: %s", entityType)
	}

	if entityType == entity.HoldEntityBatch {
		batch, err := s.batchRepo.FindByID(ctx, entityID)
		if err != nil {
			return false, err
		}
		if batch.Status != entity.BatchStatusAvailable {
			return false, nil
		}
	}

	count, err := s.holdRepo.CountActive(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// ============================================================
// 挂起原因（基础数据）
// ============================================================

type CreateHoldReasonRequest struct {
	Code        string `json:"code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateReason 创建挂起原因
func (s *HoldService) CreateReason(ctx context.Context, req CreateHoldReasonRequest) (*entity.HoldReason, error) {
	reason := &entity.HoldReason{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Active:      true,
	}
	if err := s.holdRepo.CreateReason(ctx, reason); err != nil {
		return nil, fmt.Errorf("创建挂起原因失败: %w", err)
	}
	return reason, nil
}

// ListReasons 获取挂起原因列表
func (s *HoldService) ListReasons(ctx context.Context, activeOnly bool) ([]entity.HoldReason, error) {
	return s.holdRepo.ListReasons(ctx, activeOnly)
}
