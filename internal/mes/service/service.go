package service

import (
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 业务错误。解析/校验类错误在任何写入前检出，不留半状态；
// 并发冲突由调用编排有限次重试后才向外暴露。
var (
	// ErrNoApplicableRule 没有匹配的编号规则（含兜底规则缺失），需管理员配置
	ErrNoApplicableRule = errors.New("没有适用的批次号规则")
	// ErrSequenceOverflow 序列号超出规则配置的位数，拒绝发号而不是静默截断
	ErrSequenceOverflow = errors.New("序列号超出规则位数上限")
	// ErrInvalidRuleTemplate 编号规则模板不合法
	ErrInvalidRuleTemplate = errors.New("无效的编号规则模板")
	// ErrInvalidTransition 当前状态不允许该生命周期操作
	ErrInvalidTransition = errors.New("批次状态不允许该操作")
	// ErrQuantityConservation 拆分/合并数量不守恒
	ErrQuantityConservation = errors.New("数量不守恒")
	// ErrInsufficientQuantity 剩余数量不足
	ErrInsufficientQuantity = errors.New("批次剩余数量不足")
	// ErrIncompatibleMaterial 合并的批次物料不一致
	ErrIncompatibleMaterial = errors.New("批次物料不一致，不能合并")
	// ErrConcurrentModification 乐观锁冲突且重试耗尽，调用方应重读后重试
	ErrConcurrentModification = errors.New("批次被并发修改，请重试")
	// ErrHoldNotActive 挂起单不是ACTIVE状态
	ErrHoldNotActive = errors.New("挂起单不是激活状态")
	// ErrCycleDetected 谱系操作会引入环
	ErrCycleDetected = errors.New("谱系中检测到环")
)

// Services MES 服务集合
type Services struct {
	Numbering *NumberingService
	Batch     *BatchService
	Genealogy *GenealogyService
	Hold      *HoldService
}

func NewServices(repos *repository.Repositories, rdb *redis.Client, logger *zap.Logger) *Services {
	numbering := NewNumberingService(repos.Rule, repos.Sequence, rdb, logger)
	batch := NewBatchService(repos.Batch, numbering, logger)
	return &Services{
		Numbering: numbering,
		Batch:     batch,
		Genealogy: NewGenealogyService(repos.Batch, repos.Genealogy, numbering, logger),
		Hold:      NewHoldService(repos.Hold, repos.Batch, logger),
	}
}
