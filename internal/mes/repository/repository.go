package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict 乐观锁冲突：期望版本的记录已被其他请求修改
var ErrVersionConflict = errors.New("version conflict")

// Repositories MES 仓储集合
type Repositories struct {
	Rule      *RuleRepository
	Sequence  *SequenceRepository
	Batch     *BatchRepository
	Genealogy *GenealogyRepository
	Hold      *HoldRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Rule:      NewRuleRepository(db),
		Sequence:  NewSequenceRepository(db),
		Batch:     NewBatchRepository(db),
		Genealogy: NewGenealogyRepository(db),
		Hold:      NewHoldRepository(db),
	}
}
