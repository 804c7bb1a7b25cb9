package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有MES表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 编号规则
		&BatchNumberRule{},
		&SequenceCounter{},

		// 批次
		&Batch{},
		&BatchEvent{},

		// 谱系
		&GenealogyEdge{},

		// 挂起
		&HoldReason{},
		&Hold{},
	)
}
