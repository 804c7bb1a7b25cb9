package entity

import (
	"time"
)

// BatchStatus 批次状态
const (
	BatchStatusQualityPending = "QUALITY_PENDING" // 待质检
	BatchStatusAvailable      = "AVAILABLE"       // 可用
	BatchStatusConsumed       = "CONSUMED"        // 已消耗
	BatchStatusSplit          = "SPLIT"           // 已拆分
	BatchStatusMerged         = "MERGED"          // 已合并
	BatchStatusScrapped       = "SCRAPPED"        // 已报废
)

// Batch 生产批次
//
// 批次号由编号规则生成，全局唯一。Quantity为初始数量，RemainingQty只能
// 通过消耗/报废/拆分/合并操作变化。Version用于乐观锁。
type Batch struct {
	ID           string  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BatchNumber  string  `json:"batch_number" gorm:"size:64;not null;uniqueIndex"`
	MaterialRef  string  `json:"material_ref" gorm:"size:64;not null;index"`
	Quantity     float64 `json:"quantity" gorm:"type:decimal(12,4);not null"`
	RemainingQty float64 `json:"remaining_qty" gorm:"type:decimal(12,4);not null"`
	Unit         string  `json:"unit" gorm:"size:20;not null;default:pcs"`
	Status       string  `json:"status" gorm:"size:20;not null;default:QUALITY_PENDING"`

	OperationType string `json:"operation_type" gorm:"size:32"`
	EquipmentType string `json:"equipment_type" gorm:"size:32"`
	RuleID        string `json:"rule_id" gorm:"type:uuid"`

	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedBy string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Batch) TableName() string {
	return "mes_batches"
}

// BatchEventType 批次事件类型
const (
	EventTypeCreated  = "CREATED"
	EventTypeApproved = "APPROVED"
	EventTypeRejected = "REJECTED"
	EventTypeConsumed = "CONSUMED"
	EventTypeScrapped = "SCRAPPED"
	EventTypeSplit    = "SPLIT"
	EventTypeMerged   = "MERGED"
)

// BatchEvent 批次事件流水
//
// 每次生命周期操作记一条，追溯调查时按时间重放。
type BatchEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BatchID   string    `json:"batch_id" gorm:"type:uuid;not null;index"`
	EventType string    `json:"event_type" gorm:"size:20;not null"`
	Quantity  float64   `json:"quantity" gorm:"type:decimal(12,4);default:0"`
	Reason    string    `json:"reason" gorm:"size:256"`
	Notes     string    `json:"notes" gorm:"type:text"`
	CreatedBy string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (BatchEvent) TableName() string {
	return "mes_batch_events"
}
