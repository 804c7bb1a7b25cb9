package entity

import (
	"time"
)

// HoldEntityType 可挂起的实体类型
const (
	HoldEntityBatch     = "BATCH"
	HoldEntityOrder     = "ORDER"
	HoldEntityOrderLine = "ORDER_LINE"
	HoldEntityOperation = "OPERATION"
	HoldEntityProcess   = "PROCESS"
	HoldEntityInventory = "INVENTORY"
	HoldEntityEquipment = "EQUIPMENT"
)

// ValidHoldEntityType 校验实体类型取值
func ValidHoldEntityType(t string) bool {
	switch t {
	case HoldEntityBatch, HoldEntityOrder, HoldEntityOrderLine,
		HoldEntityOperation, HoldEntityProcess, HoldEntityInventory, HoldEntityEquipment:
		return true
	}
	return false
}

// HoldStatus 挂起单状态
const (
	HoldStatusActive   = "ACTIVE"
	HoldStatusReleased = "RELEASED"
)

// Hold 挂起单
//
// 独立于目标实体自身的状态字段，同一实体可同时存在多条ACTIVE挂起。
type Hold struct {
	ID              string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EntityType      string     `json:"entity_type" gorm:"size:20;not null;index:idx_hold_entity"`
	EntityID        string     `json:"entity_id" gorm:"size:64;not null;index:idx_hold_entity"`
	ReasonID        string     `json:"reason_id" gorm:"type:uuid;not null"`
	Comments        string     `json:"comments" gorm:"type:text"`
	Status          string     `json:"status" gorm:"size:16;not null;default:ACTIVE"`
	AppliedBy       string     `json:"applied_by" gorm:"size:64;not null"`
	AppliedAt       time.Time  `json:"applied_at" gorm:"autoCreateTime"`
	ReleasedBy      string     `json:"released_by" gorm:"size:64"`
	ReleasedAt      *time.Time `json:"released_at"`
	ReleaseComments string     `json:"release_comments" gorm:"type:text"`

	Reason *HoldReason `json:"reason,omitempty" gorm:"foreignKey:ReasonID"`
}

func (Hold) TableName() string {
	return "mes_holds"
}

// HoldReason 挂起原因（基础数据）
type HoldReason struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Code        string    `json:"code" gorm:"size:32;not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"size:64;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Active      bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (HoldReason) TableName() string {
	return "mes_hold_reasons"
}
