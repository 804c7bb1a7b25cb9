package entity

import (
	"time"
)

// ResetPolicy 序列号重置周期
const (
	ResetPolicyDaily   = "DAILY"   // 每日重置
	ResetPolicyMonthly = "MONTHLY" // 每月重置
	ResetPolicyNever   = "NEVER"   // 永不重置
)

// BatchNumberRule 批次号生成规则
//
// 范围字段(OperationType/ProductSKU/EquipmentType)为空表示通配。
// 范围字段创建后不可修改，只允许调整模板、优先级和启用状态。
type BatchNumberRule struct {
	ID            string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name          string `json:"name" gorm:"size:64;not null;uniqueIndex"`
	OperationType string `json:"operation_type" gorm:"size:32;index"`
	ProductSKU    string `json:"product_sku" gorm:"size:64;index"`
	EquipmentType string `json:"equipment_type" gorm:"size:32;index"`

	Prefix        string `json:"prefix" gorm:"size:16;not null"`
	Separator     string `json:"separator" gorm:"size:4;not null;default:-"`
	IncludeOpCode bool   `json:"include_op_code" gorm:"not null;default:false"`
	OpCodeLength  int    `json:"op_code_length" gorm:"not null;default:3"`
	IncludeDate   bool   `json:"include_date" gorm:"not null;default:true"`
	DateFormat    string `json:"date_format" gorm:"size:16;not null;default:yyyyMMdd"`
	SeqLength     int    `json:"seq_length" gorm:"not null;default:4"`
	ResetPolicy   string `json:"reset_policy" gorm:"size:16;not null;default:DAILY"`

	Priority  int       `json:"priority" gorm:"not null;default:0"`
	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedBy string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BatchNumberRule) TableName() string {
	return "mes_batch_number_rules"
}

// Specificity 返回非空范围字段数量，越多越具体
func (r *BatchNumberRule) Specificity() int {
	n := 0
	if r.OperationType != "" {
		n++
	}
	if r.ProductSKU != "" {
		n++
	}
	if r.EquipmentType != "" {
		n++
	}
	return n
}

// IsDefault 是否为兜底规则（所有范围字段为空）
func (r *BatchNumberRule) IsDefault() bool {
	return r.Specificity() == 0
}

// SequenceCounter 序列号计数器
//
// 按(规则, 重置窗口)分区。历史窗口的计数器保留用于审计，从不删除。
type SequenceCounter struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	RuleID       string    `json:"rule_id" gorm:"type:uuid;not null;uniqueIndex:idx_seq_rule_window"`
	WindowKey    string    `json:"window_key" gorm:"size:16;not null;uniqueIndex:idx_seq_rule_window"`
	CurrentValue int64     `json:"current_value" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SequenceCounter) TableName() string {
	return "mes_sequence_counters"
}
