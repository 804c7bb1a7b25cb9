package entity

import (
	"time"
)

// EdgeType 谱系边类型
const (
	EdgeTypeSplit = "SPLIT" // 拆分：父批次 → 子批次
	EdgeTypeMerge = "MERGE" // 合并：源批次 → 合并批次
)

// GenealogyEdge 批次谱系边
//
// 所有边构成的有向图必须无环：任何批次不能成为自己的祖先。
type GenealogyEdge struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ParentBatchID string    `json:"parent_batch_id" gorm:"type:uuid;not null;index"`
	ChildBatchID  string    `json:"child_batch_id" gorm:"type:uuid;not null;index"`
	Quantity      float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`
	EdgeType      string    `json:"edge_type" gorm:"size:10;not null"`
	CreatedAt     time.Time `json:"created_at"`

	Parent *Batch `json:"parent,omitempty" gorm:"foreignKey:ParentBatchID"`
	Child  *Batch `json:"child,omitempty" gorm:"foreignKey:ChildBatchID"`
}

func (GenealogyEdge) TableName() string {
	return "mes_genealogy_edges"
}
