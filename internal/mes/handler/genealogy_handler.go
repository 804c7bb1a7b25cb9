package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// GenealogyHandler 批次谱系
type GenealogyHandler struct {
	svc *service.GenealogyService
}

func NewGenealogyHandler(svc *service.GenealogyService) *GenealogyHandler {
	return &GenealogyHandler{svc: svc}
}

func (h *GenealogyHandler) Split(c *gin.Context) {
	var req struct {
		Portions []service.SplitPortion `json:"portions" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	children, err := h.svc.Split(c.Request.Context(), c.Param("id"), req.Portions, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Created(c, gin.H{"children": children})
}

func (h *GenealogyHandler) Merge(c *gin.Context) {
	var req struct {
		BatchIDs []string `json:"batch_ids" binding:"required,min=2"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	merged, err := h.svc.Merge(c.Request.Context(), req.BatchIDs, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Created(c, merged)
}

// Ancestors 向上追溯原料来源
func (h *GenealogyHandler) Ancestors(c *gin.Context) {
	batches, err := h.svc.Ancestors(c.Request.Context(), c.Param("id"))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, gin.H{"items": batches})
}

// Descendants 向下追溯受影响产出
func (h *GenealogyHandler) Descendants(c *gin.Context) {
	batches, err := h.svc.Descendants(c.Request.Context(), c.Param("id"))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, gin.H{"items": batches})
}

// Edges 批次的直接谱系边，谱系图渲染用
func (h *GenealogyHandler) Edges(c *gin.Context) {
	parents, children, err := h.svc.Edges(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"parent_edges": parents, "child_edges": children})
}
