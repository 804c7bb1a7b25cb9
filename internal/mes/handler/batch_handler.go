package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// BatchHandler 批次生命周期
type BatchHandler struct {
	svc *service.BatchService
}

func NewBatchHandler(svc *service.BatchService) *BatchHandler {
	return &BatchHandler{svc: svc}
}

func (h *BatchHandler) Create(c *gin.Context) {
	var req service.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	batch, err := h.svc.Create(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Created(c, batch)
}

// PreviewNumber 预览下一个批次号，不消耗序列号
func (h *BatchHandler) PreviewNumber(c *gin.Context) {
	rctx := service.ResolveContext{
		OperationType: c.Query("operation_type"),
		ProductSKU:    c.Query("product_sku"),
		EquipmentType: c.Query("equipment_type"),
	}
	number, err := h.svc.PreviewNextNumber(c.Request.Context(), rctx)
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, gin.H{"batch_number": number})
}

func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, batch)
}

func (h *BatchHandler) GetByNumber(c *gin.Context) {
	batch, err := h.svc.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, batch)
}

func (h *BatchHandler) List(c *gin.Context) {
	page, size := GetPagination(c)
	params := repository.BatchListParams{
		Status:      c.Query("status"),
		MaterialRef: c.Query("material_ref"),
		Keyword:     c.Query("keyword"),
		Page:        page,
		Size:        size,
	}
	batches, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": batches, "total": total, "page": page, "size": size})
}

// Events 批次事件流水
func (h *BatchHandler) Events(c *gin.Context) {
	events, err := h.svc.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": events})
}

func (h *BatchHandler) Approve(c *gin.Context) {
	batch, err := h.svc.Approve(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, batch)
}

func (h *BatchHandler) Reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	batch, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Reason, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, batch)
}

func (h *BatchHandler) Consume(c *gin.Context) {
	var req struct {
		Quantity float64 `json:"quantity" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	batch, err := h.svc.Consume(c.Request.Context(), c.Param("id"), req.Quantity, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, batch)
}

func (h *BatchHandler) Scrap(c *gin.Context) {
	var req struct {
		Quantity float64 `json:"quantity" binding:"required,gt=0"`
		Reason   string  `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	batch, err := h.svc.Scrap(c.Request.Context(), c.Param("id"), req.Quantity, req.Reason, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, batch)
}

// Export 导出批次台账xlsx
func (h *BatchHandler) Export(c *gin.Context) {
	params := repository.BatchListParams{
		Status:      c.Query("status"),
		MaterialRef: c.Query("material_ref"),
		Keyword:     c.Query("keyword"),
	}
	f, err := h.svc.Export(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("batches_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}
