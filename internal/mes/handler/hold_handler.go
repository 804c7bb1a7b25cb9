package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// HoldHandler 挂起管理
type HoldHandler struct {
	svc *service.HoldService
}

func NewHoldHandler(svc *service.HoldService) *HoldHandler {
	return &HoldHandler{svc: svc}
}

func (h *HoldHandler) Apply(c *gin.Context) {
	var req service.ApplyHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	hold, err := h.svc.Apply(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Created(c, hold)
}

func (h *HoldHandler) Release(c *gin.Context) {
	var req struct {
		Comments string `json:"comments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		BadRequest(c, err.Error())
		return
	}
	hold, err := h.svc.Release(c.Request.Context(), c.Param("id"), req.Comments, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, hold)
}

func (h *HoldHandler) Get(c *gin.Context) {
	hold, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, hold)
}

func (h *HoldHandler) ListByEntity(c *gin.Context) {
	entityType := c.Query("entity_type")
	entityID := c.Query("entity_id")
	if entityType == "" || entityID == "" {
		BadRequest(c, "entity_type和entity_id不能为空")
		return
	}
	holds, err := h.svc.ListByEntity(c.Request.Context(), entityType, entityID, c.Query("active") == "true")
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, gin.H{"items": holds})
}

// Usability 实体可用性：自身状态允许 且 无ACTIVE挂起
func (h *HoldHandler) Usability(c *gin.Context) {
	entityType := c.Query("entity_type")
	entityID := c.Query("entity_id")
	if entityType == "" || entityID == "" {
		BadRequest(c, "entity_type和entity_id不能为空")
		return
	}
	usable, err := h.svc.IsUsable(c.Request.Context(), entityType, entityID)
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, gin.H{"usable": usable})
}

func (h *HoldHandler) CreateReason(c *gin.Context) {
	var req service.CreateHoldReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	reason, err := h.svc.CreateReason(c.Request.Context(), req)
	if err != nil {
		BusinessError(c, err)
		return
	}
	Created(c, reason)
}

func (h *HoldHandler) ListReasons(c *gin.Context) {
	reasons, err := h.svc.ListReasons(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": reasons})
}
