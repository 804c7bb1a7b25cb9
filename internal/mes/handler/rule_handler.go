package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// RuleHandler 批次号规则管理
type RuleHandler struct {
	svc *service.NumberingService
}

func NewRuleHandler(svc *service.NumberingService) *RuleHandler {
	return &RuleHandler{svc: svc}
}

func (h *RuleHandler) Create(c *gin.Context) {
	var req service.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	rule, err := h.svc.CreateRule(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Created(c, rule)
}

func (h *RuleHandler) Get(c *gin.Context) {
	rule, err := h.svc.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, rule)
}

func (h *RuleHandler) List(c *gin.Context) {
	page, size := GetPagination(c)
	params := repository.RuleListParams{
		OperationType: c.Query("operation_type"),
		ProductSKU:    c.Query("product_sku"),
		Keyword:       c.Query("keyword"),
		Page:          page,
		Size:          size,
	}
	if active := c.Query("active"); active != "" {
		v := active == "true"
		params.Active = &v
	}
	rules, total, err := h.svc.ListRules(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": rules, "total": total, "page": page, "size": size})
}

// Update 只接受模板/优先级/启用状态字段，范围字段创建后不可修改
func (h *RuleHandler) Update(c *gin.Context) {
	var req service.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	rule, err := h.svc.UpdateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, rule)
}

func (h *RuleHandler) Deactivate(c *gin.Context) {
	if err := h.svc.DeactivateRule(c.Request.Context(), c.Param("id")); err != nil {
		BusinessError(c, err)
		return
	}
	Success(c, nil)
}

// Windows 规则的历史计数窗口（审计）
func (h *RuleHandler) Windows(c *gin.Context) {
	counters, err := h.svc.ListWindows(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": counters})
}
