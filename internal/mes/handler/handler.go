package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// Handlers MES HTTP处理器集合
type Handlers struct {
	Rule      *RuleHandler
	Batch     *BatchHandler
	Genealogy *GenealogyHandler
	Hold      *HoldHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Rule:      NewRuleHandler(svc.Numbering),
		Batch:     NewBatchHandler(svc.Batch),
		Genealogy: NewGenealogyHandler(svc.Genealogy),
		Hold:      NewHoldHandler(svc.Hold),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应，code前三位为HTTP状态码
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// BusinessError 业务错误统一映射
//
// 校验/解析类错误在写入前检出，可直接回给调用方；并发冲突提示重试；
// 其余按服务器错误处理。
func BusinessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		Error(c, 40400, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		Error(c, 40900, err.Error())
	case errors.Is(err, service.ErrConcurrentModification):
		Error(c, 40901, err.Error())
	case errors.Is(err, service.ErrHoldNotActive):
		Error(c, 40902, err.Error())
	case errors.Is(err, service.ErrCycleDetected):
		Error(c, 40903, err.Error())
	case errors.Is(err, service.ErrNoApplicableRule):
		Error(c, 42200, err.Error())
	case errors.Is(err, service.ErrSequenceOverflow):
		Error(c, 42201, err.Error())
	case errors.Is(err, service.ErrInvalidRuleTemplate):
		Error(c, 42205, err.Error())
	case errors.Is(err, service.ErrQuantityConservation):
		Error(c, 42202, err.Error())
	case errors.Is(err, service.ErrInsufficientQuantity):
		Error(c, 42203, err.Error())
	case errors.Is(err, service.ErrIncompatibleMaterial):
		Error(c, 42204, err.Error())
	default:
		Error(c, 50000, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, size int) {
	page = 1
	size = 20
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if s := c.Query("size"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			size = v
		}
	}
	return page, size
}
