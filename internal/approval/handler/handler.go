package handler

import (
	"errors"
	"strconv"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/service"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Approval *ApprovalHandler
	Config   *ConfigHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Approval: NewApprovalHandler(svc.Workflow),
		Config:   NewConfigHandler(svc.Workflow),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
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

// Error 错误响应
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

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// ServiceError 按服务层错误类型返回对应业务码
func ServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		BadRequest(c, err.Error())
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, service.ErrConfigNotFound),
		errors.Is(err, service.ErrNodeNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		Error(c, 40900, err.Error())
	case errors.Is(err, service.ErrAlreadyDecided):
		Error(c, 40901, err.Error())
	case errors.Is(err, service.ErrConcurrentModification):
		Error(c, 40902, err.Error())
	case errors.Is(err, service.ErrExecutionFailed):
		Error(c, 50010, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// GetActor 从上下文获取操作人身份
func GetActor(c *gin.Context) service.Actor {
	actor := service.Actor{}
	if v, ok := c.Get("user_id"); ok {
		actor.ID, _ = v.(string)
	}
	if v, ok := c.Get("username"); ok {
		actor.Name, _ = v.(string)
	}
	if v, ok := c.Get("role"); ok {
		actor.Role, _ = v.(string)
	}
	return actor
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
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
