package handler

import (
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/service"
	"github.com/gin-gonic/gin"
)

// ConfigHandler 审核配置处理器
type ConfigHandler struct {
	svc *service.WorkflowService
}

// NewConfigHandler 创建审核配置处理器
func NewConfigHandler(svc *service.WorkflowService) *ConfigHandler {
	return &ConfigHandler{svc: svc}
}

// Get 获取审核配置详情
// GET /api/v1/approval-configs/:configId
func (h *ConfigHandler) Get(c *gin.Context) {
	configID := c.Param("configId")

	cfg, err := h.svc.GetConfig(c.Request.Context(), configID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, cfg)
}

// List 获取审核配置列表
// GET /api/v1/approval-configs
func (h *ConfigHandler) List(c *gin.Context) {
	configs, err := h.svc.ListConfigs(c.Request.Context(), c.Query("business_type"), c.Query("status"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": configs})
}
