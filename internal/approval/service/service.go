package service

import (
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/executor"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/notify"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务层聚合
type Services struct {
	Workflow *WorkflowService
	Audit    *AuditService
}

// NewServices 创建服务层聚合
func NewServices(
	db *gorm.DB,
	repos *repository.Repositories,
	exec executor.BusinessExecutor,
	notifier notify.Notifier,
	rdb *redis.Client,
	logger *zap.Logger,
) *Services {
	resolver := NewApproverResolver(repos.User)
	audit := NewAuditService(repos.AuditLog, logger)
	return &Services{
		Workflow: NewWorkflowService(db, repos, resolver, exec, notifier, audit, rdb, logger),
		Audit:    audit,
	}
}
