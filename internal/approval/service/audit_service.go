package service

import (
	"context"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditService 审计日志服务
// 所有写入都是尽力而为：失败只记日志，绝不阻塞或回滚主流程
type AuditService struct {
	repo   *repository.AuditLogRepository
	logger *zap.Logger
}

// NewAuditService 创建审计服务
func NewAuditService(repo *repository.AuditLogRepository, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, logger: logger}
}

// AuditEntry 审计条目输入
type AuditEntry struct {
	UserID      string
	Username    string
	Role        string
	Action      string
	Resource    string
	ResourceID  string
	Description string
	Status      string
}

// Record 异步追加一条审计日志
func (s *AuditService) Record(entry AuditEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status := entry.Status
		if status == "" {
			status = "success"
		}
		log := &entity.AuditLog{
			ID:          uuid.New().String(),
			UserID:      entry.UserID,
			Username:    entry.Username,
			Role:        entry.Role,
			Module:      "approval",
			Action:      entry.Action,
			Resource:    entry.Resource,
			ResourceID:  entry.ResourceID,
			Description: entry.Description,
			Status:      status,
			CreatedAt:   time.Now(),
		}
		if err := s.repo.Create(ctx, log); err != nil {
			s.logger.Warn("audit log write failed",
				zap.String("action", entry.Action),
				zap.String("resource_id", entry.ResourceID),
				zap.Error(err),
			)
		}
	}()
}
