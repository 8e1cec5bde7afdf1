package repository

import (
	"context"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"gorm.io/gorm"
)

// AuditLogRepository 审计日志仓储（只追加）
type AuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create 追加审计日志
func (r *AuditLogRepository) Create(ctx context.Context, log *entity.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListByResource 按资源查询审计日志
func (r *AuditLogRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]entity.AuditLog, error) {
	var logs []entity.AuditLog
	if limit <= 0 {
		limit = 50
	}
	err := r.db.WithContext(ctx).
		Where("resource = ? AND resource_id = ?", resource, resourceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
