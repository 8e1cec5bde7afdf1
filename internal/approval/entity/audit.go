package entity

import (
	"time"
)

// AuditLog 审计日志条目
type AuditLog struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	UserID      string    `json:"user_id" gorm:"size:32;index"`
	Username    string    `json:"username" gorm:"size:64"`
	Role        string    `json:"role" gorm:"size:50"`
	Module      string    `json:"module" gorm:"size:50;not null"`
	Action      string    `json:"action" gorm:"size:64;not null"`
	Resource    string    `json:"resource" gorm:"size:64"`
	ResourceID  string    `json:"resource_id" gorm:"size:128;index"`
	Description string    `json:"description" gorm:"type:text"`
	Status      string    `json:"status" gorm:"size:16;not null;default:success"`
	CreatedAt   time.Time `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
