package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	Config   *ConfigRepository
	Request  *RequestRepository
	Record   *RecordRepository
	User     *UserRepository
	AuditLog *AuditLogRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Config:   NewConfigRepository(db),
		Request:  NewRequestRepository(db),
		Record:   NewRecordRepository(db),
		User:     NewUserRepository(db),
		AuditLog: NewAuditLogRepository(db),
	}
}
