package entity

import (
	"time"
)

// AdminUser 管理端用户（身份数据，本服务只读）
type AdminUser struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Username  string    `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:64"`
	Role      string    `json:"role" gorm:"size:50;not null;index"`
	Status    string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AdminUser) TableName() string {
	return "admin_users"
}

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// 平台角色常量
const (
	RoleSystemAdmin      = "system_admin"
	RolePlatformOperator = "platform_operator"
	RoleCarbonSpecialist = "carbon_specialist"
)
