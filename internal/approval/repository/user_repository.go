package repository

import (
	"context"
	"errors"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"gorm.io/gorm"
)

// UserRepository 管理端用户仓储（身份数据只读）
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.AdminUser, error) {
	var user entity.AdminUser
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListActiveByRole 查找持有指定角色的启用用户
func (r *UserRepository) ListActiveByRole(ctx context.Context, role string) ([]entity.AdminUser, error) {
	var users []entity.AdminUser
	err := r.db.WithContext(ctx).
		Where("role = ? AND status = ?", role, entity.UserStatusActive).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
