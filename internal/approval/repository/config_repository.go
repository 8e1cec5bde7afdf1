package repository

import (
	"context"
	"errors"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"gorm.io/gorm"
)

// ConfigRepository 审核配置仓储
type ConfigRepository struct {
	db *gorm.DB
}

// NewConfigRepository 创建审核配置仓储
func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// FindActive 查找启用中的配置
func (r *ConfigRepository) FindActive(ctx context.Context, businessType, operationType string) (*entity.ApprovalConfig, error) {
	var cfg entity.ApprovalConfig
	err := r.db.WithContext(ctx).
		Where("business_type = ? AND operation_type = ? AND status = ?",
			businessType, operationType, entity.ConfigStatusActive).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// FindByConfigID 根据配置ID查找
func (r *ConfigRepository) FindByConfigID(ctx context.Context, configID string) (*entity.ApprovalConfig, error) {
	var cfg entity.ApprovalConfig
	err := r.db.WithContext(ctx).
		Where("config_id = ?", configID).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// List 获取配置列表
func (r *ConfigRepository) List(ctx context.Context, businessType, status string) ([]entity.ApprovalConfig, error) {
	var configs []entity.ApprovalConfig
	query := r.db.WithContext(ctx).Model(&entity.ApprovalConfig{})
	if businessType != "" {
		query = query.Where("business_type = ?", businessType)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.
		Order("business_type ASC, operation_type ASC").
		Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// Create 创建配置
func (r *ConfigRepository) Create(ctx context.Context, cfg *entity.ApprovalConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}
