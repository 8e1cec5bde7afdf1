package repository

import (
	"context"
	"errors"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"gorm.io/gorm"
)

// RecordRepository 审核记录仓储（只追加）
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 创建审核记录仓储
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create 追加审核记录
func (r *RecordRepository) Create(ctx context.Context, record *entity.ApprovalRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListByRequest 获取申请的全部审核记录
func (r *RecordRepository) ListByRequest(ctx context.Context, requestID string) ([]entity.ApprovalRecord, error) {
	var records []entity.ApprovalRecord
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("reviewed_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Exists 判断指定轮次、指定节点是否已有该审核人的记录
func (r *RecordRepository) Exists(ctx context.Context, requestID string, nodeIndex, round int, approverID string) (bool, error) {
	var record entity.ApprovalRecord
	err := r.db.WithContext(ctx).
		Where("request_id = ? AND node_index = ? AND round = ? AND approver_id = ?",
			requestID, nodeIndex, round, approverID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CountApproves 统计申请的通过记录数
func (r *RecordRepository) CountApproves(ctx context.Context, requestID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ApprovalRecord{}).
		Where("request_id = ? AND action = ?", requestID, entity.ActionApprove).
		Count(&count).Error
	return count, err
}
