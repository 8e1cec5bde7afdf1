package repository

import (
	"context"
	"errors"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"gorm.io/gorm"
)

// RequestRepository 审核申请仓储
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository 创建审核申请仓储
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create 创建审核申请
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// FindByRequestID 根据申请ID查找
func (r *RequestRepository) FindByRequestID(ctx context.Context, requestID string) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// RequestFilters 列表过滤条件
type RequestFilters struct {
	BusinessType  string
	OperationType string
	Status        string
	SubmitterID   string
	Keyword       string
}

// List 分页查询审核申请列表
func (r *RequestRepository) List(ctx context.Context, page, pageSize int, filters RequestFilters) ([]entity.ApprovalRequest, int64, error) {
	var requests []entity.ApprovalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ApprovalRequest{})

	if filters.BusinessType != "" {
		query = query.Where("business_type = ?", filters.BusinessType)
	}
	if filters.OperationType != "" {
		query = query.Where("operation_type = ?", filters.OperationType)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.SubmitterID != "" {
		query = query.Where("submitter_id = ?", filters.SubmitterID)
	}
	if filters.Keyword != "" {
		query = query.Where("title ILIKE ?", "%"+filters.Keyword+"%")
	}

	// 统计总数（与过滤条件一致的独立count）
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// ListPendingForApprover 查询当前节点轮到指定用户/角色审核、且本轮尚未处理的申请
// 直接在快照JSONB上按当前节点过滤，避免逐条回查配置
func (r *RequestRepository) ListPendingForApprover(ctx context.Context, userID, role string) ([]entity.ApprovalRequest, error) {
	var requests []entity.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{entity.RequestStatusPending, entity.RequestStatusApproving}).
		Where(`(
			(nodes_snapshot -> current_node_index::int ->> 'approverType' = 'role'
				AND nodes_snapshot -> current_node_index::int ->> 'approverValue' = ?)
			OR (nodes_snapshot -> current_node_index::int ->> 'approverType' = 'user'
				AND nodes_snapshot -> current_node_index::int ->> 'approverValue' = ?)
		)`, role, userID).
		Where(`NOT EXISTS (
			SELECT 1 FROM approval_records
			WHERE approval_records.request_id = approval_requests.request_id
				AND approval_records.node_index = approval_requests.current_node_index
				AND approval_records.round = approval_requests.round
				AND approval_records.approver_id = ?
		)`, userID).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionUpdate 状态流转的字段集合
type TransitionUpdate struct {
	Status           string
	CurrentNodeIndex int
	Round            int
	CompletedAt      *time.Time
	CompletedBy      string
}

// Transition 乐观锁状态流转：仅当 (status, current_node_index, round) 与期望值
// 一致时才更新，并发流转的失败方 RowsAffected 为 0
func (r *RequestRepository) Transition(tx *gorm.DB, id string, expectStatus string, expectNodeIndex, expectRound int, upd TransitionUpdate) (int64, error) {
	values := map[string]interface{}{
		"status":             upd.Status,
		"current_node_index": upd.CurrentNodeIndex,
		"round":              upd.Round,
		"updated_at":         time.Now(),
	}
	if upd.CompletedAt != nil {
		values["completed_at"] = upd.CompletedAt
		values["completed_by"] = upd.CompletedBy
	}
	result := tx.Model(&entity.ApprovalRequest{}).
		Where("id = ? AND status = ? AND current_node_index = ? AND round = ?",
			id, expectStatus, expectNodeIndex, expectRound).
		Updates(values)
	return result.RowsAffected, result.Error
}

// MarkExecution 记录终审通过后业务执行的结果
func (r *RequestRepository) MarkExecution(ctx context.Context, id, execStatus, execError string) error {
	return r.db.WithContext(ctx).
		Model(&entity.ApprovalRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"execution_status": execStatus,
			"execution_error":  execError,
			"updated_at":       time.Now(),
		}).Error
}

// ExpireStale 将超龄的在途申请标记为过期，返回受影响行数
func (r *RequestRepository) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&entity.ApprovalRequest{}).
		Where("status IN ? AND submitted_at < ?",
			[]string{entity.RequestStatusPending, entity.RequestStatusApproving}, olderThan).
		Updates(map[string]interface{}{
			"status":       entity.RequestStatusExpired,
			"completed_at": now,
			"updated_at":   now,
		})
	return result.RowsAffected, result.Error
}
