package entity

import (
	"encoding/json"
	"time"
)

// ApprovalRequest 审核申请
// NodesSnapshot 在创建时冻结配置的节点列表，后续流转只读快照，
// 配置被修改不会影响在途申请的路由
type ApprovalRequest struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"`
	RequestID        string          `json:"request_id" gorm:"size:128;uniqueIndex;not null"`
	BusinessType     string          `json:"business_type" gorm:"size:50;not null;index"`
	BusinessID       string          `json:"business_id" gorm:"size:64"`
	OperationType    string          `json:"operation_type" gorm:"size:20;not null"`
	ConfigID         string          `json:"config_id" gorm:"size:64;not null"`
	Title            string          `json:"title" gorm:"size:200;not null"`
	Description      string          `json:"description" gorm:"type:text"`
	CurrentData      JSONB           `json:"current_data" gorm:"type:jsonb"`
	NewData          JSONB           `json:"new_data" gorm:"type:jsonb"`
	Status           string          `json:"status" gorm:"size:16;not null;default:pending;index"`
	CurrentNodeIndex int             `json:"current_node_index" gorm:"not null;default:0"`
	Round            int             `json:"round" gorm:"not null;default:0"`
	NodesSnapshot    json.RawMessage `json:"nodes_snapshot" gorm:"type:jsonb;not null"`
	SubmitterID      string          `json:"submitter_id" gorm:"size:32;not null;index"`
	SubmitterName    string          `json:"submitter_name" gorm:"size:64"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	CompletedBy      string          `json:"completed_by" gorm:"size:32"`
	ExecutionStatus  string          `json:"execution_status" gorm:"size:16"`
	ExecutionError   string          `json:"execution_error" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// 关联
	Records []ApprovalRecord `json:"records,omitempty" gorm:"foreignKey:RequestID;references:RequestID"`
}

func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// 申请状态常量
const (
	RequestStatusPending   = "pending"
	RequestStatusApproving = "approving"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusCancelled = "cancelled"
	RequestStatusExpired   = "expired"
)

// 操作类型常量
const (
	OperationTypeCreate  = "create"
	OperationTypeUpdate  = "update"
	OperationTypeDelete  = "delete"
	OperationTypeArchive = "archive"
)

// 执行状态常量（终审通过后业务执行的结果）
const (
	ExecutionStatusSucceeded = "succeeded"
	ExecutionStatusFailed    = "failed"
)

// IsActive 是否处于可审核状态
func (r *ApprovalRequest) IsActive() bool {
	return r.Status == RequestStatusPending || r.Status == RequestStatusApproving
}

// IsTerminal 是否已到达终态
func (r *ApprovalRequest) IsTerminal() bool {
	switch r.Status {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled, RequestStatusExpired:
		return true
	}
	return false
}

// SnapshotNodes 解析申请冻结的节点快照
func (r *ApprovalRequest) SnapshotNodes() ([]Node, error) {
	var nodes []Node
	if len(r.NodesSnapshot) == 0 {
		return nodes, nil
	}
	if err := json.Unmarshal(r.NodesSnapshot, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}
