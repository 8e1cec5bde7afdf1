package entity

import (
	"time"
)

// ApprovalRecord 审核记录（只追加，不修改不删除）
// 唯一索引 (request_id, node_index, round, approver_id) 防止同一轮
// 同一节点被同一审核人重复处理；退回后 round 递增，同节点可再次产生记录
type ApprovalRecord struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID    string    `json:"request_id" gorm:"size:128;not null;index;uniqueIndex:uk_approval_records_decision"`
	NodeID       string    `json:"node_id" gorm:"size:64;not null"`
	NodeName     string    `json:"node_name" gorm:"size:100"`
	NodeIndex    int       `json:"node_index" gorm:"not null;uniqueIndex:uk_approval_records_decision"`
	Round        int       `json:"round" gorm:"not null;default:0;uniqueIndex:uk_approval_records_decision"`
	ApproverID   string    `json:"approver_id" gorm:"size:32;not null;uniqueIndex:uk_approval_records_decision;index"`
	ApproverName string    `json:"approver_name" gorm:"size:64"`
	ApproverRole string    `json:"approver_role" gorm:"size:50"`
	Action       string    `json:"action" gorm:"size:16;not null"`
	Comment      string    `json:"comment" gorm:"type:text"`
	DataSnapshot JSONB     `json:"data_snapshot" gorm:"type:jsonb"`
	ReviewedAt   time.Time `json:"reviewed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ApprovalRecord) TableName() string {
	return "approval_records"
}

// 审核动作常量
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionReturn  = "return"
)
