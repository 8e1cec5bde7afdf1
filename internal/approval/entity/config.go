package entity

import (
	"encoding/json"
	"time"
)

// ApprovalConfig 审核流程配置
// 每个 (businessType, operationType) 对应一条配置，节点顺序即审核顺序
type ApprovalConfig struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	ConfigID      string          `json:"config_id" gorm:"size:64;uniqueIndex;not null"`
	BusinessType  string          `json:"business_type" gorm:"size:50;not null;index:idx_approval_configs_biz_op"`
	OperationType string          `json:"operation_type" gorm:"size:20;not null;index:idx_approval_configs_biz_op"`
	Name          string          `json:"name" gorm:"size:200;not null"`
	Description   string          `json:"description" gorm:"type:text"`
	Nodes         json.RawMessage `json:"nodes" gorm:"type:jsonb;not null;default:'[]'"`
	AutoApprove   bool            `json:"auto_approve" gorm:"not null;default:false"`
	Status        string          `json:"status" gorm:"size:16;not null;default:active"`
	CreatedBy     string          `json:"created_by" gorm:"size:32"`
	UpdatedBy     string          `json:"updated_by" gorm:"size:32"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (ApprovalConfig) TableName() string {
	return "approval_configs"
}

// 配置状态常量
const (
	ConfigStatusActive   = "active"
	ConfigStatusInactive = "inactive"
)

// Node 审核节点定义
type Node struct {
	NodeID         string `json:"nodeId"`
	NodeName       string `json:"nodeName"`
	ApproverType   string `json:"approverType"` // role / user
	ApproverValue  string `json:"approverValue"`
	NotifyOnCreate bool   `json:"notifyOnCreate"`
}

// 审核人类型常量
const (
	ApproverTypeRole = "role"
	ApproverTypeUser = "user"
)

// NodeList 解析配置的节点列表
func (c *ApprovalConfig) NodeList() ([]Node, error) {
	var nodes []Node
	if len(c.Nodes) == 0 {
		return nodes, nil
	}
	if err := json.Unmarshal(c.Nodes, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}
