package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
)

// ApproverResolver 审核人解析器
// 把节点定义（role/user）解析为具体可审核的用户集合；
// 角色成员资格在决策时实时检查，不在节点进入时冻结
type ApproverResolver struct {
	users *repository.UserRepository
}

// NewApproverResolver 创建审核人解析器
func NewApproverResolver(users *repository.UserRepository) *ApproverResolver {
	return &ApproverResolver{users: users}
}

// CanDecide 判断用户当前是否有权审核该节点
// 停用账号一律拒绝，user类型节点也不例外
func (r *ApproverResolver) CanDecide(ctx context.Context, node entity.Node, userID string) (*entity.AdminUser, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s not found", ErrForbidden, userID)
		}
		return nil, err
	}

	if user.Status != entity.UserStatusActive {
		return nil, fmt.Errorf("%w: user %s is disabled", ErrForbidden, userID)
	}

	switch node.ApproverType {
	case entity.ApproverTypeRole:
		if user.Role == node.ApproverValue {
			return user, nil
		}
	case entity.ApproverTypeUser:
		if user.ID == node.ApproverValue {
			return user, nil
		}
	}
	return nil, fmt.Errorf("%w: node %s requires %s=%s", ErrForbidden, node.NodeID, node.ApproverType, node.ApproverValue)
}

// Recipients 解析节点的通知接收人
func (r *ApproverResolver) Recipients(ctx context.Context, node entity.Node) ([]string, error) {
	switch node.ApproverType {
	case entity.ApproverTypeRole:
		users, err := r.users.ListActiveByRole(ctx, node.ApproverValue)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		return ids, nil
	case entity.ApproverTypeUser:
		user, err := r.users.FindByID(ctx, node.ApproverValue)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if user.Status != entity.UserStatusActive {
			return nil, nil
		}
		return []string{user.ID}, nil
	}
	return nil, nil
}
