package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/executor"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/notify"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 审核配置缓存
const (
	configCacheKeyPrefix = "approval:config:"
	configCacheTTL       = time.Minute
)

// Actor 经网关认证后的操作人身份
type Actor struct {
	ID   string
	Name string
	Role string
}

// WorkflowService 审核工作流核心
// 状态机：pending/approving → approved/rejected/cancelled/expired（终态）
// 每次成功的process调用在一个事务里追加一条审核记录并CAS推进申请状态
type WorkflowService struct {
	db       *gorm.DB
	repos    *repository.Repositories
	resolver *ApproverResolver
	executor executor.BusinessExecutor
	notifier notify.Notifier
	audit    *AuditService
	rdb      *redis.Client
	logger   *zap.Logger
}

// NewWorkflowService 创建审核工作流服务
func NewWorkflowService(
	db *gorm.DB,
	repos *repository.Repositories,
	resolver *ApproverResolver,
	exec executor.BusinessExecutor,
	notifier notify.Notifier,
	audit *AuditService,
	rdb *redis.Client,
	logger *zap.Logger,
) *WorkflowService {
	return &WorkflowService{
		db:       db,
		repos:    repos,
		resolver: resolver,
		executor: exec,
		notifier: notifier,
		audit:    audit,
		rdb:      rdb,
		logger:   logger,
	}
}

// generateRequestID 生成申请ID：{businessType}_{operationType}_{时间戳}_{随机4位}
// 全局唯一且肉眼可读
func generateRequestID(businessType, operationType string) string {
	return fmt.Sprintf("%s_%s_%d_%04d",
		businessType, operationType, time.Now().UnixMilli(), rand.Intn(10000))
}

// getActiveConfig 获取启用中的审核配置，redis缓存60秒
func (s *WorkflowService) getActiveConfig(ctx context.Context, businessType, operationType string) (*entity.ApprovalConfig, error) {
	cacheKey := configCacheKeyPrefix + businessType + ":" + operationType

	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var cfg entity.ApprovalConfig
			if json.Unmarshal(cached, &cfg) == nil {
				return &cfg, nil
			}
		}
	}

	cfg, err := s.repos.Config.FindActive(ctx, businessType, operationType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrConfigNotFound, businessType, operationType)
		}
		return nil, err
	}

	if s.rdb != nil {
		if data, err := json.Marshal(cfg); err == nil {
			s.rdb.Set(ctx, cacheKey, data, configCacheTTL)
		}
	}
	return cfg, nil
}

// CreateRequestInput 创建审核申请入参
type CreateRequestInput struct {
	BusinessType  string                 `json:"business_type" binding:"required"`
	BusinessID    string                 `json:"business_id"`
	OperationType string                 `json:"operation_type" binding:"required"`
	Title         string                 `json:"title" binding:"required"`
	Description   string                 `json:"description"`
	CurrentData   map[string]interface{} `json:"current_data"`
	NewData       map[string]interface{} `json:"new_data"`
}

// CreateResult 创建审核申请结果
type CreateResult struct {
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	AutoApproved bool   `json:"auto_approved"`
}

// CreateRequest 创建审核申请
// autoApprove配置直接返回approved并调用业务执行器一次，不落库；
// 否则落库为pending并通知首节点审核人
func (s *WorkflowService) CreateRequest(ctx context.Context, input CreateRequestInput, actor Actor) (*CreateResult, error) {
	if input.BusinessType == "" || input.OperationType == "" || input.Title == "" {
		return nil, fmt.Errorf("%w: 业务类型、操作类型和标题不能为空", ErrInvalidArgument)
	}

	cfg, err := s.getActiveConfig(ctx, input.BusinessType, input.OperationType)
	if err != nil {
		return nil, err
	}

	requestID := generateRequestID(input.BusinessType, input.OperationType)

	if cfg.AutoApprove {
		// 自动审核：不落库，但业务执行器必须且只能调用一次
		err := s.executor.Apply(ctx, executor.Input{
			RequestID:     requestID,
			BusinessType:  input.BusinessType,
			OperationType: input.OperationType,
			BusinessID:    input.BusinessID,
			NewData:       input.NewData,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}

		s.audit.Record(AuditEntry{
			UserID: actor.ID, Username: actor.Name, Role: actor.Role,
			Action: "createRequest", Resource: "approval_request", ResourceID: requestID,
			Description: fmt.Sprintf("自动审核通过：%s", input.Title),
		})
		return &CreateResult{RequestID: requestID, Status: entity.RequestStatusApproved, AutoApproved: true}, nil
	}

	nodes, err := cfg.NodeList()
	if err != nil {
		return nil, fmt.Errorf("解析配置节点失败: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: 配置 %s 没有审核节点", ErrConfigNotFound, cfg.ConfigID)
	}

	now := time.Now()
	req := &entity.ApprovalRequest{
		ID:               uuid.New().String(),
		RequestID:        requestID,
		BusinessType:     input.BusinessType,
		BusinessID:       input.BusinessID,
		OperationType:    input.OperationType,
		ConfigID:         cfg.ConfigID,
		Title:            input.Title,
		Description:      input.Description,
		CurrentData:      entity.JSONB(input.CurrentData),
		NewData:          entity.JSONB(input.NewData),
		Status:           entity.RequestStatusPending,
		CurrentNodeIndex: 0,
		Round:            0,
		NodesSnapshot:    cfg.Nodes,
		SubmitterID:      actor.ID,
		SubmitterName:    actor.Name,
		SubmittedAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repos.Request.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("创建审核申请失败: %w", err)
	}

	if nodes[0].NotifyOnCreate {
		s.notifyNode(req, nodes[0], "approval_request_created", "新的审核申请",
			fmt.Sprintf("您有新的审核申请需要处理：%s", req.Title))
	}

	s.audit.Record(AuditEntry{
		UserID: actor.ID, Username: actor.Name, Role: actor.Role,
		Action: "createRequest", Resource: "approval_request", ResourceID: requestID,
		Description: fmt.Sprintf("创建审核申请：%s", input.Title),
	})

	return &CreateResult{RequestID: requestID, Status: entity.RequestStatusPending}, nil
}

// ProcessResult 审核操作结果
type ProcessResult struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Process 执行审核操作（approve/reject/return）
//
// 前置检查依次为：申请存在 → 状态可审 → 节点有效 → 操作人有权 → 本轮未处理。
// 记录追加与状态CAS在同一事务内，并发竞争的失败方整体回滚
func (s *WorkflowService) Process(ctx context.Context, requestID, action, comment string, actor Actor) (*ProcessResult, error) {
	if action != entity.ActionApprove && action != entity.ActionReject && action != entity.ActionReturn {
		return nil, fmt.Errorf("%w: 无效的审核操作 %q", ErrInvalidArgument, action)
	}

	req, err := s.repos.Request.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return nil, err
	}

	if !req.IsActive() {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrInvalidState, req.Status)
	}

	nodes, err := req.SnapshotNodes()
	if err != nil || len(nodes) == 0 {
		return nil, fmt.Errorf("%w: 申请 %s 的节点快照缺失", ErrConfigNotFound, requestID)
	}
	if req.CurrentNodeIndex < 0 || req.CurrentNodeIndex >= len(nodes) {
		return nil, fmt.Errorf("%w: 节点索引 %d 超出范围", ErrNodeNotFound, req.CurrentNodeIndex)
	}
	currentNode := nodes[req.CurrentNodeIndex]

	user, err := s.resolver.CanDecide(ctx, currentNode, actor.ID)
	if err != nil {
		return nil, err
	}

	decided, err := s.repos.Record.Exists(ctx, req.RequestID, req.CurrentNodeIndex, req.Round, user.ID)
	if err != nil {
		return nil, err
	}
	if decided {
		return nil, fmt.Errorf("%w: 节点 %s", ErrAlreadyDecided, currentNode.NodeID)
	}

	now := time.Now()
	record := &entity.ApprovalRecord{
		ID:           uuid.New().String(),
		RequestID:    req.RequestID,
		NodeID:       currentNode.NodeID,
		NodeName:     currentNode.NodeName,
		NodeIndex:    req.CurrentNodeIndex,
		Round:        req.Round,
		ApproverID:   user.ID,
		ApproverName: user.Name,
		ApproverRole: user.Role,
		Action:       action,
		Comment:      comment,
		DataSnapshot: entity.JSONB{
			"currentData": map[string]interface{}(req.CurrentData),
			"newData":     map[string]interface{}(req.NewData),
		},
		ReviewedAt: now,
		CreatedAt:  now,
	}

	// 计算目标状态
	upd := repository.TransitionUpdate{CurrentNodeIndex: req.CurrentNodeIndex, Round: req.Round}
	isFinalApprove := false
	switch action {
	case entity.ActionReject:
		upd.Status = entity.RequestStatusRejected
		upd.CompletedAt = &now
		upd.CompletedBy = user.ID
	case entity.ActionReturn:
		// 退回重走整个节点序列，round递增让同一审核人可再次处理
		upd.Status = entity.RequestStatusPending
		upd.CurrentNodeIndex = 0
		upd.Round = req.Round + 1
	case entity.ActionApprove:
		if req.CurrentNodeIndex < len(nodes)-1 {
			upd.Status = entity.RequestStatusApproving
			upd.CurrentNodeIndex = req.CurrentNodeIndex + 1
		} else {
			upd.Status = entity.RequestStatusApproved
			upd.CompletedAt = &now
			upd.CompletedBy = user.ID
			isFinalApprove = true
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: 节点 %s", ErrAlreadyDecided, currentNode.NodeID)
			}
			return fmt.Errorf("写入审核记录失败: %w", err)
		}

		rows, err := s.repos.Request.Transition(tx, req.ID, req.Status, req.CurrentNodeIndex, req.Round, upd)
		if err != nil {
			return fmt.Errorf("更新申请状态失败: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, req.RequestID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{RequestID: req.RequestID, Status: upd.Status}

	// 终审通过：调用业务执行器，至多一次
	if isFinalApprove {
		execErr := s.executor.Apply(ctx, executor.Input{
			RequestID:     req.RequestID,
			BusinessType:  req.BusinessType,
			OperationType: req.OperationType,
			BusinessID:    req.BusinessID,
			NewData:       req.NewData,
		})
		if execErr != nil {
			// 申请保持approved，但带上失败标记，不能装作没发生
			if markErr := s.repos.Request.MarkExecution(ctx, req.ID, entity.ExecutionStatusFailed, execErr.Error()); markErr != nil {
				s.logger.Error("mark execution failure failed",
					zap.String("request_id", req.RequestID), zap.Error(markErr))
			}
			s.notifySubmitter(req, "approval_execution_failed", "审核通过但执行失败",
				fmt.Sprintf("审核申请\"%s\"已全部通过，但业务变更执行失败，请联系管理员处理", req.Title))
			return result, fmt.Errorf("%w: %v", ErrExecutionFailed, execErr)
		}
		if markErr := s.repos.Request.MarkExecution(ctx, req.ID, entity.ExecutionStatusSucceeded, ""); markErr != nil {
			s.logger.Warn("mark execution success failed",
				zap.String("request_id", req.RequestID), zap.Error(markErr))
		}
	}

	// 通知：进入下一节点通知新节点审核人，终态/退回通知提交人
	switch {
	case action == entity.ActionApprove && !isFinalApprove:
		nextNode := nodes[upd.CurrentNodeIndex]
		if nextNode.NotifyOnCreate {
			s.notifyNode(req, nextNode, "approval_request_created", "新的审核申请",
				fmt.Sprintf("您有新的审核申请需要处理：%s", req.Title))
		}
	case action == entity.ActionApprove && isFinalApprove:
		s.notifySubmitter(req, "approval_request_approved", "审核申请已通过",
			fmt.Sprintf("您的审核申请\"%s\"已被%s通过", req.Title, user.Name))
	case action == entity.ActionReject:
		s.notifySubmitter(req, "approval_request_rejected", "审核申请已拒绝",
			fmt.Sprintf("您的审核申请\"%s\"已被%s拒绝", req.Title, user.Name))
	case action == entity.ActionReturn:
		s.notifySubmitter(req, "approval_request_returned", "审核申请已退回",
			fmt.Sprintf("您的审核申请\"%s\"已被%s退回，请修改后重新提交审核", req.Title, user.Name))
	}

	s.audit.Record(AuditEntry{
		UserID: user.ID, Username: user.Name, Role: user.Role,
		Action: "approval_" + action, Resource: "approval_request", ResourceID: req.RequestID,
		Description: fmt.Sprintf("审核%s申请：%s", actionText(action), req.Title),
	})

	return result, nil
}

func actionText(action string) string {
	switch action {
	case entity.ActionApprove:
		return "通过"
	case entity.ActionReject:
		return "拒绝"
	case entity.ActionReturn:
		return "退回"
	}
	return "处理"
}

// Cancel 取消审核申请，只有提交人本人可取消在途申请
func (s *WorkflowService) Cancel(ctx context.Context, requestID string, actor Actor) (*ProcessResult, error) {
	req, err := s.repos.Request.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return nil, err
	}

	if req.SubmitterID != actor.ID {
		return nil, fmt.Errorf("%w: 只能取消自己提交的申请", ErrForbidden)
	}
	if !req.IsActive() {
		return nil, fmt.Errorf("%w: 当前状态 %s 不允许取消", ErrInvalidState, req.Status)
	}

	now := time.Now()
	rows, err := s.repos.Request.Transition(
		s.db.WithContext(ctx), req.ID, req.Status, req.CurrentNodeIndex, req.Round,
		repository.TransitionUpdate{
			Status:           entity.RequestStatusCancelled,
			CurrentNodeIndex: req.CurrentNodeIndex,
			Round:            req.Round,
			CompletedAt:      &now,
			CompletedBy:      actor.ID,
		})
	if err != nil {
		return nil, fmt.Errorf("取消审核申请失败: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentModification, requestID)
	}

	s.audit.Record(AuditEntry{
		UserID: actor.ID, Username: actor.Name, Role: actor.Role,
		Action: "cancelRequest", Resource: "approval_request", ResourceID: requestID,
		Description: fmt.Sprintf("取消审核申请：%s", req.Title),
	})

	return &ProcessResult{RequestID: requestID, Status: entity.RequestStatusCancelled}, nil
}

// GetRequest 获取审核申请详情及其全部审核记录
func (s *WorkflowService) GetRequest(ctx context.Context, requestID string) (*entity.ApprovalRequest, error) {
	req, err := s.repos.Request.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return nil, err
	}
	records, err := s.repos.Record.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	req.Records = records
	return req, nil
}

// ListResult 审核申请分页结果
type ListResult struct {
	Items      []entity.ApprovalRequest `json:"items"`
	Total      int64                    `json:"total"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	TotalPages int                      `json:"total_pages"`
}

// ListRequests 分页查询审核申请
func (s *WorkflowService) ListRequests(ctx context.Context, page, pageSize int, filters repository.RequestFilters) (*ListResult, error) {
	requests, total, err := s.repos.Request.List(ctx, page, pageSize, filters)
	if err != nil {
		return nil, fmt.Errorf("查询审核申请列表失败: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &ListResult{
		Items:      requests,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// ListMyPending 获取轮到当前用户审核且本轮尚未处理的申请
// 角色以身份库为准（实时查），不信任token里的快照
func (s *WorkflowService) ListMyPending(ctx context.Context, actor Actor) ([]entity.ApprovalRequest, error) {
	user, err := s.repos.User.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s not found", ErrForbidden, actor.ID)
		}
		return nil, err
	}
	if user.Status != entity.UserStatusActive {
		return []entity.ApprovalRequest{}, nil
	}

	requests, err := s.repos.Request.ListPendingForApprover(ctx, user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("查询待审核列表失败: %w", err)
	}
	if requests == nil {
		requests = []entity.ApprovalRequest{}
	}
	return requests, nil
}

// ExpireStale 将提交时间早于olderThan的在途申请标记为过期
func (s *WorkflowService) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	expired, err := s.repos.Request.ExpireStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("过期清理失败: %w", err)
	}
	if expired > 0 {
		s.logger.Info("expired stale approval requests", zap.Int64("count", expired))
	}
	return expired, nil
}

// GetConfig 获取审核配置
func (s *WorkflowService) GetConfig(ctx context.Context, configID string) (*entity.ApprovalConfig, error) {
	cfg, err := s.repos.Config.FindByConfigID(ctx, configID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configID)
		}
		return nil, err
	}
	return cfg, nil
}

// ListConfigs 获取审核配置列表
func (s *WorkflowService) ListConfigs(ctx context.Context, businessType, status string) ([]entity.ApprovalConfig, error) {
	return s.repos.Config.List(ctx, businessType, status)
}

// notifyNode 异步通知节点审核人
func (s *WorkflowService) notifyNode(req *entity.ApprovalRequest, node entity.Node, eventType, title, content string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		recipients, err := s.resolver.Recipients(ctx, node)
		if err != nil {
			s.logger.Warn("resolve notify recipients failed",
				zap.String("request_id", req.RequestID), zap.String("node_id", node.NodeID), zap.Error(err))
			return
		}
		if len(recipients) == 0 {
			return
		}
		err = s.notifier.Notify(ctx, notify.Message{
			Title:       title,
			Content:     content,
			Priority:    "high",
			TargetUsers: recipients,
			EventType:   eventType,
			EntityID:    req.RequestID,
			EntityType:  "approval_request",
			Link:        "/system/approval-request/" + req.RequestID,
		})
		if err != nil {
			// 通知失败不影响审核流程
			s.logger.Warn("notify approvers failed",
				zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}()
}

// notifySubmitter 异步通知提交人
func (s *WorkflowService) notifySubmitter(req *entity.ApprovalRequest, eventType, title, content string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.notifier.Notify(ctx, notify.Message{
			Title:       title,
			Content:     content,
			TargetUsers: []string{req.SubmitterID},
			EventType:   eventType,
			EntityID:    req.RequestID,
			EntityType:  "approval_request",
			Link:        "/system/approval-request/" + req.RequestID,
		})
		if err != nil {
			s.logger.Warn("notify submitter failed",
				zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}()
}
