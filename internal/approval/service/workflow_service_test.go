package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/executor"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/testutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []executor.Input
	err   error
}

func (f *fakeExecutor) Apply(ctx context.Context, input executor.Input) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	return f.err
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestWorkflow(t *testing.T, db *gorm.DB, exec *fakeExecutor) *WorkflowService {
	t.Helper()
	repos := repository.NewRepositories(db)
	resolver := NewApproverResolver(repos.User)
	audit := NewAuditService(repos.AuditLog, zap.NewNop())
	return NewWorkflowService(db, repos, resolver, exec, nil, audit, nil, zap.NewNop())
}

func seedActors(t *testing.T, db *gorm.DB) (submitter, specialist, admin *entity.AdminUser) {
	t.Helper()
	submitter = testutil.SeedUser(t, db, "u-submitter", "提交人", entity.RolePlatformOperator, entity.UserStatusActive)
	specialist = testutil.SeedUser(t, db, "u-specialist", "碳专员", entity.RoleCarbonSpecialist, entity.UserStatusActive)
	admin = testutil.SeedUser(t, db, "u-admin", "管理员", entity.RoleSystemAdmin, entity.UserStatusActive)
	return
}

func actorOf(u *entity.AdminUser) Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}

func createTestRequest(t *testing.T, svc *WorkflowService, submitter *entity.AdminUser) string {
	t.Helper()
	result, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		BusinessType:  "carbon_factor",
		OperationType: "create",
		Title:         "新增电力排放因子",
		NewData:       map[string]interface{}{"factor": 0.5810, "unit": "kgCO2e/kWh"},
	}, actorOf(submitter))
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if result.Status != entity.RequestStatusPending {
		t.Fatalf("expected pending status, got %s", result.Status)
	}
	return result.RequestID
}

func TestCreateRequestFreezesNodeSnapshot(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, _, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	exec := &fakeExecutor{}
	svc := newTestWorkflow(t, db, exec)

	requestID := createTestRequest(t, svc, submitter)

	req, err := svc.GetRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if req.CurrentNodeIndex != 0 || req.Round != 0 {
		t.Errorf("expected node 0 round 0, got node %d round %d", req.CurrentNodeIndex, req.Round)
	}
	nodes, err := req.SnapshotNodes()
	if err != nil {
		t.Fatalf("SnapshotNodes failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 snapshot nodes, got %d", len(nodes))
	}
	if nodes[0].ApproverValue != entity.RoleCarbonSpecialist {
		t.Errorf("unexpected first node approver: %s", nodes[0].ApproverValue)
	}
	if exec.callCount() != 0 {
		t.Errorf("executor must not run on create, got %d calls", exec.callCount())
	}
}

func TestCreateRequestWithoutConfig(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, _, _ := seedActors(t, db)
	svc := newTestWorkflow(t, db, &fakeExecutor{})

	_, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		BusinessType:  "carbon_factor",
		OperationType: "create",
		Title:         "没有配置的申请",
	}, actorOf(submitter))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestCreateRequestAutoApprove(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, _, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "update", true, testutil.TwoNodeFlow())
	exec := &fakeExecutor{}
	svc := newTestWorkflow(t, db, exec)

	result, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		BusinessType:  "carbon_factor",
		OperationType: "update",
		Title:         "自动通过的修改",
	}, actorOf(submitter))
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if !result.AutoApproved || result.Status != entity.RequestStatusApproved {
		t.Errorf("expected auto approved result, got %+v", result)
	}
	if exec.callCount() != 1 {
		t.Errorf("executor must run exactly once, got %d calls", exec.callCount())
	}

	// 自动审核不落库
	var count int64
	db.Model(&entity.ApprovalRequest{}).Count(&count)
	if count != 0 {
		t.Errorf("auto approved request must not be persisted, found %d rows", count)
	}
}

func TestCreateRequestAutoApproveExecutorFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, _, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "update", true, testutil.TwoNodeFlow())
	exec := &fakeExecutor{err: errors.New("downstream unavailable")}
	svc := newTestWorkflow(t, db, exec)

	_, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		BusinessType:  "carbon_factor",
		OperationType: "update",
		Title:         "执行失败的修改",
	}, actorOf(submitter))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
}

func TestApproveTwoNodeFlow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, admin := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	exec := &fakeExecutor{}
	svc := newTestWorkflow(t, db, exec)
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	result, err := svc.Process(ctx, requestID, entity.ActionApprove, "数据无误", actorOf(specialist))
	if err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	if result.Status != entity.RequestStatusApproving {
		t.Errorf("expected approving after first node, got %s", result.Status)
	}
	if exec.callCount() != 0 {
		t.Errorf("executor must not run before final approve")
	}

	result, err = svc.Process(ctx, requestID, entity.ActionApprove, "同意", actorOf(admin))
	if err != nil {
		t.Fatalf("final approve failed: %v", err)
	}
	if result.Status != entity.RequestStatusApproved {
		t.Errorf("expected approved, got %s", result.Status)
	}
	if exec.callCount() != 1 {
		t.Errorf("executor must run exactly once, got %d calls", exec.callCount())
	}

	req, err := svc.GetRequest(ctx, requestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if req.CompletedAt == nil || req.CompletedBy != admin.ID {
		t.Errorf("expected completion metadata, got completed_by=%s", req.CompletedBy)
	}
	if req.ExecutionStatus != entity.ExecutionStatusSucceeded {
		t.Errorf("expected execution succeeded, got %q", req.ExecutionStatus)
	}
	if len(req.Records) != 2 {
		t.Errorf("expected 2 approval records, got %d", len(req.Records))
	}
}

func TestRejectIsTerminal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, admin := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	exec := &fakeExecutor{}
	svc := newTestWorkflow(t, db, exec)
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	result, err := svc.Process(ctx, requestID, entity.ActionReject, "数据来源不明", actorOf(specialist))
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if result.Status != entity.RequestStatusRejected {
		t.Errorf("expected rejected, got %s", result.Status)
	}
	if exec.callCount() != 0 {
		t.Errorf("executor must not run on reject")
	}

	_, err = svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(admin))
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after rejection, got %v", err)
	}
}

func TestReturnResetsFlowAndBumpsRound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, admin := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(specialist)); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	result, err := svc.Process(ctx, requestID, entity.ActionReturn, "请补充计算口径", actorOf(admin))
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if result.Status != entity.RequestStatusPending {
		t.Errorf("expected pending after return, got %s", result.Status)
	}

	req, err := svc.GetRequest(ctx, requestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if req.CurrentNodeIndex != 0 || req.Round != 1 {
		t.Fatalf("expected node 0 round 1 after return, got node %d round %d", req.CurrentNodeIndex, req.Round)
	}

	// 退回后同一审核人可以再次处理同一节点
	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "口径已补充", actorOf(specialist)); err != nil {
		t.Fatalf("re-approve after return failed: %v", err)
	}
}

func TestDuplicateDecisionRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	// 本轮本节点已有该审核人的记录
	record := &entity.ApprovalRecord{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		NodeID:     "node_1",
		NodeIndex:  0,
		Round:      0,
		ApproverID: specialist.ID,
		Action:     entity.ActionApprove,
		ReviewedAt: time.Now(),
		CreatedAt:  time.Now(),
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("failed to seed approval record: %v", err)
	}

	_, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(specialist))
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestProcessAuthorization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, _, _ := seedActors(t, db)
	disabled := testutil.SeedUser(t, db, "u-disabled", "停用专员", entity.RoleCarbonSpecialist, entity.UserStatusDisabled)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	// 角色不符
	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(submitter)); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for wrong role, got %v", err)
	}
	// 停用账号即使角色匹配也拒绝
	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(disabled)); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for disabled user, got %v", err)
	}
	// 不存在的用户
	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", Actor{ID: "u-ghost"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for unknown user, got %v", err)
	}
	// 不存在的申请
	if _, err := svc.Process(ctx, "no_such_request", entity.ActionApprove, "", actorOf(submitter)); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestExecutionFailureIsFlagged(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, admin := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	exec := &fakeExecutor{err: errors.New("factor service timeout")}
	svc := newTestWorkflow(t, db, exec)
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)
	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(specialist)); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}

	_, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(admin))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}

	// 审核结论保留，执行失败要留痕
	req, err := svc.GetRequest(ctx, requestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if req.Status != entity.RequestStatusApproved {
		t.Errorf("request must stay approved, got %s", req.Status)
	}
	if req.ExecutionStatus != entity.ExecutionStatusFailed || req.ExecutionError == "" {
		t.Errorf("expected failed execution flag, got status=%q error=%q", req.ExecutionStatus, req.ExecutionError)
	}
}

func TestCancelOnlyBySubmitter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	if _, err := svc.Cancel(ctx, requestID, actorOf(specialist)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-submitter cancel, got %v", err)
	}

	result, err := svc.Cancel(ctx, requestID, actorOf(submitter))
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if result.Status != entity.RequestStatusCancelled {
		t.Errorf("expected cancelled, got %s", result.Status)
	}

	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(specialist)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after cancel, got %v", err)
	}
	if _, err := svc.Cancel(ctx, requestID, actorOf(submitter)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double cancel, got %v", err)
	}
}

func TestTransitionRejectsStaleExpectations(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	repos := repository.NewRepositories(db)
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)
	req, err := repos.Request.FindByRequestID(ctx, requestID)
	if err != nil {
		t.Fatalf("FindByRequestID failed: %v", err)
	}

	// 另一次流转先落地
	if _, err := svc.Process(ctx, requestID, entity.ActionApprove, "", actorOf(specialist)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	// 持旧状态的CAS更新必须失效
	rows, err := repos.Request.Transition(db, req.ID, req.Status, req.CurrentNodeIndex, req.Round,
		repository.TransitionUpdate{Status: entity.RequestStatusRejected, CurrentNodeIndex: req.CurrentNodeIndex, Round: req.Round})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("stale transition must affect 0 rows, got %d", rows)
	}
}

func TestListMyPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, admin := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	first := createTestRequest(t, svc, submitter)
	second := createTestRequest(t, svc, submitter)

	pending, err := svc.ListMyPending(ctx, actorOf(specialist))
	if err != nil {
		t.Fatalf("ListMyPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("specialist should see 2 pending requests, got %d", len(pending))
	}

	// 管理员节点还没轮到
	adminPending, err := svc.ListMyPending(ctx, actorOf(admin))
	if err != nil {
		t.Fatalf("ListMyPending failed: %v", err)
	}
	if len(adminPending) != 0 {
		t.Fatalf("admin should see 0 pending requests, got %d", len(adminPending))
	}

	if _, err := svc.Process(ctx, first, entity.ActionApprove, "", actorOf(specialist)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	pending, err = svc.ListMyPending(ctx, actorOf(specialist))
	if err != nil {
		t.Fatalf("ListMyPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].RequestID != second {
		t.Fatalf("specialist should see only the second request, got %d", len(pending))
	}

	adminPending, err = svc.ListMyPending(ctx, actorOf(admin))
	if err != nil {
		t.Fatalf("ListMyPending failed: %v", err)
	}
	if len(adminPending) != 1 || adminPending[0].RequestID != first {
		t.Fatalf("admin should see the advanced request, got %d", len(adminPending))
	}
}

func TestListRequestsFilters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, specialist, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)
	createTestRequest(t, svc, submitter)
	if _, err := svc.Process(ctx, requestID, entity.ActionReject, "", actorOf(specialist)); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	result, err := svc.ListRequests(ctx, 1, 10, repository.RequestFilters{Status: entity.RequestStatusRejected})
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if result.Total != 1 || len(result.Items) != 1 {
		t.Fatalf("expected 1 rejected request, got total=%d items=%d", result.Total, len(result.Items))
	}

	result, err = svc.ListRequests(ctx, 1, 1, repository.RequestFilters{SubmitterID: submitter.ID})
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if result.Total != 2 || len(result.Items) != 1 || result.TotalPages != 2 {
		t.Fatalf("expected paged result total=2 pages=2, got total=%d pages=%d", result.Total, result.TotalPages)
	}
}

func TestExpireStale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	submitter, _, _ := seedActors(t, db)
	testutil.SeedConfig(t, db, "carbon_factor", "create", false, testutil.TwoNodeFlow())
	svc := newTestWorkflow(t, db, &fakeExecutor{})
	ctx := context.Background()

	requestID := createTestRequest(t, svc, submitter)

	// 还没超龄
	count, err := svc.ExpireStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpireStale failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 expired, got %d", count)
	}

	count, err = svc.ExpireStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireStale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired, got %d", count)
	}

	req, err := svc.GetRequest(ctx, requestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if req.Status != entity.RequestStatusExpired {
		t.Errorf("expected expired status, got %s", req.Status)
	}
}
