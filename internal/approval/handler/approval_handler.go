package handler

import (
	"fmt"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/service"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// ApprovalHandler 审核申请处理器
type ApprovalHandler struct {
	svc *service.WorkflowService
}

// NewApprovalHandler 创建审核申请处理器
func NewApprovalHandler(svc *service.WorkflowService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

// Create 创建审核申请
// POST /api/v1/approvals
func (h *ApprovalHandler) Create(c *gin.Context) {
	var req service.CreateRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	actor := GetActor(c)
	if actor.ID == "" {
		Unauthorized(c, "未登录")
		return
	}

	result, err := h.svc.CreateRequest(c.Request.Context(), req, actor)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, result)
}

// ProcessReq 审核操作请求
type ProcessReq struct {
	Comment string `json:"comment"`
}

func (h *ApprovalHandler) process(c *gin.Context, action string) {
	requestID := c.Param("requestId")

	var req ProcessReq
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	actor := GetActor(c)
	if actor.ID == "" {
		Unauthorized(c, "未登录")
		return
	}

	result, err := h.svc.Process(c.Request.Context(), requestID, action, req.Comment, actor)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, result)
}

// Approve 审核通过
// POST /api/v1/approvals/:requestId/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.process(c, entity.ActionApprove)
}

// Reject 审核拒绝
// POST /api/v1/approvals/:requestId/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.process(c, entity.ActionReject)
}

// Return 审核退回
// POST /api/v1/approvals/:requestId/return
func (h *ApprovalHandler) Return(c *gin.Context) {
	h.process(c, entity.ActionReturn)
}

// Cancel 取消审核申请
// POST /api/v1/approvals/:requestId/cancel
func (h *ApprovalHandler) Cancel(c *gin.Context) {
	requestID := c.Param("requestId")

	actor := GetActor(c)
	if actor.ID == "" {
		Unauthorized(c, "未登录")
		return
	}

	result, err := h.svc.Cancel(c.Request.Context(), requestID, actor)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, result)
}

// Get 获取审核申请详情
// GET /api/v1/approvals/:requestId
func (h *ApprovalHandler) Get(c *gin.Context) {
	requestID := c.Param("requestId")

	req, err := h.svc.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, req)
}

func filtersFromQuery(c *gin.Context) repository.RequestFilters {
	return repository.RequestFilters{
		Status:        c.Query("status"),
		BusinessType:  c.Query("business_type"),
		OperationType: c.Query("operation_type"),
		SubmitterID:   c.Query("submitter_id"),
		Keyword:       c.Query("keyword"),
	}
}

// List 分页查询审核申请
// GET /api/v1/approvals
func (h *ApprovalHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)

	result, err := h.svc.ListRequests(c.Request.Context(), page, pageSize, filtersFromQuery(c))
	if err != nil {
		ServiceError(c, err)
		return
	}

	Success(c, gin.H{
		"items": result.Items,
		"pagination": Pagination{
			Page:       result.Page,
			PageSize:   result.PageSize,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	})
}

// ListPending 获取当前用户的待审核列表
// GET /api/v1/approvals/pending
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	actor := GetActor(c)
	if actor.ID == "" {
		Unauthorized(c, "未登录")
		return
	}

	items, err := h.svc.ListMyPending(c.Request.Context(), actor)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": items, "total": len(items)})
}

// Export 导出审核申请列表为Excel
// GET /api/v1/approvals/export
func (h *ApprovalHandler) Export(c *gin.Context) {
	result, err := h.svc.ListRequests(c.Request.Context(), 1, 100, filtersFromQuery(c))
	if err != nil {
		ServiceError(c, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "审核申请"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"申请ID", "标题", "业务类型", "操作类型", "状态", "提交人", "提交时间", "完成时间"}
	for i, hd := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, hd)
	}

	for row, item := range result.Items {
		completedAt := ""
		if item.CompletedAt != nil {
			completedAt = item.CompletedAt.Format("2006-01-02 15:04:05")
		}
		values := []interface{}{
			item.RequestID,
			item.Title,
			item.BusinessType,
			item.OperationType,
			item.Status,
			item.SubmitterName,
			item.SubmittedAt.Format("2006-01-02 15:04:05"),
			completedAt,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("approvals_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "导出失败: "+err.Error())
	}
}
