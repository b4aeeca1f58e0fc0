package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/batch-approval/internal/integration"
	"github.com/mautops/batch-approval/internal/service"
)

// BatchController 批次控制器
type BatchController struct {
	batchService service.BatchService
	queryService service.BatchQueryService
}

// NewBatchController 创建批次控制器
func NewBatchController(batchService service.BatchService, queryService service.BatchQueryService) *BatchController {
	return &BatchController{
		batchService: batchService,
		queryService: queryService,
	}
}

// batchID 解析路由中的批次 ID,无效时写出 400
func batchID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		Error(ctx, http.StatusBadRequest, "invalid batch ID", ctx.Param("id"))
		return 0, false
	}
	return uint(id), true
}

// Create 创建批次
// POST /api/v1/batches
func (c *BatchController) Create(ctx *gin.Context) {
	var req service.CreateBatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		HandleError(ctx, WrapError(err, http.StatusBadRequest, "invalid request"))
		return
	}

	view, err := c.batchService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, view)
}

// List 查询批次列表
// GET /api/v1/batches
func (c *BatchController) List(ctx *gin.Context) {
	filter := &service.ListBatchesFilter{
		State:  ctx.Query("state"),
		SortBy: ctx.Query("sort_by"),
		Order:  ctx.Query("order"),
		Mine:   ctx.Query("mine") == "true",
	}
	filter.Approver = ctx.Query("approver") == "me"

	var err error
	if filter.FormID, err = optionalUint(ctx, "form_id"); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid form_id", err.Error())
		return
	}
	if filter.AdministrationID, err = optionalUint(ctx, "administration_id"); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid administration_id", err.Error())
		return
	}
	if v := ctx.Query("approved"); v != "" {
		approved, err := strconv.ParseBool(v)
		if err != nil {
			Error(ctx, http.StatusBadRequest, "invalid approved", err.Error())
			return
		}
		filter.Approved = &approved
	}
	if filter.StartTime, err = optionalTime(ctx, "start_time"); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid start_time", err.Error())
		return
	}
	if filter.EndTime, err = optionalTime(ctx, "end_time"); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid end_time", err.Error())
		return
	}
	filter.Page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(ctx.DefaultQuery("page_size", "20"))

	views, total, err := c.queryService.ListBatches(ctx.Request.Context(), filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Paginated(ctx, views, NewPaginationInfo(filter.Page, filter.PageSize, total))
}

// Get 获取批次详情
// GET /api/v1/batches/:id
func (c *BatchController) Get(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	view, err := c.batchService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}

// Approve 审批同意
// POST /api/v1/batches/:id/approve
func (c *BatchController) Approve(ctx *gin.Context) {
	c.decide(ctx, c.batchService.Approve)
}

// Reject 审批拒绝
// POST /api/v1/batches/:id/reject
func (c *BatchController) Reject(ctx *gin.Context) {
	c.decide(ctx, c.batchService.Reject)
}

type decideFunc func(ctx context.Context, id uint, req *service.DecisionRequest) (*integration.BatchView, error)

func (c *BatchController) decide(ctx *gin.Context, fn decideFunc) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	var req service.DecisionRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			HandleError(ctx, WrapError(err, http.StatusBadRequest, "invalid request"))
			return
		}
	}

	view, err := fn(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, view)
}

// Approvers 获取审批链
// GET /api/v1/batches/:id/approvers
func (c *BatchController) Approvers(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	approvers, err := c.batchService.Approvers(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, approvers)
}

// History 获取批次状态历史
// GET /api/v1/batches/:id/history
func (c *BatchController) History(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	history, err := c.batchService.History(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, history)
}

// AuditLogs 获取批次操作审计
// GET /api/v1/batches/:id/audit-logs
func (c *BatchController) AuditLogs(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	logs, err := c.batchService.AuditLogs(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, logs)
}

// AddComment 追加评论
// POST /api/v1/batches/:id/comments
func (c *BatchController) AddComment(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	var req service.CommentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		HandleError(ctx, WrapError(err, http.StatusBadRequest, "invalid request"))
		return
	}
	comment, err := c.batchService.AddComment(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, comment)
}

// ListComments 列出评论
// GET /api/v1/batches/:id/comments
func (c *BatchController) ListComments(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	comments, err := c.batchService.ListComments(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, comments)
}

// AddAttachment 追加附件
// POST /api/v1/batches/:id/attachments
func (c *BatchController) AddAttachment(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	var req service.AttachmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		HandleError(ctx, WrapError(err, http.StatusBadRequest, "invalid request"))
		return
	}
	attachment, err := c.batchService.AddAttachment(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, attachment)
}

// ListAttachments 列出附件
// GET /api/v1/batches/:id/attachments
func (c *BatchController) ListAttachments(ctx *gin.Context) {
	id, ok := batchID(ctx)
	if !ok {
		return
	}
	attachments, err := c.batchService.ListAttachments(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, attachments)
}

func optionalUint(ctx *gin.Context, key string) (*uint, error) {
	v := ctx.Query(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, err
	}
	id := uint(n)
	return &id, nil
}

func optionalTime(ctx *gin.Context, key string) (*time.Time, error) {
	v := ctx.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
