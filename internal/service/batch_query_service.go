package service

import (
	"context"
	"time"

	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/integration"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/utils"
)

// 允许排序的字段
var sortableFields = map[string]bool{
	"id":         true,
	"name":       true,
	"created_at": true,
	"updated_at": true,
}

// BatchQueryService 批次查询服务接口
type BatchQueryService interface {
	ListBatches(ctx context.Context, filter *ListBatchesFilter) ([]*integration.BatchView, int64, error)
}

// ListBatchesFilter 批次列表查询过滤器
type ListBatchesFilter struct {
	State            string
	FormID           *uint
	AdministrationID *uint
	Approved         *bool
	Mine             bool // 只返回当前用户创建的批次
	Approver         bool // 只返回当前用户参与审批的批次
	StartTime        *time.Time
	EndTime          *time.Time
	Page             int
	PageSize         int
	SortBy           string
	Order            string
}

type batchQueryService struct {
	manager *integration.BatchManager
}

// NewBatchQueryService 创建批次查询服务
func NewBatchQueryService(manager *integration.BatchManager) BatchQueryService {
	return &batchQueryService{manager: manager}
}

// ListBatches 列出批次
func (s *batchQueryService) ListBatches(ctx context.Context, filter *ListBatchesFilter) ([]*integration.BatchView, int64, error) {
	if filter == nil {
		filter = &ListBatchesFilter{}
	}

	// 1. 验证状态
	switch approval.BatchState(filter.State) {
	case "", approval.StateInReview, approval.StateApproved, approval.StateRejected:
	default:
		return nil, 0, approval.ValidationFailed("unknown state %q", filter.State)
	}

	// 2. 验证排序字段和方向,防止 SQL 注入
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if err := utils.ValidateSortField(sortBy); err != nil || !sortableFields[sortBy] {
		return nil, 0, approval.ValidationFailed("invalid sort field %q", sortBy)
	}
	order, err := utils.NormalizeSortOrder(filter.Order)
	if err != nil {
		return nil, 0, approval.ValidationFailed("invalid sort order %q", filter.Order)
	}
	if filter.PageSize > 100 {
		return nil, 0, approval.ValidationFailed("page_size must not exceed 100")
	}

	// 3. 当前用户相关过滤
	repoFilter := &repository.BatchFilter{
		AdministrationID: filter.AdministrationID,
		FormID:           filter.FormID,
		Approved:         filter.Approved,
		State:            filter.State,
		StartTime:        filter.StartTime,
		EndTime:          filter.EndTime,
		SortBy:           sortBy,
		Order:            order,
		Page:             filter.Page,
		PageSize:         filter.PageSize,
	}
	if filter.Mine || filter.Approver {
		userID, err := actor(ctx)
		if err != nil {
			return nil, 0, err
		}
		if filter.Mine {
			repoFilter.UserID = userID
		}
		if filter.Approver {
			repoFilter.Approver = userID
		}
	}

	return s.manager.List(ctx, repoFilter)
}
