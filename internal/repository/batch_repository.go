package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrBatchNotFound 批次不存在
var ErrBatchNotFound = errors.New("batch not found")

// BatchFilter 批次列表过滤条件
type BatchFilter struct {
	UserID           string
	AdministrationID *uint
	FormID           *uint
	Approved         *bool
	State            string // in_review, approved, rejected
	Approver         string // 只返回该用户持有审批记录的批次
	StartTime        *time.Time
	EndTime          *time.Time
	SortBy           string
	Order            string
	Page             int
	PageSize         int
}

// BatchRepository 批次仓储接口
type BatchRepository interface {
	Create(ctx context.Context, batch *model.BatchModel, submissionIDs []uint) error
	Get(ctx context.Context, id uint) (*model.BatchModel, error)
	GetForUpdate(ctx context.Context, id uint) (*model.BatchModel, error)
	MemberIDs(ctx context.Context, batchID uint) ([]uint, error)
	ActiveBatchFor(ctx context.Context, submissionIDs []uint) (map[uint]uint, error)
	MarkApproved(ctx context.Context, id uint) error
	Touch(ctx context.Context, id uint) error
	List(ctx context.Context, filter *BatchFilter) ([]*model.BatchModel, int64, error)
}

// batchRepository 批次仓储实现
type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository 创建批次仓储
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

// Create 创建批次及其成员
func (r *batchRepository) Create(ctx context.Context, batch *model.BatchModel, submissionIDs []uint) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	db := r.db.WithContext(ctx)
	if err := db.Create(batch).Error; err != nil {
		return err
	}
	if len(submissionIDs) == 0 {
		return nil
	}
	members := make([]*model.BatchMemberModel, 0, len(submissionIDs))
	for _, id := range submissionIDs {
		members = append(members, &model.BatchMemberModel{
			BatchID:      batch.ID,
			SubmissionID: id,
			CreatedAt:    batch.CreatedAt,
		})
	}
	return db.Create(&members).Error
}

// Get 根据 ID 获取批次
func (r *batchRepository) Get(ctx context.Context, id uint) (*model.BatchModel, error) {
	return r.get(r.db.WithContext(ctx), id)
}

// GetForUpdate 获取批次并加行锁,sqlite 不支持 FOR UPDATE,依赖其库级写锁
func (r *batchRepository) GetForUpdate(ctx context.Context, id uint) (*model.BatchModel, error) {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() != "sqlite" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.get(db, id)
}

func (r *batchRepository) get(db *gorm.DB, id uint) (*model.BatchModel, error) {
	var batch model.BatchModel
	if err := db.Where("id = ?", id).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrBatchNotFound, id)
		}
		return nil, err
	}
	return &batch, nil
}

// MemberIDs 返回批次成员的提交数据 ID
func (r *batchRepository) MemberIDs(ctx context.Context, batchID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.BatchMemberModel{}).
		Where("batch_id = ?", batchID).
		Order("submission_id ASC").
		Pluck("submission_id", &ids).Error
	return ids, err
}

// ActiveBatchFor 返回已属于活动批次(没有被拒绝的审批记录)的提交数据,键为提交 ID,值为批次 ID
func (r *batchRepository) ActiveBatchFor(ctx context.Context, submissionIDs []uint) (map[uint]uint, error) {
	result := make(map[uint]uint)
	if len(submissionIDs) == 0 {
		return result, nil
	}
	rejected := r.db.Model(&model.ApprovalRecordModel{}).
		Select("batch_id").
		Where("status = ?", model.ApprovalRejected)

	var rows []struct {
		BatchID      uint
		SubmissionID uint
	}
	err := r.db.WithContext(ctx).
		Model(&model.BatchMemberModel{}).
		Select("batch_id, submission_id").
		Where("submission_id IN ?", submissionIDs).
		Where("batch_id NOT IN (?)", rejected).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.SubmissionID] = row.BatchID
	}
	return result, nil
}

// MarkApproved 标记批次已通过
func (r *batchRepository) MarkApproved(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"approved": true, "updated_at": time.Now()}).Error
}

// Touch 更新批次的 updated_at
func (r *batchRepository) Touch(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.BatchModel{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// List 按条件分页查询批次
func (r *batchRepository) List(ctx context.Context, filter *BatchFilter) ([]*model.BatchModel, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.BatchModel{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.AdministrationID != nil {
		query = query.Where("administration_id = ?", *filter.AdministrationID)
	}
	if filter.FormID != nil {
		query = query.Where("form_id = ?", *filter.FormID)
	}
	if filter.Approved != nil {
		query = query.Where("approved = ?", *filter.Approved)
	}
	if filter.State != "" {
		rejected := r.db.Model(&model.ApprovalRecordModel{}).Select("batch_id").Where("status = ?", model.ApprovalRejected)
		switch filter.State {
		case "approved":
			query = query.Where("approved = ?", true)
		case "rejected":
			query = query.Where("approved = ? AND id IN (?)", false, rejected)
		case "in_review":
			query = query.Where("approved = ? AND id NOT IN (?)", false, rejected)
		default:
			return nil, 0, fmt.Errorf("unknown batch state: %s", filter.State)
		}
	}
	if filter.Approver != "" {
		owned := r.db.Model(&model.ApprovalRecordModel{}).Select("batch_id").Where("user_id = ?", filter.Approver)
		query = query.Where("id IN (?)", owned)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", *filter.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	order := filter.Order
	if order == "" {
		order = "desc"
	}
	query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: sortBy}, Desc: order == "desc"})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	var batches []*model.BatchModel
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&batches).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, total, nil
}
