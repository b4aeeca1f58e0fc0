package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSubmissionNotFound 提交数据不存在
var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionScope 提交数据查询范围
type SubmissionScope struct {
	IncludeDrafts  bool // 包含草稿
	IncludeDeleted bool // 包含软删除的数据
	ForUpdate      bool // 加行锁,仅在事务内有意义
}

// SubmissionRepository 提交数据仓储接口
type SubmissionRepository interface {
	Save(ctx context.Context, submission *model.SubmissionModel) error
	Get(ctx context.Context, id uint) (*model.SubmissionModel, error)
	FindByIDs(ctx context.Context, ids []uint, scope SubmissionScope) ([]*model.SubmissionModel, error)
	ClearRevision(ctx context.Context, ids []uint) error
	Delete(ctx context.Context, id uint) error
}

// submissionRepository 提交数据仓储实现
type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository 创建提交数据仓储
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// Save 保存提交数据
func (r *submissionRepository) Save(ctx context.Context, submission *model.SubmissionModel) error {
	if err := submission.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(submission).Error
}

// Get 根据 ID 获取提交数据
func (r *submissionRepository) Get(ctx context.Context, id uint) (*model.SubmissionModel, error) {
	var submission model.SubmissionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrSubmissionNotFound, id)
		}
		return nil, err
	}
	return &submission, nil
}

// FindByIDs 按范围批量获取提交数据,按 ID 升序返回
func (r *submissionRepository) FindByIDs(ctx context.Context, ids []uint, scope SubmissionScope) ([]*model.SubmissionModel, error) {
	if len(ids) == 0 {
		return []*model.SubmissionModel{}, nil
	}
	query := r.db.WithContext(ctx)
	if scope.IncludeDeleted {
		query = query.Unscoped()
	}
	// sqlite 不支持 FOR UPDATE,依赖其库级写锁
	if scope.ForUpdate && query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	query = query.Where("id IN ?", ids)
	if !scope.IncludeDrafts {
		query = query.Where("is_draft = ?", false)
	}
	var submissions []*model.SubmissionModel
	if err := query.Order("id ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// ClearRevision 清除需要修改标记,提交数据重新进入批次时调用
func (r *submissionRepository) ClearRevision(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.SubmissionModel{}).
		Where("id IN ? AND needs_revision = ?", ids, true).
		Update("needs_revision", false).Error
}

// Delete 软删除提交数据
func (r *submissionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.SubmissionModel{}, id).Error
}
