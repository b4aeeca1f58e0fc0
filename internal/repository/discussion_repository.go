package repository

import (
	"context"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
)

// DiscussionRepository 批次评论和附件仓储接口
type DiscussionRepository interface {
	AddComment(ctx context.Context, comment *model.BatchCommentModel) error
	ListComments(ctx context.Context, batchID uint) ([]*model.BatchCommentModel, error)
	AddAttachment(ctx context.Context, attachment *model.BatchAttachmentModel) error
	ListAttachments(ctx context.Context, batchID uint) ([]*model.BatchAttachmentModel, error)
}

// discussionRepository 评论和附件仓储实现
type discussionRepository struct {
	db *gorm.DB
}

// NewDiscussionRepository 创建评论和附件仓储
func NewDiscussionRepository(db *gorm.DB) DiscussionRepository {
	return &discussionRepository{db: db}
}

// AddComment 追加评论
func (r *discussionRepository) AddComment(ctx context.Context, comment *model.BatchCommentModel) error {
	if err := comment.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(comment).Error
}

// ListComments 按时间顺序列出评论
func (r *discussionRepository) ListComments(ctx context.Context, batchID uint) ([]*model.BatchCommentModel, error) {
	var comments []*model.BatchCommentModel
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at ASC, id ASC").Find(&comments).Error
	return comments, err
}

// AddAttachment 追加附件
func (r *discussionRepository) AddAttachment(ctx context.Context, attachment *model.BatchAttachmentModel) error {
	if err := attachment.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(attachment).Error
}

// ListAttachments 按时间顺序列出附件
func (r *discussionRepository) ListAttachments(ctx context.Context, batchID uint) ([]*model.BatchAttachmentModel, error) {
	var attachments []*model.BatchAttachmentModel
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at ASC, id ASC").Find(&attachments).Error
	return attachments, err
}
