package repository

import (
	"context"
	"time"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
)

// EventRepository 事件仓储接口
type EventRepository interface {
	Save(ctx context.Context, event *model.EventModel) error
	Get(ctx context.Context, id string) (*model.EventModel, error)
	FindByBatchID(ctx context.Context, batchID uint) ([]*model.EventModel, error)
	FindRetryable(ctx context.Context, maxRetries int, limit int) ([]*model.EventModel, error)
	MarkSuccess(ctx context.Context, event *model.EventModel) error
	MarkRetry(ctx context.Context, event *model.EventModel, cause error, maxRetries int) error
}

// eventRepository 事件仓储实现
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Save 保存事件
func (r *eventRepository) Save(ctx context.Context, event *model.EventModel) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(event).Error
}

// Get 根据 ID 获取事件
func (r *eventRepository) Get(ctx context.Context, id string) (*model.EventModel, error) {
	var event model.EventModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// FindByBatchID 根据批次 ID 查找事件
func (r *eventRepository) FindByBatchID(ctx context.Context, batchID uint) ([]*model.EventModel, error) {
	var events []*model.EventModel
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at ASC, id ASC").Find(&events).Error
	return events, err
}

// FindRetryable 查找待处理或失败但未超过重试次数的事件
// maxRetries <= 0 时返回全部失败事件
func (r *eventRepository) FindRetryable(ctx context.Context, maxRetries int, limit int) ([]*model.EventModel, error) {
	var events []*model.EventModel
	query := r.db.WithContext(ctx)
	if maxRetries > 0 {
		query = query.Where("status = ? OR (status = ? AND retry_count < ?)", model.EventStatusPending, model.EventStatusFailed, maxRetries)
	} else {
		query = query.Where("status IN ?", []string{model.EventStatusPending, model.EventStatusFailed})
	}
	query = query.Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// MarkSuccess 标记事件处理成功
func (r *eventRepository) MarkSuccess(ctx context.Context, event *model.EventModel) error {
	event.Status = model.EventStatusSuccess
	event.LastError = ""
	event.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"status":     event.Status,
		"last_error": event.LastError,
		"updated_at": event.UpdatedAt,
	}).Error
}

// MarkRetry 记录一次失败,重试次数用尽后标记为失败
func (r *eventRepository) MarkRetry(ctx context.Context, event *model.EventModel, cause error, maxRetries int) error {
	event.RetryCount++
	event.LastError = cause.Error()
	event.UpdatedAt = time.Now()
	event.Status = model.EventStatusPending
	if event.RetryCount >= maxRetries {
		event.Status = model.EventStatusFailed
	}
	return r.db.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"status":      event.Status,
		"retry_count": event.RetryCount,
		"last_error":  event.LastError,
		"updated_at":  event.UpdatedAt,
	}).Error
}
