package repository

import (
	"context"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
)

// BatchHistoryRepository 批次状态历史仓储接口
type BatchHistoryRepository interface {
	Save(ctx context.Context, history *model.BatchHistoryModel) error
	FindByBatchID(ctx context.Context, batchID uint) ([]*model.BatchHistoryModel, error)
}

// batchHistoryRepository 批次状态历史仓储实现
type batchHistoryRepository struct {
	db *gorm.DB
}

// NewBatchHistoryRepository 创建批次状态历史仓储
func NewBatchHistoryRepository(db *gorm.DB) BatchHistoryRepository {
	return &batchHistoryRepository{db: db}
}

// Save 保存状态历史
func (r *batchHistoryRepository) Save(ctx context.Context, history *model.BatchHistoryModel) error {
	if err := history.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(history).Error
}

// FindByBatchID 根据批次 ID 查找状态历史
func (r *batchHistoryRepository) FindByBatchID(ctx context.Context, batchID uint) ([]*model.BatchHistoryModel, error) {
	var histories []*model.BatchHistoryModel
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at ASC, id ASC").Find(&histories).Error
	return histories, err
}
