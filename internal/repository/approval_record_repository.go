package repository

import (
	"context"
	"time"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalRecordRepository 审批记录仓储接口
type ApprovalRecordRepository interface {
	CreateAll(ctx context.Context, records []*model.ApprovalRecordModel) error
	FindByBatchID(ctx context.Context, batchID uint) ([]*model.ApprovalRecordModel, error)
	FindByBatchIDForUpdate(ctx context.Context, batchID uint) ([]*model.ApprovalRecordModel, error)
	FindByBatchIDs(ctx context.Context, batchIDs []uint) (map[uint][]*model.ApprovalRecordModel, error)
	Resolve(ctx context.Context, record *model.ApprovalRecordModel, status model.ApprovalStatus) (bool, error)
}

// approvalRecordRepository 审批记录仓储实现
type approvalRecordRepository struct {
	db *gorm.DB
}

// NewApprovalRecordRepository 创建审批记录仓储
func NewApprovalRecordRepository(db *gorm.DB) ApprovalRecordRepository {
	return &approvalRecordRepository{db: db}
}

// CreateAll 批量创建审批记录
func (r *approvalRecordRepository) CreateAll(ctx context.Context, records []*model.ApprovalRecordModel) error {
	if len(records) == 0 {
		return nil
	}
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

// FindByBatchID 查找批次的审批记录,按审批顺序排列
func (r *approvalRecordRepository) FindByBatchID(ctx context.Context, batchID uint) ([]*model.ApprovalRecordModel, error) {
	return r.findByBatchID(r.db.WithContext(ctx), batchID)
}

// FindByBatchIDForUpdate 查找并锁定批次的审批记录
func (r *approvalRecordRepository) FindByBatchIDForUpdate(ctx context.Context, batchID uint) ([]*model.ApprovalRecordModel, error) {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() != "sqlite" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findByBatchID(db, batchID)
}

func (r *approvalRecordRepository) findByBatchID(db *gorm.DB, batchID uint) ([]*model.ApprovalRecordModel, error) {
	var records []*model.ApprovalRecordModel
	err := db.Where("batch_id = ?", batchID).Order("level DESC, id ASC").Find(&records).Error
	return records, err
}

// FindByBatchIDs 批量查找多个批次的审批记录
func (r *approvalRecordRepository) FindByBatchIDs(ctx context.Context, batchIDs []uint) (map[uint][]*model.ApprovalRecordModel, error) {
	result := make(map[uint][]*model.ApprovalRecordModel, len(batchIDs))
	if len(batchIDs) == 0 {
		return result, nil
	}
	var records []*model.ApprovalRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id IN ?", batchIDs).
		Order("batch_id ASC, level DESC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		result[record.BatchID] = append(result[record.BatchID], record)
	}
	return result, nil
}

// Resolve 以乐观锁方式将待审批记录更新为最终状态
// 记录已被处理或版本已变化时返回 false
func (r *approvalRecordRepository) Resolve(ctx context.Context, record *model.ApprovalRecordModel, status model.ApprovalStatus) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.ApprovalRecordModel{}).
		Where("id = ? AND status = ? AND version = ?", record.ID, model.ApprovalPending, record.Version).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    record.Version + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	record.Status = status
	record.Version++
	record.UpdatedAt = now
	return true, nil
}
