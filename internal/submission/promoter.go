package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/batch-approval/internal/metrics"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SnapshotWriter 快照存储的写接口
type SnapshotWriter interface {
	Put(snapshot *storage.Snapshot) (bool, error)
}

// PromotedPayload submission.promoted 事件内容
type PromotedPayload struct {
	BatchID      uint `json:"batch_id"`
	SubmissionID uint `json:"submission_id"`
}

// Promoter 将审批通过的提交数据从待审核转为正式数据
// 状态翻转在调用方事务内完成,快照和聚合刷新通过事件在事务提交后执行
type Promoter struct {
	db        *gorm.DB
	snapshots SnapshotWriter
	refresher storage.Refresher
	logger    logrus.FieldLogger
}

// NewPromoter 创建提交数据转正器
func NewPromoter(db *gorm.DB, snapshots SnapshotWriter, refresher storage.Refresher, logger logrus.FieldLogger) *Promoter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Promoter{
		db:        db,
		snapshots: snapshots,
		refresher: refresher,
		logger:    logger.WithField("component", "promoter"),
	}
}

// PromoteTx 在事务 tx 中转正提交数据,返回本次实际翻转的 ID
// 已经转正或已软删除的数据不会处理;只有登记数据(无父数据)会产生 submission.promoted 事件
func (p *Promoter) PromoteTx(ctx context.Context, tx *gorm.DB, batchID uint, ids []uint) ([]uint, error) {
	flipped := make([]uint, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		result := tx.WithContext(ctx).
			Model(&model.SubmissionModel{}).
			Where("id = ? AND is_pending = ?", id, true).
			Updates(map[string]interface{}{
				"is_pending":     false,
				"needs_revision": false,
				"updated_at":     now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("failed to promote submission %d: %w", id, result.Error)
		}
		if result.RowsAffected > 0 {
			flipped = append(flipped, id)
		}
	}
	if len(flipped) == 0 {
		return flipped, nil
	}

	var topLevel []uint
	err := tx.WithContext(ctx).
		Model(&model.SubmissionModel{}).
		Where("id IN ? AND parent_id IS NULL", flipped).
		Order("id ASC").
		Pluck("id", &topLevel).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load promoted submissions: %w", err)
	}

	events := repository.NewEventRepository(tx)
	for _, id := range topLevel {
		submissionID := id
		data, err := json.Marshal(PromotedPayload{BatchID: batchID, SubmissionID: submissionID})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal promotion event: %w", err)
		}
		event := &model.EventModel{
			ID:           uuid.New().String(),
			BatchID:      batchID,
			SubmissionID: &submissionID,
			Type:         model.EventSubmissionPromoted,
			Data:         data,
			Status:       model.EventStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := events.Save(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to record promotion of submission %d: %w", submissionID, err)
		}
	}

	metrics.RecordPromotions(len(flipped))
	return flipped, nil
}

// MarkForRevisionTx 在事务 tx 中将被拒绝批次的提交数据标记为需要修改,数据仍保持待审核
// 与 PromoteTx 相同,已软删除的数据不会处理
func (p *Promoter) MarkForRevisionTx(ctx context.Context, tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := tx.WithContext(ctx).
		Model(&model.SubmissionModel{}).
		Where("id IN ? AND is_pending = ?", ids, true).
		Updates(map[string]interface{}{
			"needs_revision": true,
			"updated_at":     time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark submissions for revision: %w", err)
	}
	return nil
}

// ApplySideEffects 执行转正后的副作用:写入快照(已存在则跳过),然后刷新聚合视图
// 可以安全重试
func (p *Promoter) ApplySideEffects(ctx context.Context, payload PromotedPayload) error {
	var sub model.SubmissionModel
	err := p.db.WithContext(ctx).Unscoped().Where("id = ?", payload.SubmissionID).First(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to load submission %d: %w", payload.SubmissionID, err)
	}
	if sub.IsPending {
		return fmt.Errorf("submission %d is still pending", payload.SubmissionID)
	}

	if p.snapshots != nil {
		created, err := p.snapshots.Put(storage.NewSnapshot(&sub, payload.BatchID))
		if err != nil {
			return err
		}
		p.logger.WithFields(logrus.Fields{
			"submission_id": sub.ID,
			"batch_id":      payload.BatchID,
			"created":       created,
		}).Debug("submission snapshot stored")
	}

	if p.refresher != nil {
		if err := p.refresher.Refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}
