package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// 事件类型
const (
	EventSubmissionPromoted = "submission.promoted"
	EventBatchCreated       = "batch.created"
	EventBatchApproved      = "batch.approved"
	EventBatchRejected      = "batch.rejected"
)

// 事件状态
const (
	EventStatusPending = "pending"
	EventStatusSuccess = "success"
	EventStatusFailed  = "failed"
)

// EventModel 事件数据模型(发件箱)
// 与触发它的业务写入处于同一事务,提交后由 EventDispatcher 异步处理
type EventModel struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)"`
	BatchID      uint           `gorm:"not null;index"`
	SubmissionID *uint          `gorm:"index"`
	Type         string         `gorm:"type:varchar(32);not null;index"`
	Data         datatypes.JSON `gorm:"not null"`
	Status       string         `gorm:"type:varchar(32);not null;default:'pending';index"`
	RetryCount   int            `gorm:"type:int;default:0"`
	LastError    string         `gorm:"type:text"`
	CreatedAt    time.Time      `gorm:"not null;index"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "events"
}

// Validate 验证事件模型
func (em *EventModel) Validate() error {
	if em.ID == "" {
		return errors.New("event ID is required")
	}
	if em.Type == "" {
		return errors.New("event type is required")
	}
	if em.Type == EventSubmissionPromoted && em.SubmissionID == nil {
		return errors.New("submission ID is required for promotion events")
	}
	if len(em.Data) == 0 {
		return errors.New("event data is required")
	}
	if em.Status == "" {
		em.Status = EventStatusPending
	}
	return nil
}
