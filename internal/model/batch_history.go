package model

import (
	"errors"
	"time"
)

// BatchHistoryModel 批次状态变更历史
type BatchHistoryModel struct {
	ID        uint      `gorm:"primaryKey"`
	BatchID   uint      `gorm:"not null;index"`
	FromState string    `gorm:"type:varchar(32)"`
	ToState   string    `gorm:"type:varchar(32);not null"`
	Reason    string    `gorm:"type:text"`
	Operator  string    `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (BatchHistoryModel) TableName() string {
	return "batch_history"
}

// Validate 验证状态历史模型
func (m *BatchHistoryModel) Validate() error {
	if m.BatchID == 0 {
		return errors.New("batch ID is required")
	}
	if m.ToState == "" {
		return errors.New("to state is required")
	}
	if m.Operator == "" {
		return errors.New("operator is required")
	}
	return nil
}
