package model

import (
	"errors"
	"time"
)

// ApprovalStatus 审批记录状态
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRecordModel 审批记录数据模型
// 每个批次每个 (行政区划, 角色) 仅一条,随批次一起创建
type ApprovalRecordModel struct {
	ID               uint           `gorm:"primaryKey"`
	BatchID          uint           `gorm:"not null;uniqueIndex:idx_records_requirement"`
	AdministrationID uint           `gorm:"not null;uniqueIndex:idx_records_requirement"`
	RoleID           uint           `gorm:"not null;uniqueIndex:idx_records_requirement"`
	Level            int            `gorm:"type:int;not null"` // 创建时的行政级别快照
	UserID           string         `gorm:"type:varchar(64);not null;index"`
	Status           ApprovalStatus `gorm:"type:varchar(32);not null;default:'pending'"`
	Version          int            `gorm:"type:int;not null;default:0"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (ApprovalRecordModel) TableName() string {
	return "approval_records"
}

// Validate 验证审批记录模型
func (arm *ApprovalRecordModel) Validate() error {
	if arm.BatchID == 0 {
		return errors.New("batch ID is required")
	}
	if arm.AdministrationID == 0 {
		return errors.New("administration ID is required")
	}
	if arm.RoleID == 0 {
		return errors.New("role ID is required")
	}
	if arm.UserID == "" {
		return errors.New("approver is required")
	}
	switch arm.Status {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
	default:
		return errors.New("invalid approval status")
	}
	return nil
}
