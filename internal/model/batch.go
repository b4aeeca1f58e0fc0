package model

import (
	"errors"
	"time"
)

// BatchModel 批次,一次审批流程
type BatchModel struct {
	ID               uint      `gorm:"primaryKey"`
	FormID           uint      `gorm:"not null;index"`
	AdministrationID uint      `gorm:"not null;index"` // 提交人所在行政区划
	UserID           string    `gorm:"type:varchar(64);not null;index"`
	Name             string    `gorm:"type:varchar(255);not null"`
	UUID             *string   `gorm:"type:varchar(64);uniqueIndex"`
	File             *string   `gorm:"type:varchar(512)"` // 导出文件引用
	Approved         bool      `gorm:"not null;default:false;index"`
	CreatedAt        time.Time `gorm:"not null;index"`
	UpdatedAt        time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (BatchModel) TableName() string {
	return "batches"
}

// Validate 验证批次模型
func (m *BatchModel) Validate() error {
	if m.FormID == 0 {
		return errors.New("form ID is required")
	}
	if m.AdministrationID == 0 {
		return errors.New("administration ID is required")
	}
	if m.UserID == "" {
		return errors.New("user ID is required")
	}
	if m.Name == "" {
		return errors.New("batch name is required")
	}
	return nil
}

// BatchMemberModel 批次与提交数据的关联,创建后不可变
type BatchMemberModel struct {
	ID           uint      `gorm:"primaryKey"`
	BatchID      uint      `gorm:"not null;index"`
	SubmissionID uint      `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName 指定表名
func (BatchMemberModel) TableName() string {
	return "batch_members"
}

// BatchCommentModel 批次评论,只追加
type BatchCommentModel struct {
	ID        uint      `gorm:"primaryKey"`
	BatchID   uint      `gorm:"not null;index"`
	UserID    string    `gorm:"type:varchar(64);not null"`
	Comment   string    `gorm:"type:text;not null"`
	FileName  *string   `gorm:"type:varchar(255)"`
	FilePath  *string   `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (BatchCommentModel) TableName() string {
	return "batch_comments"
}

// Validate 验证评论模型
func (m *BatchCommentModel) Validate() error {
	if m.BatchID == 0 {
		return errors.New("batch ID is required")
	}
	if m.UserID == "" {
		return errors.New("user ID is required")
	}
	if m.Comment == "" {
		return errors.New("comment is required")
	}
	return nil
}

// BatchAttachmentModel 批次附件,只追加
type BatchAttachmentModel struct {
	ID         uint      `gorm:"primaryKey"`
	BatchID    uint      `gorm:"not null;index"`
	Name       string    `gorm:"type:varchar(255);not null"`
	FilePath   string    `gorm:"type:varchar(512);not null"`
	UploadedBy string    `gorm:"type:varchar(64)"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (BatchAttachmentModel) TableName() string {
	return "batch_attachments"
}

// Validate 验证附件模型
func (m *BatchAttachmentModel) Validate() error {
	if m.BatchID == 0 {
		return errors.New("batch ID is required")
	}
	if m.Name == "" {
		return errors.New("attachment name is required")
	}
	if m.FilePath == "" {
		return errors.New("attachment file is required")
	}
	return nil
}
