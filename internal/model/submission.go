package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SubmissionModel 表单提交数据
type SubmissionModel struct {
	ID               uint           `gorm:"primaryKey"`
	FormID           uint           `gorm:"not null;index"`
	AdministrationID uint           `gorm:"not null;index"`
	ParentID         *uint          `gorm:"index"` // 监测数据指向其登记数据
	Name             string         `gorm:"type:varchar(255)"`
	Data             datatypes.JSON
	IsPending        bool           `gorm:"not null;default:true;index"`
	IsDraft          bool           `gorm:"not null;default:false"`
	NeedsRevision    bool           `gorm:"not null;default:false"`
	CreatedBy        string         `gorm:"type:varchar(64);index"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}

// TableName 指定表名
func (SubmissionModel) TableName() string {
	return "submissions"
}

// Validate 验证提交数据模型
func (m *SubmissionModel) Validate() error {
	if m.FormID == 0 {
		return errors.New("form ID is required")
	}
	if m.AdministrationID == 0 {
		return errors.New("administration ID is required")
	}
	return nil
}

// TopLevel 是否为登记数据(非监测数据)
func (m *SubmissionModel) TopLevel() bool {
	return m.ParentID == nil
}
