package model

import (
	"errors"
	"time"
)

// FormModel 表单
// 登记表单的 ParentID 为空,监测表单指向其登记表单
type FormModel struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(255);not null"`
	ParentID  *uint     `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (FormModel) TableName() string {
	return "forms"
}

// Validate 验证表单模型
func (m *FormModel) Validate() error {
	if m.Name == "" {
		return errors.New("form name is required")
	}
	if m.ParentID != nil && *m.ParentID == m.ID && m.ID != 0 {
		return errors.New("form cannot be its own parent")
	}
	return nil
}

// RegistrationFormID 返回表单所属的登记表单 ID
func (m *FormModel) RegistrationFormID() uint {
	if m.ParentID != nil {
		return *m.ParentID
	}
	return m.ID
}
