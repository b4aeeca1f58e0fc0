package model

import (
	"errors"
)

// Capability 角色能力
type Capability string

const (
	CapabilityApprove Capability = "approve"
	CapabilitySubmit  Capability = "submit"
	CapabilityEdit    Capability = "edit"
	CapabilityDelete  Capability = "delete"
)

// UserModel 用户
// ID 与 Keycloak token 中的 sub 一致;Password 为空表示账号尚未激活
type UserModel struct {
	ID       string  `gorm:"primaryKey;type:varchar(64)"`
	Email    string  `gorm:"type:varchar(255);not null;uniqueIndex"`
	Name     string  `gorm:"type:varchar(255)"`
	Password *string `gorm:"type:varchar(255)"`
}

// TableName 指定表名
func (UserModel) TableName() string {
	return "users"
}

// Activated 账号是否已激活
func (m *UserModel) Activated() bool {
	return m.Password != nil && *m.Password != ""
}

// RoleModel 角色及其能力
type RoleModel struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"type:varchar(64);not null;uniqueIndex"`
	CanApprove bool   `gorm:"not null;default:false"`
	CanSubmit  bool   `gorm:"not null;default:false"`
	CanEdit    bool   `gorm:"not null;default:false"`
	CanDelete  bool   `gorm:"not null;default:false"`
}

// TableName 指定表名
func (RoleModel) TableName() string {
	return "roles"
}

// Has 判断角色是否具备指定能力
func (m *RoleModel) Has(c Capability) bool {
	switch c {
	case CapabilityApprove:
		return m.CanApprove
	case CapabilitySubmit:
		return m.CanSubmit
	case CapabilityEdit:
		return m.CanEdit
	case CapabilityDelete:
		return m.CanDelete
	}
	return false
}

// CapabilityColumn 返回能力对应的列名
func CapabilityColumn(c Capability) (string, error) {
	switch c {
	case CapabilityApprove:
		return "can_approve", nil
	case CapabilitySubmit:
		return "can_submit", nil
	case CapabilityEdit:
		return "can_edit", nil
	case CapabilityDelete:
		return "can_delete", nil
	}
	return "", errors.New("unknown capability: " + string(c))
}

// AccessModel 用户在某个行政区划上持有的角色
type AccessModel struct {
	ID               uint   `gorm:"primaryKey"`
	UserID           string `gorm:"type:varchar(64);not null;index"`
	AdministrationID uint   `gorm:"not null;index"`
	RoleID           uint   `gorm:"not null"`
}

// TableName 指定表名
func (AccessModel) TableName() string {
	return "accesses"
}

// Validate 验证访问授权模型
func (m *AccessModel) Validate() error {
	if m.UserID == "" {
		return errors.New("user ID is required")
	}
	if m.AdministrationID == 0 {
		return errors.New("administration ID is required")
	}
	if m.RoleID == 0 {
		return errors.New("role ID is required")
	}
	return nil
}

// UserFormModel 用户被分配的表单
type UserFormModel struct {
	ID     uint   `gorm:"primaryKey"`
	UserID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_form"`
	FormID uint   `gorm:"not null;uniqueIndex:idx_user_form"`
}

// TableName 指定表名
func (UserFormModel) TableName() string {
	return "user_forms"
}
