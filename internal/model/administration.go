package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AdministrationModel 行政区划节点
// Path 保存祖先 ID 的物化路径,例如 "1.4." 表示父节点为 4、根节点为 1,根节点的 Path 为空
type AdministrationModel struct {
	ID       uint   `gorm:"primaryKey"`
	ParentID *uint  `gorm:"index"`
	Name     string `gorm:"type:varchar(255);not null"`
	Level    int    `gorm:"type:int;not null;index"` // 根节点为 0
	Path     string `gorm:"type:varchar(255);index"`
}

// TableName 指定表名
func (AdministrationModel) TableName() string {
	return "administrations"
}

// Validate 验证行政区划模型
func (m *AdministrationModel) Validate() error {
	if m.Name == "" {
		return errors.New("administration name is required")
	}
	if m.Level < 0 {
		return errors.New("administration level must not be negative")
	}
	if m.ParentID == nil && m.Path != "" {
		return errors.New("root administration must not have a path")
	}
	return nil
}

// AncestorIDs 解析物化路径,返回从根到直接父节点的祖先 ID
func (m *AdministrationModel) AncestorIDs() ([]uint, error) {
	trimmed := strings.Trim(m.Path, ".")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ".")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid administration path %q: %w", m.Path, err)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// ChildPath 返回子节点应使用的物化路径
func (m *AdministrationModel) ChildPath() string {
	return fmt.Sprintf("%s%d.", m.Path, m.ID)
}
