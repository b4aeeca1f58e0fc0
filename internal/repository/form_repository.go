package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
)

// ErrFormNotFound 表单不存在
var ErrFormNotFound = errors.New("form not found")

// FormRepository 表单仓储接口
type FormRepository interface {
	Save(ctx context.Context, form *model.FormModel) error
	GetForm(ctx context.Context, id uint) (*model.FormModel, error)
	FindByIDs(ctx context.Context, ids []uint) (map[uint]*model.FormModel, error)
}

// formRepository 表单仓储实现
type formRepository struct {
	db *gorm.DB
}

// NewFormRepository 创建表单仓储
func NewFormRepository(db *gorm.DB) FormRepository {
	return &formRepository{db: db}
}

// Save 保存表单
func (r *formRepository) Save(ctx context.Context, form *model.FormModel) error {
	if err := form.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(form).Error
}

// GetForm 根据 ID 获取表单
func (r *formRepository) GetForm(ctx context.Context, id uint) (*model.FormModel, error) {
	var form model.FormModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&form).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrFormNotFound, id)
		}
		return nil, err
	}
	return &form, nil
}

// FindByIDs 批量获取表单
func (r *formRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]*model.FormModel, error) {
	var forms []*model.FormModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&forms).Error; err != nil {
		return nil, err
	}
	result := make(map[uint]*model.FormModel, len(forms))
	for _, f := range forms {
		result[f.ID] = f
	}
	return result, nil
}
