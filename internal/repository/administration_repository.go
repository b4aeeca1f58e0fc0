package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
)

// ErrAdministrationNotFound 行政区划不存在
var ErrAdministrationNotFound = errors.New("administration not found")

// AdministrationRepository 行政区划目录(只读为主)
type AdministrationRepository interface {
	Save(ctx context.Context, adm *model.AdministrationModel) error
	Get(ctx context.Context, id uint) (*model.AdministrationModel, error)
	Ancestors(ctx context.Context, adm *model.AdministrationModel) ([]*model.AdministrationModel, error)
	FindByIDs(ctx context.Context, ids []uint) (map[uint]*model.AdministrationModel, error)
	IsWithin(ctx context.Context, id uint, rootID uint) (bool, error)
}

// administrationRepository 行政区划仓储实现
type administrationRepository struct {
	db *gorm.DB
}

// NewAdministrationRepository 创建行政区划仓储
func NewAdministrationRepository(db *gorm.DB) AdministrationRepository {
	return &administrationRepository{db: db}
}

// Save 保存行政区划,根据父节点补全 Level 和 Path
func (r *administrationRepository) Save(ctx context.Context, adm *model.AdministrationModel) error {
	if adm.ParentID != nil {
		parent, err := r.Get(ctx, *adm.ParentID)
		if err != nil {
			return err
		}
		adm.Level = parent.Level + 1
		adm.Path = parent.ChildPath()
	} else {
		adm.Level = 0
		adm.Path = ""
	}
	if err := adm.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(adm).Error
}

// Get 根据 ID 获取行政区划
func (r *administrationRepository) Get(ctx context.Context, id uint) (*model.AdministrationModel, error) {
	var adm model.AdministrationModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&adm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrAdministrationNotFound, id)
		}
		return nil, err
	}
	return &adm, nil
}

// Ancestors 返回从直接父节点到根节点的祖先
func (r *administrationRepository) Ancestors(ctx context.Context, adm *model.AdministrationModel) ([]*model.AdministrationModel, error) {
	ids, err := adm.AncestorIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.AdministrationModel{}, nil
	}
	var ancestors []*model.AdministrationModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("level DESC").Find(&ancestors).Error; err != nil {
		return nil, err
	}
	return ancestors, nil
}

// FindByIDs 批量获取行政区划
func (r *administrationRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]*model.AdministrationModel, error) {
	var adms []*model.AdministrationModel
	if len(ids) > 0 {
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&adms).Error; err != nil {
			return nil, err
		}
	}
	result := make(map[uint]*model.AdministrationModel, len(adms))
	for _, adm := range adms {
		result[adm.ID] = adm
	}
	return result, nil
}

// IsWithin 判断 id 是否等于 rootID 或位于其子树中
func (r *administrationRepository) IsWithin(ctx context.Context, id uint, rootID uint) (bool, error) {
	if id == rootID {
		return true, nil
	}
	adm, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	root, err := r.Get(ctx, rootID)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(adm.Path, root.ChildPath()), nil
}
