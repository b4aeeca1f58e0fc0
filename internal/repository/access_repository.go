package repository

import (
	"context"
	"errors"

	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/model"
	"gorm.io/gorm"
)

// AccessRepository 角色授权目录
type AccessRepository interface {
	SaveUser(ctx context.Context, user *model.UserModel) error
	SaveRole(ctx context.Context, role *model.RoleModel) error
	Grant(ctx context.Context, access *model.AccessModel) error
	AssignForm(ctx context.Context, userID string, formID uint) error
	UsersWithCapability(ctx context.Context, administrationIDs []uint, capability model.Capability, formIDs []uint) ([]approval.Grant, error)
	PrimaryAdministration(ctx context.Context, userID string) (*uint, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*model.UserModel, error)
	GetRoles(ctx context.Context, ids []uint) (map[uint]*model.RoleModel, error)
}

// accessRepository 角色授权仓储实现
type accessRepository struct {
	db *gorm.DB
}

// NewAccessRepository 创建角色授权仓储
func NewAccessRepository(db *gorm.DB) AccessRepository {
	return &accessRepository{db: db}
}

// SaveUser 保存用户
func (r *accessRepository) SaveUser(ctx context.Context, user *model.UserModel) error {
	if user.ID == "" || user.Email == "" {
		return errors.New("user ID and email are required")
	}
	return r.db.WithContext(ctx).Save(user).Error
}

// SaveRole 保存角色
func (r *accessRepository) SaveRole(ctx context.Context, role *model.RoleModel) error {
	if role.Name == "" {
		return errors.New("role name is required")
	}
	return r.db.WithContext(ctx).Save(role).Error
}

// Grant 授予用户在行政区划上的角色
func (r *accessRepository) Grant(ctx context.Context, access *model.AccessModel) error {
	if err := access.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(access).Error
}

// AssignForm 为用户分配表单
func (r *accessRepository) AssignForm(ctx context.Context, userID string, formID uint) error {
	return r.db.WithContext(ctx).Create(&model.UserFormModel{UserID: userID, FormID: formID}).Error
}

// grantRow 联表查询结果
type grantRow struct {
	AdministrationID uint
	RoleID           uint
	UserID           string
	Email            string
}

// UsersWithCapability 查找在指定行政区划上具备能力、账号已激活且被分配了指定表单的用户
func (r *accessRepository) UsersWithCapability(
	ctx context.Context,
	administrationIDs []uint,
	capability model.Capability,
	formIDs []uint,
) ([]approval.Grant, error) {
	if len(administrationIDs) == 0 || len(formIDs) == 0 {
		return []approval.Grant{}, nil
	}
	column, err := model.CapabilityColumn(capability)
	if err != nil {
		return nil, err
	}

	var rows []grantRow
	err = r.db.WithContext(ctx).
		Table("accesses AS a").
		Select("DISTINCT a.administration_id, a.role_id, a.user_id, u.email").
		Joins("JOIN roles AS r ON r.id = a.role_id").
		Joins("JOIN users AS u ON u.id = a.user_id").
		Joins("JOIN user_forms AS uf ON uf.user_id = a.user_id").
		Where("a.administration_id IN ?", administrationIDs).
		Where("r."+column+" = ?", true).
		Where("u.password IS NOT NULL AND u.password <> ''").
		Where("uf.form_id IN ?", formIDs).
		Order("a.administration_id, u.email, a.user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	grants := make([]approval.Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, approval.Grant{
			AdministrationID: row.AdministrationID,
			RoleID:           row.RoleID,
			UserID:           row.UserID,
			UserEmail:        row.Email,
		})
	}
	return grants, nil
}

// PrimaryAdministration 返回用户授权中最基层的行政区划,没有授权时返回 nil
func (r *accessRepository) PrimaryAdministration(ctx context.Context, userID string) (*uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Table("accesses AS a").
		Select("a.administration_id").
		Joins("JOIN administrations AS adm ON adm.id = a.administration_id").
		Where("a.user_id = ?", userID).
		Order("adm.level DESC, a.administration_id ASC").
		Limit(1).
		Pluck("a.administration_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return &ids[0], nil
}

// GetUsers 批量获取用户
func (r *accessRepository) GetUsers(ctx context.Context, ids []string) (map[string]*model.UserModel, error) {
	var users []*model.UserModel
	if len(ids) > 0 {
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, err
		}
	}
	result := make(map[string]*model.UserModel, len(users))
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// GetRoles 批量获取角色
func (r *accessRepository) GetRoles(ctx context.Context, ids []uint) (map[uint]*model.RoleModel, error) {
	var roles []*model.RoleModel
	if len(ids) > 0 {
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&roles).Error; err != nil {
			return nil, err
		}
	}
	result := make(map[uint]*model.RoleModel, len(roles))
	for _, role := range roles {
		result[role.ID] = role
	}
	return result, nil
}
