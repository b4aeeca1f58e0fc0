package approval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory 内存版行政区划、表单和授权目录
type fakeDirectory struct {
	admins map[uint]*model.AdministrationModel
	forms  map[uint]*model.FormModel
	grants []fakeGrant
}

type fakeGrant struct {
	approval.Grant
	forms []uint
}

func (d *fakeDirectory) Get(ctx context.Context, id uint) (*model.AdministrationModel, error) {
	adm, ok := d.admins[id]
	if !ok {
		return nil, errors.New("administration not found")
	}
	return adm, nil
}

func (d *fakeDirectory) Ancestors(ctx context.Context, adm *model.AdministrationModel) ([]*model.AdministrationModel, error) {
	var result []*model.AdministrationModel
	for cur := adm; cur.ParentID != nil; {
		parent := d.admins[*cur.ParentID]
		result = append(result, parent)
		cur = parent
	}
	return result, nil
}

func (d *fakeDirectory) GetForm(ctx context.Context, id uint) (*model.FormModel, error) {
	form, ok := d.forms[id]
	if !ok {
		return nil, errors.New("form not found")
	}
	return form, nil
}

func (d *fakeDirectory) UsersWithCapability(ctx context.Context, administrationIDs []uint, capability model.Capability, formIDs []uint) ([]approval.Grant, error) {
	var result []approval.Grant
	for _, g := range d.grants {
		if !containsUint(administrationIDs, g.AdministrationID) {
			continue
		}
		matched := false
		for _, f := range g.forms {
			if containsUint(formIDs, f) {
				matched = true
			}
		}
		if matched {
			result = append(result, g.Grant)
		}
	}
	return result, nil
}

func containsUint(list []uint, v uint) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func uintPtr(v uint) *uint { return &v }

// newFakeDirectory 构建 1(0级) <- 2(1级) <- 3(2级) <- 4(3级) 的行政区划链
func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		admins: map[uint]*model.AdministrationModel{
			1: {ID: 1, Name: "National", Level: 0},
			2: {ID: 2, ParentID: uintPtr(1), Name: "Province", Level: 1, Path: "1."},
			3: {ID: 3, ParentID: uintPtr(2), Name: "District", Level: 2, Path: "1.2."},
			4: {ID: 4, ParentID: uintPtr(3), Name: "Sub-district", Level: 3, Path: "1.2.3."},
		},
		forms: map[uint]*model.FormModel{
			10: {ID: 10, Name: "Registration"},
			11: {ID: 11, Name: "Monitoring", ParentID: uintPtr(10)},
			20: {ID: 20, Name: "Other"},
		},
	}
}

func (d *fakeDirectory) grant(adm uint, role uint, user string, email string, forms ...uint) {
	d.grants = append(d.grants, fakeGrant{
		Grant: approval.Grant{AdministrationID: adm, RoleID: role, UserID: user, UserEmail: email},
		forms: forms,
	})
}

func newResolver(d *fakeDirectory) *approval.Resolver {
	return approval.NewResolver(d, d, d)
}

// TestResolver_OrdersFromLocalToSenior 测试审批链从基层到最高层排序
func TestResolver_OrdersFromLocalToSenior(t *testing.T) {
	d := newFakeDirectory()
	d.grant(1, 1, "u-national", "national@example.com", 10)
	d.grant(3, 1, "u-district", "district@example.com", 10)
	d.grant(4, 1, "u-sub", "sub@example.com", 10)
	d.grant(2, 1, "u-province", "province@example.com", 10)

	chain, err := newResolver(d).Resolve(context.Background(), 4, 10)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, []int{3, 2, 1, 0}, []int{chain[0].Level, chain[1].Level, chain[2].Level, chain[3].Level})
	assert.Equal(t, "u-sub", chain[0].UserID)
	assert.Equal(t, "u-national", chain[3].UserID)
}

// TestResolver_SameLevelTieBreak 测试同级按邮箱排序
func TestResolver_SameLevelTieBreak(t *testing.T) {
	d := newFakeDirectory()
	d.grant(3, 1, "u-b", "b@example.com", 10)
	d.grant(3, 2, "u-a", "a@example.com", 10)

	chain, err := newResolver(d).Resolve(context.Background(), 3, 10)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "u-a", chain[0].UserID)
	assert.Equal(t, "u-b", chain[1].UserID)
}

// TestResolver_ParentFormAssignment 测试监测表单可匹配登记表单的分配
func TestResolver_ParentFormAssignment(t *testing.T) {
	d := newFakeDirectory()
	d.grant(2, 1, "u-province", "province@example.com", 10)
	d.grant(3, 1, "u-other", "other@example.com", 20)

	chain, err := newResolver(d).Resolve(context.Background(), 4, 11)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "u-province", chain[0].UserID)
}

// TestResolver_Deduplicates 测试同一 (用户, 角色, 行政区划) 只出现一次
func TestResolver_Deduplicates(t *testing.T) {
	d := newFakeDirectory()
	d.grant(3, 1, "u-district", "district@example.com", 10)
	d.grant(3, 1, "u-district", "district@example.com", 10, 11)

	chain, err := newResolver(d).Resolve(context.Background(), 4, 11)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

// TestResolver_EmptyIsValid 测试没有审批人时返回空列表
func TestResolver_EmptyIsValid(t *testing.T) {
	d := newFakeDirectory()
	chain, err := newResolver(d).Resolve(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

// TestResolver_RootOnly 测试根节点只计算自身
func TestResolver_RootOnly(t *testing.T) {
	d := newFakeDirectory()
	d.grant(1, 1, "u-national", "national@example.com", 10)
	d.grant(2, 1, "u-province", "province@example.com", 10)

	chain, err := newResolver(d).Resolve(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, uint(1), chain[0].AdministrationID)
}

// TestResolver_UnknownAdministration 测试行政区划不存在时返回错误
func TestResolver_UnknownAdministration(t *testing.T) {
	_, err := newResolver(newFakeDirectory()).Resolve(context.Background(), 99, 10)
	assert.Error(t, err)
}

// TestResolver_ResolveChainUnion 测试多个组合合并为每个 (行政区划, 角色) 一个要求
func TestResolver_ResolveChainUnion(t *testing.T) {
	d := newFakeDirectory()
	d.grant(3, 1, "u-reg", "reg@example.com", 10)
	d.grant(3, 1, "u-mon", "mon@example.com", 11)
	d.grant(2, 1, "u-province", "province@example.com", 10)

	chain, err := newResolver(d).ResolveChain(context.Background(), []approval.Target{
		{AdministrationID: 4, FormID: 10},
		{AdministrationID: 4, FormID: 11},
		{AdministrationID: 4, FormID: 10},
	})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, uint(3), chain[0].AdministrationID)
	assert.Equal(t, "u-mon", chain[0].UserID)
	assert.Equal(t, uint(2), chain[1].AdministrationID)
}
