package approval

import (
	"context"
	"fmt"
	"sort"

	"github.com/mautops/batch-approval/internal/model"
)

// AdministrationReader 行政区划目录的只读接口
type AdministrationReader interface {
	Get(ctx context.Context, id uint) (*model.AdministrationModel, error)
	// Ancestors 返回从直接父节点到根节点的祖先
	Ancestors(ctx context.Context, adm *model.AdministrationModel) ([]*model.AdministrationModel, error)
}

// FormReader 表单目录的只读接口
type FormReader interface {
	GetForm(ctx context.Context, id uint) (*model.FormModel, error)
}

// Grant 用户在某个行政区划上通过某个角色获得的能力
type Grant struct {
	AdministrationID uint
	RoleID           uint
	UserID           string
	UserEmail        string
}

// AccessReader 角色授权目录的只读接口
// 只返回账号已激活且被分配了 formIDs 中任一表单的用户
type AccessReader interface {
	UsersWithCapability(ctx context.Context, administrationIDs []uint, capability model.Capability, formIDs []uint) ([]Grant, error)
}

// Candidate 审批链上的一个候选审批人
type Candidate struct {
	AdministrationID uint
	Level            int
	RoleID           uint
	UserID           string
	UserEmail        string
}

// Target 需要计算审批链的 (行政区划, 表单) 组合
type Target struct {
	AdministrationID uint
	FormID           uint
}

// Resolver 审批链计算器
type Resolver struct {
	admins AdministrationReader
	forms  FormReader
	access AccessReader
}

// NewResolver 创建审批链计算器
func NewResolver(admins AdministrationReader, forms FormReader, access AccessReader) *Resolver {
	return &Resolver{admins: admins, forms: forms, access: access}
}

// Resolve 计算某个提交所在行政区划和表单需要的候选审批人
// 顺序为从最基层的行政区划到最高层级,同级按用户邮箱和 ID 排序;没有审批人时返回空列表
func (r *Resolver) Resolve(ctx context.Context, administrationID uint, formID uint) ([]Candidate, error) {
	adm, err := r.admins.Get(ctx, administrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get administration %d: %w", administrationID, err)
	}
	ancestors, err := r.admins.Ancestors(ctx, adm)
	if err != nil {
		return nil, fmt.Errorf("failed to get ancestors of administration %d: %w", administrationID, err)
	}

	form, err := r.forms.GetForm(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to get form %d: %w", formID, err)
	}
	formIDs := []uint{form.ID}
	if form.ParentID != nil {
		formIDs = append(formIDs, *form.ParentID)
	}

	levels := make(map[uint]int, len(ancestors)+1)
	levels[adm.ID] = adm.Level
	admIDs := []uint{adm.ID}
	for _, a := range ancestors {
		levels[a.ID] = a.Level
		admIDs = append(admIDs, a.ID)
	}

	grants, err := r.access.UsersWithCapability(ctx, admIDs, model.CapabilityApprove, formIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to find approvers: %w", err)
	}

	type key struct {
		user string
		role uint
		adm  uint
	}
	seen := make(map[key]bool, len(grants))
	candidates := make([]Candidate, 0, len(grants))
	for _, g := range grants {
		level, ok := levels[g.AdministrationID]
		if !ok {
			continue
		}
		k := key{user: g.UserID, role: g.RoleID, adm: g.AdministrationID}
		if seen[k] {
			continue
		}
		seen[k] = true
		candidates = append(candidates, Candidate{
			AdministrationID: g.AdministrationID,
			Level:            level,
			RoleID:           g.RoleID,
			UserID:           g.UserID,
			UserEmail:        g.UserEmail,
		})
	}
	SortCandidates(candidates)
	return candidates, nil
}

// ResolveChain 计算多个 (行政区划, 表单) 组合的合并审批链
// 每个不同的 (行政区划, 角色) 只保留一个要求,指派给排序后的第一个候选人
func (r *Resolver) ResolveChain(ctx context.Context, targets []Target) ([]Candidate, error) {
	var all []Candidate
	seenTarget := make(map[Target]bool, len(targets))
	for _, t := range targets {
		if seenTarget[t] {
			continue
		}
		seenTarget[t] = true
		candidates, err := r.Resolve(ctx, t.AdministrationID, t.FormID)
		if err != nil {
			return nil, err
		}
		all = append(all, candidates...)
	}
	return Requirements(all), nil
}

// Requirements 将候选人归并为每个 (行政区划, 角色) 一个审批要求
func Requirements(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	SortCandidates(sorted)

	type key struct {
		adm  uint
		role uint
	}
	seen := make(map[key]bool, len(sorted))
	result := make([]Candidate, 0, len(sorted))
	for _, c := range sorted {
		k := key{adm: c.AdministrationID, role: c.RoleID}
		if seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, c)
	}
	return result
}

// SortCandidates 按审批顺序排序:行政级别从高数值(基层)到 0(最高层),同级按邮箱、用户 ID、角色排序
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.AdministrationID != b.AdministrationID {
			return a.AdministrationID < b.AdministrationID
		}
		if a.UserEmail != b.UserEmail {
			return a.UserEmail < b.UserEmail
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.RoleID < b.RoleID
	})
}
