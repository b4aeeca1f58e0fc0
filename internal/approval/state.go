package approval

import (
	"github.com/mautops/batch-approval/internal/model"
)

// BatchState 批次派生状态
type BatchState string

const (
	StateInReview BatchState = "in_review"
	StateApproved BatchState = "approved"
	StateRejected BatchState = "rejected"
)

// Decision 审批决定
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid 判断审批决定是否合法
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// DeriveState 根据审批记录计算批次状态
// 任一记录被拒绝即为 rejected;全部通过(或没有记录)为 approved;否则为 in_review
func DeriveState(records []*model.ApprovalRecordModel) BatchState {
	pending := false
	for _, r := range records {
		switch r.Status {
		case model.ApprovalRejected:
			return StateRejected
		case model.ApprovalPending:
			pending = true
		}
	}
	if pending {
		return StateInReview
	}
	return StateApproved
}

// Front 返回当前可以处理的审批记录:最基层级别上所有待审批的记录
// 批次已拒绝或没有待审批记录时返回空
func Front(records []*model.ApprovalRecordModel) []*model.ApprovalRecordModel {
	if DeriveState(records) != StateInReview {
		return nil
	}
	frontLevel := -1
	for _, r := range records {
		if r.Status == model.ApprovalPending && r.Level > frontLevel {
			frontLevel = r.Level
		}
	}
	var front []*model.ApprovalRecordModel
	for _, r := range records {
		if r.Status == model.ApprovalPending && r.Level == frontLevel {
			front = append(front, r)
		}
	}
	return front
}

// Blocker 返回阻塞 target 的审批记录:更基层级别上仍待审批的记录中 ID 最小的一条
func Blocker(records []*model.ApprovalRecordModel, target *model.ApprovalRecordModel) *model.ApprovalRecordModel {
	var blocker *model.ApprovalRecordModel
	for _, r := range records {
		if r.Status != model.ApprovalPending || r.Level <= target.Level {
			continue
		}
		if blocker == nil || r.Level > blocker.Level || (r.Level == blocker.Level && r.ID < blocker.ID) {
			blocker = r
		}
	}
	return blocker
}

// SelectForActor 选出操作人本次要处理的审批记录
// 操作人必须持有待审批记录,批次必须处于审核中,且更基层级别的记录已全部处理;
// 同一操作人持有多条待审批记录时优先处理最基层的一条
func SelectForActor(records []*model.ApprovalRecordModel, actorID string) (*model.ApprovalRecordModel, error) {
	var target *model.ApprovalRecordModel
	owned := false
	for _, r := range records {
		if r.UserID != actorID {
			continue
		}
		owned = true
		if r.Status != model.ApprovalPending {
			continue
		}
		if target == nil || r.Level > target.Level || (r.Level == target.Level && r.ID < target.ID) {
			target = r
		}
	}
	if !owned {
		return nil, PreconditionFailed("user %s is not an approver of this batch", actorID)
	}
	if target == nil {
		return nil, Conflict("approval record of %s has already been resolved", actorID)
	}
	if DeriveState(records) == StateRejected {
		return nil, PreconditionFailed("batch has been rejected and is closed for decisions")
	}
	if blocker := Blocker(records, target); blocker != nil {
		return nil, BlockedBy(blocker.ID, "approval at level %d must wait for level %d", target.Level, blocker.Level)
	}
	return target, nil
}
