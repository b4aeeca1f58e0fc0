package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/metrics"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/submission"
	"github.com/mautops/batch-approval/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventNotifier 在事务提交后通知事件分发器处理批次的待处理事件
type EventNotifier interface {
	Notify(batchID uint)
}

// AttachmentInput 附件
type AttachmentInput struct {
	Name     string
	FilePath string
}

// CreateBatchInput 创建批次参数
type CreateBatchInput struct {
	ActorID       string
	Name          string
	SubmissionIDs []uint
	Comment       string
	UUID          *string
	File          *string
	Attachments   []AttachmentInput
}

// DecideInput 审批参数
type DecideInput struct {
	BatchID  uint
	ActorID  string
	Decision approval.Decision
	Comment  string
}

// CommentInput 评论参数
type CommentInput struct {
	BatchID  uint
	ActorID  string
	Comment  string
	FileName *string
	FilePath *string
}

// ApproverView 审批链中的一条记录
type ApproverView struct {
	RecordID           uint                 `json:"record_id"`
	AdministrationID   uint                 `json:"administration_id"`
	AdministrationName string               `json:"administration_name"`
	Level              int                  `json:"level"`
	RoleID             uint                 `json:"role_id"`
	RoleName           string               `json:"role_name"`
	UserID             string               `json:"user_id"`
	UserEmail          string               `json:"user_email"`
	UserName           string               `json:"user_name"`
	Status             model.ApprovalStatus `json:"status"`
	Current            bool                 `json:"current"` // 当前可以处理
	UpdatedAt          time.Time            `json:"updated_at"`
}

// BatchView 批次及其派生状态
type BatchView struct {
	*model.BatchModel
	State         approval.BatchState           `json:"state"`
	SubmissionIDs []uint                        `json:"submission_ids"`
	Records       []*model.ApprovalRecordModel `json:"records"`
}

// BatchManager 批次管理器:创建批次、推进审批、维护评论和附件
type BatchManager struct {
	db       *gorm.DB
	promoter *submission.Promoter
	notifier EventNotifier
	logger   logrus.FieldLogger
}

// NewBatchManager 创建批次管理器,notifier 可以为 nil
func NewBatchManager(db *gorm.DB, promoter *submission.Promoter, notifier EventNotifier, logger logrus.FieldLogger) *BatchManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BatchManager{
		db:       db,
		promoter: promoter,
		notifier: notifier,
		logger:   logger.WithField("component", "batch_manager"),
	}
}

// resolverFor 返回绑定到 tx 的审批链计算器
func resolverFor(tx *gorm.DB) *approval.Resolver {
	return approval.NewResolver(
		repository.NewAdministrationRepository(tx),
		repository.NewFormRepository(tx),
		repository.NewAccessRepository(tx),
	)
}

// Create 创建批次
// 批次、成员、审批记录、评论、附件和事件在同一事务中写入;审批链为空时批次直接通过并转正全部成员
func (m *BatchManager) Create(ctx context.Context, input CreateBatchInput) (*BatchView, error) {
	// 1. 参数校验
	if err := utils.ValidateBatchName(input.Name); err != nil {
		return nil, approval.ValidationFailed("invalid batch name: %v", err)
	}
	if err := utils.ValidateIDSet(input.SubmissionIDs); err != nil {
		return nil, approval.ValidationFailed("invalid submission ids: %v", err)
	}
	if input.ActorID == "" {
		return nil, approval.ValidationFailed("actor is required")
	}

	var batch *model.BatchModel
	var chainLen int
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		batch, chainLen, err = m.createTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBatchCreated(chainLen == 0)
	m.logger.WithFields(logrus.Fields{
		"batch_id":    batch.ID,
		"actor":       input.ActorID,
		"submissions": len(input.SubmissionIDs),
		"chain":       chainLen,
	}).Info("batch created")
	m.notify(batch.ID)

	return m.Get(ctx, batch.ID)
}

func (m *BatchManager) createTx(ctx context.Context, tx *gorm.DB, input CreateBatchInput) (*model.BatchModel, int, error) {
	// 2. 加载并锁定提交数据,排除草稿和已删除数据
	submissionRepo := repository.NewSubmissionRepository(tx)
	submissions, err := submissionRepo.FindByIDs(ctx, input.SubmissionIDs, repository.SubmissionScope{ForUpdate: true})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load submissions: %w", err)
	}
	if missing := missingIDs(input.SubmissionIDs, submissions); len(missing) > 0 {
		return nil, 0, approval.NotFound("submissions not found: %v", missing)
	}

	// 3. 必须处于待审核状态且不属于活动批次
	for _, s := range submissions {
		if !s.IsPending {
			return nil, 0, approval.PreconditionFailed("submission %d is not pending", s.ID)
		}
	}
	batches := repository.NewBatchRepository(tx)
	taken, err := batches.ActiveBatchFor(ctx, input.SubmissionIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to check batch membership: %w", err)
	}
	if len(taken) > 0 {
		ids := make([]uint, 0, len(taken))
		for id := range taken {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return nil, 0, approval.PreconditionFailed("submission %d already belongs to active batch %d", ids[0], taken[ids[0]])
	}

	// 4. 所有提交数据必须属于同一登记表单
	formIDs := make([]uint, 0, len(submissions))
	for _, s := range submissions {
		formIDs = append(formIDs, s.FormID)
	}
	forms, err := repository.NewFormRepository(tx).FindByIDs(ctx, formIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load forms: %w", err)
	}
	var registrationFormID uint
	for _, s := range submissions {
		form, ok := forms[s.FormID]
		if !ok {
			return nil, 0, approval.NotFound("form %d of submission %d not found", s.FormID, s.ID)
		}
		if registrationFormID == 0 {
			registrationFormID = form.RegistrationFormID()
		} else if form.RegistrationFormID() != registrationFormID {
			return nil, 0, approval.ValidationFailed("submissions span more than one registration form")
		}
	}

	// 5. 确定批次行政区划,成员必须位于其子树内
	administrationID := submissions[0].AdministrationID
	primary, err := repository.NewAccessRepository(tx).PrimaryAdministration(ctx, input.ActorID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve actor administration: %w", err)
	}
	if primary != nil {
		administrationID = *primary
	}
	admins := repository.NewAdministrationRepository(tx)
	for _, s := range submissions {
		within, err := admins.IsWithin(ctx, s.AdministrationID, administrationID)
		if err != nil {
			if errors.Is(err, repository.ErrAdministrationNotFound) {
				return nil, 0, approval.NotFound("administration of submission %d not found", s.ID)
			}
			return nil, 0, err
		}
		if !within {
			return nil, 0, approval.ValidationFailed("submission %d is outside administration %d", s.ID, administrationID)
		}
	}

	// 6. 计算审批链
	targets := make([]approval.Target, 0, len(submissions))
	for _, s := range submissions {
		targets = append(targets, approval.Target{AdministrationID: s.AdministrationID, FormID: s.FormID})
	}
	chain, err := resolverFor(tx).ResolveChain(ctx, targets)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve approval chain: %w", err)
	}

	// 7. 写入批次、成员和审批记录
	now := time.Now()
	batch := &model.BatchModel{
		FormID:           registrationFormID,
		AdministrationID: administrationID,
		UserID:           input.ActorID,
		Name:             strings.TrimSpace(input.Name),
		UUID:             input.UUID,
		File:             input.File,
		Approved:         len(chain) == 0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := batches.Create(ctx, batch, input.SubmissionIDs); err != nil {
		return nil, 0, fmt.Errorf("failed to create batch: %w", err)
	}
	if err := submissionRepo.ClearRevision(ctx, input.SubmissionIDs); err != nil {
		return nil, 0, fmt.Errorf("failed to clear revision flag: %w", err)
	}

	records := make([]*model.ApprovalRecordModel, 0, len(chain))
	for _, c := range chain {
		records = append(records, &model.ApprovalRecordModel{
			BatchID:          batch.ID,
			AdministrationID: c.AdministrationID,
			RoleID:           c.RoleID,
			Level:            c.Level,
			UserID:           c.UserID,
			Status:           model.ApprovalPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	if err := repository.NewApprovalRecordRepository(tx).CreateAll(ctx, records); err != nil {
		return nil, 0, fmt.Errorf("failed to create approval records: %w", err)
	}

	// 8. 评论和附件
	discussion := repository.NewDiscussionRepository(tx)
	if comment := strings.TrimSpace(input.Comment); comment != "" {
		if err := discussion.AddComment(ctx, &model.BatchCommentModel{
			BatchID:   batch.ID,
			UserID:    input.ActorID,
			Comment:   comment,
			CreatedAt: now,
		}); err != nil {
			return nil, 0, fmt.Errorf("failed to add comment: %w", err)
		}
	}
	for _, a := range input.Attachments {
		if err := discussion.AddAttachment(ctx, &model.BatchAttachmentModel{
			BatchID:    batch.ID,
			Name:       a.Name,
			FilePath:   a.FilePath,
			UploadedBy: input.ActorID,
			CreatedAt:  now,
		}); err != nil {
			return nil, 0, approval.ValidationFailed("invalid attachment: %v", err)
		}
	}

	// 9. 状态历史和事件;审批链为空时直接转正
	state := approval.DeriveState(records)
	if err := saveHistory(ctx, tx, batch.ID, "", state, "batch created", input.ActorID); err != nil {
		return nil, 0, err
	}
	if err := saveEvent(ctx, tx, batch.ID, model.EventBatchCreated, batchPayload(batch, state, input.ActorID)); err != nil {
		return nil, 0, err
	}
	if len(chain) == 0 {
		if _, err := m.promoter.PromoteTx(ctx, tx, batch.ID, input.SubmissionIDs); err != nil {
			return nil, 0, err
		}
		if err := saveEvent(ctx, tx, batch.ID, model.EventBatchApproved, batchPayload(batch, state, input.ActorID)); err != nil {
			return nil, 0, err
		}
	}

	return batch, len(chain), nil
}

// Decide 审批人对批次做出同意或拒绝
func (m *BatchManager) Decide(ctx context.Context, input DecideInput) (*BatchView, error) {
	if !input.Decision.Valid() {
		return nil, approval.ValidationFailed("unknown decision %q", input.Decision)
	}
	if input.ActorID == "" {
		return nil, approval.ValidationFailed("actor is required")
	}

	var state approval.BatchState
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = m.decideTx(ctx, tx, input)
		return err
	})
	metrics.RecordDecision(string(input.Decision), outcomeOf(err))
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"batch_id": input.BatchID,
		"actor":    input.ActorID,
		"decision": input.Decision,
		"state":    state,
	}).Info("batch decision applied")
	m.notify(input.BatchID)

	return m.Get(ctx, input.BatchID)
}

func (m *BatchManager) decideTx(ctx context.Context, tx *gorm.DB, input DecideInput) (approval.BatchState, error) {
	// 1. 锁定批次和审批记录
	batches := repository.NewBatchRepository(tx)
	batch, err := batches.GetForUpdate(ctx, input.BatchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return "", approval.NotFound("batch %d not found", input.BatchID)
		}
		return "", err
	}
	recordRepo := repository.NewApprovalRecordRepository(tx)
	records, err := recordRepo.FindByBatchIDForUpdate(ctx, batch.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load approval records: %w", err)
	}

	// 2. 选出操作人当前可以处理的记录
	target, err := approval.SelectForActor(records, input.ActorID)
	if err != nil {
		return "", err
	}

	// 3. 乐观锁更新记录
	fromState := approval.DeriveState(records)
	status := model.ApprovalApproved
	if input.Decision == approval.DecisionReject {
		status = model.ApprovalRejected
	}
	ok, err := recordRepo.Resolve(ctx, target, status)
	if err != nil {
		return "", fmt.Errorf("failed to update approval record: %w", err)
	}
	if !ok {
		return "", approval.Conflict("approval record %d was resolved concurrently", target.ID)
	}
	toState := approval.DeriveState(records)

	// 4. 推进批次
	memberIDs, err := batches.MemberIDs(ctx, batch.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load batch members: %w", err)
	}
	switch toState {
	case approval.StateApproved:
		if err := batches.MarkApproved(ctx, batch.ID); err != nil {
			return "", fmt.Errorf("failed to approve batch: %w", err)
		}
		if _, err := m.promoter.PromoteTx(ctx, tx, batch.ID, memberIDs); err != nil {
			return "", err
		}
		if err := saveEvent(ctx, tx, batch.ID, model.EventBatchApproved, batchPayload(batch, toState, input.ActorID)); err != nil {
			return "", err
		}
	case approval.StateRejected:
		if err := batches.Touch(ctx, batch.ID); err != nil {
			return "", fmt.Errorf("failed to update batch: %w", err)
		}
		if err := m.promoter.MarkForRevisionTx(ctx, tx, memberIDs); err != nil {
			return "", err
		}
		if err := saveEvent(ctx, tx, batch.ID, model.EventBatchRejected, batchPayload(batch, toState, input.ActorID)); err != nil {
			return "", err
		}
	default:
		if err := batches.Touch(ctx, batch.ID); err != nil {
			return "", fmt.Errorf("failed to update batch: %w", err)
		}
	}

	// 5. 状态历史和评论
	reason := fmt.Sprintf("%s record %d at level %d", input.Decision, target.ID, target.Level)
	if err := saveHistory(ctx, tx, batch.ID, fromState, toState, reason, input.ActorID); err != nil {
		return "", err
	}
	if comment := strings.TrimSpace(input.Comment); comment != "" {
		if err := repository.NewDiscussionRepository(tx).AddComment(ctx, &model.BatchCommentModel{
			BatchID:   batch.ID,
			UserID:    input.ActorID,
			Comment:   comment,
			CreatedAt: time.Now(),
		}); err != nil {
			return "", fmt.Errorf("failed to add comment: %w", err)
		}
	}

	return toState, nil
}

// Get 获取批次及其成员和审批记录
func (m *BatchManager) Get(ctx context.Context, id uint) (*BatchView, error) {
	batch, err := repository.NewBatchRepository(m.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, approval.NotFound("batch %d not found", id)
		}
		return nil, err
	}
	memberIDs, err := repository.NewBatchRepository(m.db).MemberIDs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch members: %w", err)
	}
	records, err := repository.NewApprovalRecordRepository(m.db).FindByBatchID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval records: %w", err)
	}
	return &BatchView{
		BatchModel:    batch,
		State:         approval.DeriveState(records),
		SubmissionIDs: memberIDs,
		Records:       records,
	}, nil
}

// List 按条件查询批次
func (m *BatchManager) List(ctx context.Context, filter *repository.BatchFilter) ([]*BatchView, int64, error) {
	batches, total, err := repository.NewBatchRepository(m.db).List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uint, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	records, err := repository.NewApprovalRecordRepository(m.db).FindByBatchIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load approval records: %w", err)
	}
	views := make([]*BatchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, &BatchView{
			BatchModel: b,
			State:      approval.DeriveState(records[b.ID]),
			Records:    records[b.ID],
		})
	}
	return views, total, nil
}

// Approvers 返回批次的审批链,按审批顺序排列
func (m *BatchManager) Approvers(ctx context.Context, batchID uint) ([]*ApproverView, error) {
	if _, err := m.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}
	records, err := repository.NewApprovalRecordRepository(m.db).FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval records: %w", err)
	}

	admIDs := make([]uint, 0, len(records))
	roleIDs := make([]uint, 0, len(records))
	userIDs := make([]string, 0, len(records))
	for _, r := range records {
		admIDs = append(admIDs, r.AdministrationID)
		roleIDs = append(roleIDs, r.RoleID)
		userIDs = append(userIDs, r.UserID)
	}
	adms, err := repository.NewAdministrationRepository(m.db).FindByIDs(ctx, admIDs)
	if err != nil {
		return nil, err
	}
	access := repository.NewAccessRepository(m.db)
	roles, err := access.GetRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	users, err := access.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	current := make(map[uint]bool)
	for _, r := range approval.Front(records) {
		current[r.ID] = true
	}

	views := make([]*ApproverView, 0, len(records))
	for _, r := range records {
		view := &ApproverView{
			RecordID:         r.ID,
			AdministrationID: r.AdministrationID,
			Level:            r.Level,
			RoleID:           r.RoleID,
			UserID:           r.UserID,
			Status:           r.Status,
			Current:          current[r.ID],
			UpdatedAt:        r.UpdatedAt,
		}
		if adm, ok := adms[r.AdministrationID]; ok {
			view.AdministrationName = adm.Name
		}
		if role, ok := roles[r.RoleID]; ok {
			view.RoleName = role.Name
		}
		if user, ok := users[r.UserID]; ok {
			view.UserEmail = user.Email
			view.UserName = user.Name
		}
		views = append(views, view)
	}
	return views, nil
}

// AddComment 追加评论
func (m *BatchManager) AddComment(ctx context.Context, input CommentInput) (*model.BatchCommentModel, error) {
	if _, err := m.requireBatch(ctx, input.BatchID); err != nil {
		return nil, err
	}
	comment := &model.BatchCommentModel{
		BatchID:   input.BatchID,
		UserID:    input.ActorID,
		Comment:   strings.TrimSpace(input.Comment),
		FileName:  input.FileName,
		FilePath:  input.FilePath,
		CreatedAt: time.Now(),
	}
	if err := repository.NewDiscussionRepository(m.db).AddComment(ctx, comment); err != nil {
		return nil, approval.ValidationFailed("invalid comment: %v", err)
	}
	return comment, nil
}

// ListComments 列出评论
func (m *BatchManager) ListComments(ctx context.Context, batchID uint) ([]*model.BatchCommentModel, error) {
	if _, err := m.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return repository.NewDiscussionRepository(m.db).ListComments(ctx, batchID)
}

// AddAttachment 追加附件
func (m *BatchManager) AddAttachment(ctx context.Context, batchID uint, actorID string, input AttachmentInput) (*model.BatchAttachmentModel, error) {
	if _, err := m.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}
	attachment := &model.BatchAttachmentModel{
		BatchID:    batchID,
		Name:       strings.TrimSpace(input.Name),
		FilePath:   input.FilePath,
		UploadedBy: actorID,
		CreatedAt:  time.Now(),
	}
	if err := repository.NewDiscussionRepository(m.db).AddAttachment(ctx, attachment); err != nil {
		return nil, approval.ValidationFailed("invalid attachment: %v", err)
	}
	return attachment, nil
}

// ListAttachments 列出附件
func (m *BatchManager) ListAttachments(ctx context.Context, batchID uint) ([]*model.BatchAttachmentModel, error) {
	if _, err := m.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return repository.NewDiscussionRepository(m.db).ListAttachments(ctx, batchID)
}

// History 返回批次状态历史
func (m *BatchManager) History(ctx context.Context, batchID uint) ([]*model.BatchHistoryModel, error) {
	if _, err := m.requireBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return repository.NewBatchHistoryRepository(m.db).FindByBatchID(ctx, batchID)
}

func (m *BatchManager) requireBatch(ctx context.Context, id uint) (*model.BatchModel, error) {
	batch, err := repository.NewBatchRepository(m.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, approval.NotFound("batch %d not found", id)
		}
		return nil, err
	}
	return batch, nil
}

func (m *BatchManager) notify(batchID uint) {
	if m.notifier != nil {
		m.notifier.Notify(batchID)
	}
}

// BatchPayload 批次事件内容
type BatchPayload struct {
	BatchID          uint                `json:"batch_id"`
	Name             string              `json:"name"`
	FormID           uint                `json:"form_id"`
	AdministrationID uint                `json:"administration_id"`
	State            approval.BatchState `json:"state"`
	Actor            string              `json:"actor"`
}

func batchPayload(batch *model.BatchModel, state approval.BatchState, actor string) BatchPayload {
	return BatchPayload{
		BatchID:          batch.ID,
		Name:             batch.Name,
		FormID:           batch.FormID,
		AdministrationID: batch.AdministrationID,
		State:            state,
		Actor:            actor,
	}
}

func saveEvent(ctx context.Context, tx *gorm.DB, batchID uint, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	now := time.Now()
	event := &model.EventModel{
		ID:        uuid.New().String(),
		BatchID:   batchID,
		Type:      eventType,
		Data:      data,
		Status:    model.EventStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repository.NewEventRepository(tx).Save(ctx, event); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func saveHistory(ctx context.Context, tx *gorm.DB, batchID uint, from, to approval.BatchState, reason, operator string) error {
	history := &model.BatchHistoryModel{
		BatchID:   batchID,
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
		Operator:  operator,
		CreatedAt: time.Now(),
	}
	if err := repository.NewBatchHistoryRepository(tx).Save(ctx, history); err != nil {
		return fmt.Errorf("failed to save batch history: %w", err)
	}
	return nil
}

// missingIDs 返回 ids 中没有对应提交数据的 ID
func missingIDs(ids []uint, found []*model.SubmissionModel) []uint {
	present := make(map[uint]bool, len(found))
	for _, s := range found {
		present[s.ID] = true
	}
	var missing []uint
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// outcomeOf 将错误映射为指标标签
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch approval.KindOf(err) {
	case approval.KindNotFound:
		return "not_found"
	case approval.KindPreconditionFailed:
		return "precondition_failed"
	case approval.KindConflict:
		return "conflict"
	case approval.KindValidationFailed:
		return "validation_failed"
	}
	return "error"
}
