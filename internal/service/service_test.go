package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/auth"
	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/database"
	"github.com/mautops/batch-approval/internal/integration"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/service"
	"github.com/mautops/batch-approval/internal/storage"
	"github.com/mautops/batch-approval/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type tuple struct {
	user, relation, objectType, objectID string
}

type fakeChecker struct {
	mu     sync.Mutex
	tuples []tuple
}

func (f *fakeChecker) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	return true, nil
}

func (f *fakeChecker) WriteRelations(ctx context.Context, objectType, objectID string, relations []auth.Relation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range relations {
		f.tuples = append(f.tuples, tuple{r.UserID, r.Relation, objectType, objectID})
	}
	return nil
}

type env struct {
	db      *gorm.DB
	checker *fakeChecker
	batches service.BatchService
	queries service.BatchQueryService
	audit   service.AuditLogService
	region  *model.AdministrationModel
	town    *model.AdministrationModel
	form    *model.FormModel
}

// setup 两级行政区划:region(审批人 approver) > town(提交人 clerk)
func setup(t *testing.T) *env {
	ctx := context.Background()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	store, err := storage.OpenSnapshotStore(config.SnapshotConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := &env{db: db, checker: &fakeChecker{}}
	admins := repository.NewAdministrationRepository(db)
	e.region = &model.AdministrationModel{Name: "Region"}
	require.NoError(t, admins.Save(ctx, e.region))
	e.town = &model.AdministrationModel{Name: "Town", ParentID: &e.region.ID}
	require.NoError(t, admins.Save(ctx, e.town))
	e.form = &model.FormModel{Name: "Registration"}
	require.NoError(t, repository.NewFormRepository(db).Save(ctx, e.form))

	access := repository.NewAccessRepository(db)
	approverRole := &model.RoleModel{Name: "Approver", CanApprove: true}
	require.NoError(t, access.SaveRole(ctx, approverRole))
	clerkRole := &model.RoleModel{Name: "Clerk", CanSubmit: true}
	require.NoError(t, access.SaveRole(ctx, clerkRole))
	password := "x"
	for _, u := range []struct {
		id   string
		adm  uint
		role uint
	}{{"approver", e.region.ID, approverRole.ID}, {"clerk", e.town.ID, clerkRole.ID}} {
		require.NoError(t, access.SaveUser(ctx, &model.UserModel{ID: u.id, Email: u.id + "@example.org", Password: &password}))
		require.NoError(t, access.Grant(ctx, &model.AccessModel{UserID: u.id, AdministrationID: u.adm, RoleID: u.role}))
		require.NoError(t, access.AssignForm(ctx, u.id, e.form.ID))
	}

	promoter := submission.NewPromoter(db, store, nil, nil)
	manager := integration.NewBatchManager(db, promoter, nil, nil)
	e.audit = service.NewAuditLogService(repository.NewAuditLogRepository(db))
	e.batches = service.NewBatchService(manager, e.audit, e.checker, nil)
	e.queries = service.NewBatchQueryService(manager)
	return e
}

func (e *env) submission(t *testing.T) uint {
	s := &model.SubmissionModel{FormID: e.form.ID, AdministrationID: e.town.ID, IsPending: true}
	require.NoError(t, repository.NewSubmissionRepository(e.db).Save(context.Background(), s))
	return s.ID
}

func as(userID string) context.Context {
	return service.WithRequestInfo(context.Background(), service.RequestInfo{
		UserID:    userID,
		RequestID: "req-" + userID,
		IP:        "10.0.0.1",
		UserAgent: "test",
	})
}

func TestBatchService_CreateRequiresUserAndValidRequest(t *testing.T) {
	e := setup(t)
	id := e.submission(t)

	_, err := e.batches.Create(context.Background(), &service.CreateBatchRequest{Name: "b", SubmissionIDs: []uint{id}})
	assert.True(t, errors.Is(err, service.ErrUnauthenticated))

	_, err = e.batches.Create(as("clerk"), &service.CreateBatchRequest{SubmissionIDs: []uint{id}})
	assert.True(t, approval.IsKind(err, approval.KindValidationFailed))
	assert.Contains(t, err.Error(), "Name")

	_, err = e.batches.Create(as("clerk"), &service.CreateBatchRequest{Name: "b", SubmissionIDs: []uint{0}})
	assert.True(t, approval.IsKind(err, approval.KindValidationFailed))

	_, err = e.batches.Create(as("clerk"), &service.CreateBatchRequest{
		Name:          "b",
		SubmissionIDs: []uint{id},
		Attachments:   []service.AttachmentRequest{{Name: "export"}},
	})
	assert.True(t, approval.IsKind(err, approval.KindValidationFailed))
}

func TestBatchService_CreateWritesRelationsAndAudit(t *testing.T) {
	e := setup(t)
	ctx := as("clerk")

	view, err := e.batches.Create(ctx, &service.CreateBatchRequest{Name: "b", SubmissionIDs: []uint{e.submission(t)}})
	require.NoError(t, err)
	require.Len(t, view.Records, 1)

	objectID := "1"
	assert.ElementsMatch(t, []tuple{
		{"clerk", auth.RelationCreator, auth.ObjectBatch, objectID},
		{"approver", auth.RelationApprover, auth.ObjectBatch, objectID},
	}, e.checker.tuples)

	logs, err := e.audit.ListByBatch(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, service.ActionCreate, logs[0].Action)
	assert.Equal(t, "req-clerk", logs[0].RequestID)
	assert.Equal(t, "10.0.0.1", logs[0].IP)
}

func TestBatchService_ApproveThenQuery(t *testing.T) {
	e := setup(t)
	first, err := e.batches.Create(as("clerk"), &service.CreateBatchRequest{Name: "first", SubmissionIDs: []uint{e.submission(t)}})
	require.NoError(t, err)
	second, err := e.batches.Create(as("clerk"), &service.CreateBatchRequest{Name: "second", SubmissionIDs: []uint{e.submission(t)}})
	require.NoError(t, err)

	_, err = e.batches.Approve(as("clerk"), first.ID, nil)
	assert.True(t, approval.IsKind(err, approval.KindPreconditionFailed))

	view, err := e.batches.Approve(as("approver"), first.ID, &service.DecisionRequest{Comment: "ok"})
	require.NoError(t, err)
	assert.Equal(t, approval.StateApproved, view.State)

	view, err = e.batches.Reject(as("approver"), second.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StateRejected, view.State)

	approved, total, err := e.queries.ListBatches(context.Background(), &service.ListBatchesFilter{State: "approved"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, approved, 1)
	assert.Equal(t, first.ID, approved[0].ID)

	mine, total, err := e.queries.ListBatches(as("approver"), &service.ListBatchesFilter{Approver: true, SortBy: "name", Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "first", mine[0].Name)

	_, _, err = e.queries.ListBatches(as("clerk"), &service.ListBatchesFilter{SortBy: "name; DROP TABLE batches"})
	assert.True(t, approval.IsKind(err, approval.KindValidationFailed))
	_, _, err = e.queries.ListBatches(as("clerk"), &service.ListBatchesFilter{State: "paused"})
	assert.True(t, approval.IsKind(err, approval.KindValidationFailed))
	_, _, err = e.queries.ListBatches(context.Background(), &service.ListBatchesFilter{Mine: true})
	assert.True(t, errors.Is(err, service.ErrUnauthenticated))
}

func TestBatchService_Discussion(t *testing.T) {
	e := setup(t)
	view, err := e.batches.Create(as("clerk"), &service.CreateBatchRequest{Name: "b", SubmissionIDs: []uint{e.submission(t)}})
	require.NoError(t, err)

	_, err = e.batches.AddComment(as("approver"), view.ID, &service.CommentRequest{})
	assert.True(t, approval.IsKind(err, approval.KindValidationFailed))
	_, err = e.batches.AddComment(as("approver"), view.ID, &service.CommentRequest{Comment: "where is the export?"})
	require.NoError(t, err)
	_, err = e.batches.AddAttachment(as("clerk"), view.ID, &service.AttachmentRequest{Name: "export", FilePath: "/exports/1.xlsx"})
	require.NoError(t, err)

	comments, err := e.batches.ListComments(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
	attachments, err := e.batches.ListAttachments(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Len(t, attachments, 1)

	_, err = e.batches.AddComment(as("approver"), 42, &service.CommentRequest{Comment: "x"})
	assert.True(t, approval.IsKind(err, approval.KindNotFound))
}

type fakeRepairer struct {
	calls int
	limit int
	err   error
}

func (f *fakeRepairer) ProcessPending(ctx context.Context, limit int) (int, error) {
	f.calls++
	f.limit = limit
	return 2, f.err
}

func TestRepairScheduler(t *testing.T) {
	repairer := &fakeRepairer{}
	scheduler := service.NewRepairScheduler(repairer, config.RepairConfig{Enabled: true, BatchSize: 25}, nil)

	n, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 25, repairer.limit)

	require.NoError(t, scheduler.Start())
	scheduler.Stop()

	bad := service.NewRepairScheduler(repairer, config.RepairConfig{Enabled: true, Schedule: "not a cron"}, nil)
	assert.Error(t, bad.Start())

	disabled := service.NewRepairScheduler(repairer, config.RepairConfig{}, nil)
	require.NoError(t, disabled.Start())
	disabled.Stop()
	assert.Equal(t, 1, repairer.calls)
}
