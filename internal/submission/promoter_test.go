package submission_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/database"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/storage"
	"github.com/mautops/batch-approval/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	store     *storage.SnapshotStore
	refreshes int
	promoter  *submission.Promoter
}

func setup(t *testing.T) *fixture {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	store, err := storage.OpenSnapshotStore(config.SnapshotConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{db: db, store: store}
	refresher := storage.RefreshFunc(func(ctx context.Context) error {
		f.refreshes++
		return nil
	})
	f.promoter = submission.NewPromoter(db, store, refresher, nil)
	return f
}

func (f *fixture) submission(t *testing.T, parentID *uint) *model.SubmissionModel {
	s := &model.SubmissionModel{FormID: 1, AdministrationID: 1, ParentID: parentID, Name: "s", Data: []byte(`{"v":1}`), IsPending: true}
	require.NoError(t, repository.NewSubmissionRepository(f.db).Save(context.Background(), s))
	return s
}

// promote 在独立事务中转正提交数据
func (f *fixture) promote(t *testing.T, batchID uint, ids ...uint) []uint {
	var flipped []uint
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		flipped, err = f.promoter.PromoteTx(context.Background(), tx, batchID, ids)
		return err
	}))
	return flipped
}

func TestPromoteTx_FlipsOnceAndRecordsTopLevelEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	parent := f.submission(t, nil)
	child := f.submission(t, &parent.ID)

	var flipped []uint
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		flipped, err = f.promoter.PromoteTx(ctx, tx, 9, []uint{parent.ID, child.ID})
		return err
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{parent.ID, child.ID}, flipped)

	events, err := repository.NewEventRepository(f.db).FindByBatchID(ctx, 9)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSubmissionPromoted, events[0].Type)
	require.NotNil(t, events[0].SubmissionID)
	assert.Equal(t, parent.ID, *events[0].SubmissionID)

	// 重复转正不会再次翻转或产生事件
	assert.Empty(t, f.promote(t, 9, parent.ID))
	events, err = repository.NewEventRepository(f.db).FindByBatchID(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	stored, err := repository.NewSubmissionRepository(f.db).Get(ctx, child.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsPending)
}

func TestPromoteTx_RollsBackWithTransaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.submission(t, nil)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.promoter.PromoteTx(ctx, tx, 1, []uint{s.ID}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	stored, err := repository.NewSubmissionRepository(f.db).Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPending)
}

func TestMarkForRevisionTx(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.submission(t, nil)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.promoter.MarkForRevisionTx(ctx, tx, []uint{s.ID})
	}))

	stored, err := repository.NewSubmissionRepository(f.db).Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsRevision)
	assert.True(t, stored.IsPending)
}

func TestPromoteTx_SkipsSoftDeleted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	kept := f.submission(t, nil)
	deleted := f.submission(t, nil)
	submissions := repository.NewSubmissionRepository(f.db)
	require.NoError(t, submissions.Delete(ctx, deleted.ID))

	assert.Equal(t, []uint{kept.ID}, f.promote(t, 2, kept.ID, deleted.ID))
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.promoter.MarkForRevisionTx(ctx, tx, []uint{deleted.ID})
	}))

	found, err := submissions.FindByIDs(ctx, []uint{deleted.ID}, repository.SubmissionScope{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].IsPending)
	assert.False(t, found[0].NeedsRevision)

	events, err := repository.NewEventRepository(f.db).FindByBatchID(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, kept.ID, *events[0].SubmissionID)
}

func TestApplySideEffects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.submission(t, nil)

	payload := submission.PromotedPayload{BatchID: 4, SubmissionID: s.ID}
	// 仍待审核时不写快照
	assert.Error(t, f.promoter.ApplySideEffects(ctx, payload))

	require.Equal(t, []uint{s.ID}, f.promote(t, 4, s.ID))

	require.NoError(t, f.promoter.ApplySideEffects(ctx, payload))
	require.NoError(t, f.promoter.ApplySideEffects(ctx, payload))
	assert.Equal(t, 2, f.refreshes)

	snapshot, err := f.store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(4), snapshot.BatchID)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":4,"submission_id":`+jsonUint(s.ID)+`}`, string(raw))
}

func jsonUint(v uint) string {
	b, _ := json.Marshal(v)
	return string(b)
}
