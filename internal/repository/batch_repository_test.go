package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createBatch(t *testing.T, db *gorm.DB, userID string, admID uint, submissionIDs ...uint) *model.BatchModel {
	batch := &model.BatchModel{
		FormID:           1,
		AdministrationID: admID,
		UserID:           userID,
		Name:             "batch of " + userID,
	}
	require.NoError(t, repository.NewBatchRepository(db).Create(context.Background(), batch, submissionIDs))
	return batch
}

func TestBatchRepository_CreateAndMembers(t *testing.T) {
	db := setupTestDB(t)
	_, _, district := seedHierarchy(t, db)
	repo := repository.NewBatchRepository(db)
	ctx := context.Background()

	batch := createBatch(t, db, "u1", district.ID, 3, 1, 2)
	assert.NotZero(t, batch.ID)

	members, err := repo.MemberIDs(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, members)

	got, err := repo.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch of u1", got.Name)
	assert.False(t, got.Approved)

	locked, err := repo.GetForUpdate(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, locked.ID)

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)
}

func TestBatchRepository_ActiveBatchFor(t *testing.T) {
	db := setupTestDB(t)
	_, _, district := seedHierarchy(t, db)
	repo := repository.NewBatchRepository(db)
	records := repository.NewApprovalRecordRepository(db)
	ctx := context.Background()

	active := createBatch(t, db, "u1", district.ID, 1, 2)
	rejected := createBatch(t, db, "u1", district.ID, 3)
	require.NoError(t, records.CreateAll(ctx, []*model.ApprovalRecordModel{{
		BatchID: rejected.ID, AdministrationID: district.ID, RoleID: 1, UserID: "a1", Status: model.ApprovalRejected,
	}}))

	taken, err := repo.ActiveBatchFor(ctx, []uint{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[uint]uint{1: active.ID, 2: active.ID}, taken)
}

func TestBatchRepository_ListFilters(t *testing.T) {
	db := setupTestDB(t)
	_, province, district := seedHierarchy(t, db)
	repo := repository.NewBatchRepository(db)
	records := repository.NewApprovalRecordRepository(db)
	ctx := context.Background()

	b1 := createBatch(t, db, "u1", district.ID, 1)
	b2 := createBatch(t, db, "u2", district.ID, 2)
	createBatch(t, db, "u2", province.ID, 3)
	require.NoError(t, repo.MarkApproved(ctx, b2.ID))
	require.NoError(t, records.CreateAll(ctx, []*model.ApprovalRecordModel{{
		BatchID: b1.ID, AdministrationID: province.ID, RoleID: 1, UserID: "approver", Status: model.ApprovalPending,
	}}))

	all, total, err := repo.List(ctx, &repository.BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	byUser, total, err := repo.List(ctx, &repository.BatchFilter{UserID: "u2", AdministrationID: &district.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, b2.ID, byUser[0].ID)

	approved := true
	onlyApproved, _, err := repo.List(ctx, &repository.BatchFilter{Approved: &approved})
	require.NoError(t, err)
	require.Len(t, onlyApproved, 1)
	assert.True(t, onlyApproved[0].Approved)

	inReview, total, err := repo.List(ctx, &repository.BatchFilter{State: "in_review"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, inReview, 2)

	_, _, err = repo.List(ctx, &repository.BatchFilter{State: "lost"})
	assert.Error(t, err)

	mine, _, err := repo.List(ctx, &repository.BatchFilter{Approver: "approver"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b1.ID, mine[0].ID)

	future := time.Now().Add(time.Hour)
	none, total, err := repo.List(ctx, &repository.BatchFilter{StartTime: &future})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)

	page, total, err := repo.List(ctx, &repository.BatchFilter{SortBy: "id", Order: "asc", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
}
