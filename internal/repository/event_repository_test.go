package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(id string, batchID uint, created time.Time) *model.EventModel {
	return &model.EventModel{
		ID:        id,
		BatchID:   batchID,
		Type:      model.EventBatchCreated,
		Data:      []byte(`{"batch_id":1}`),
		Status:    model.EventStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestEventRepository_RetryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := repository.NewEventRepository(db)

	now := time.Now()
	first := newEvent("evt-1", 1, now.Add(-2*time.Minute))
	second := newEvent("evt-2", 1, now.Add(-time.Minute))
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	retryable, err := repo.FindRetryable(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, retryable, 2)
	assert.Equal(t, "evt-1", retryable[0].ID)

	require.NoError(t, repo.MarkSuccess(ctx, first))
	cause := errors.New("webhook down")
	require.NoError(t, repo.MarkRetry(ctx, second, cause, 2))
	assert.Equal(t, model.EventStatusPending, second.Status)
	require.NoError(t, repo.MarkRetry(ctx, second, cause, 2))
	assert.Equal(t, model.EventStatusFailed, second.Status)

	retryable, err = repo.FindRetryable(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	// 提高重试上限后失败事件可以再次处理
	retryable, err = repo.FindRetryable(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "webhook down", retryable[0].LastError)

	all, err := repo.FindRetryable(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	stored, err := repo.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusSuccess, stored.Status)

	byBatch, err := repo.FindByBatchID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byBatch, 2)
}

func TestEventRepository_SaveValidates(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewEventRepository(db)

	err := repo.Save(context.Background(), &model.EventModel{ID: "evt", Type: model.EventSubmissionPromoted, Data: []byte(`{}`)})
	assert.Error(t, err)
}
