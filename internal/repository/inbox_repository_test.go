package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykobo/anchor-solana/internal/model"
)

func makeInbox(messageID, reference string) *model.Inbox {
	return &model.Inbox{
		MessageID:            messageID,
		ReceiptHandle:        "rh-" + messageID,
		MessageBody:          fmt.Sprintf(`{"reference":%q,"status":"FUNDS_RECEIVED"}`, reference),
		TransactionReference: reference,
		Status:               model.InboxStatusPending,
		ReceivedAt:           time.Now().UTC(),
	}
}

func TestInboxRepository_Insert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	t.Run("insert and fetch", func(t *testing.T) {
		msg := makeInbox("msg-001", "MYK123")
		require.NoError(t, repo.Insert(ctx, msg))

		got, err := repo.GetByMessageID(ctx, "msg-001")
		require.NoError(t, err)
		assert.Equal(t, model.InboxStatusPending, got.Status)
		assert.Equal(t, "MYK123", got.TransactionReference)
		assert.Contains(t, got.MessageBody, "FUNDS_RECEIVED")
	})

	t.Run("duplicate message id is rejected", func(t *testing.T) {
		dup := makeInbox("msg-001", "MYK123")
		err := repo.Insert(ctx, dup)
		assert.ErrorIs(t, err, ErrDuplicateInbox)
	})

	t.Run("missing message id returns not found", func(t *testing.T) {
		_, err := repo.GetByMessageID(ctx, "msg-404")
		assert.ErrorIs(t, err, ErrInboxNotFound)
	})
}

func TestInboxRepository_ClaimProcessing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	msg := makeInbox("msg-010", "MYK123")
	require.NoError(t, repo.Insert(ctx, msg))

	t.Run("claim pending succeeds once", func(t *testing.T) {
		require.NoError(t, repo.ClaimProcessing(ctx, msg.ID))

		got, err := repo.GetByMessageID(ctx, "msg-010")
		require.NoError(t, err)
		assert.Equal(t, model.InboxStatusProcessing, got.Status)
		assert.NotNil(t, got.ProcessingStartedAt)

		// 第二次认领同一行必须失败
		err = repo.ClaimProcessing(ctx, msg.ID)
		assert.ErrorIs(t, err, ErrNotClaimable)
	})

	t.Run("claim completed row fails", func(t *testing.T) {
		require.NoError(t, repo.MarkCompleted(ctx, msg.ID))
		err := repo.ClaimProcessing(ctx, msg.ID)
		assert.ErrorIs(t, err, ErrNotClaimable)
	})
}

func TestInboxRepository_MarkCompletedAndFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	msg := makeInbox("msg-020", "MYK123")
	require.NoError(t, repo.Insert(ctx, msg))

	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "chain transfer failed"))
	got, err := repo.GetByMessageID(ctx, "msg-020")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusFailed, got.Status)
	assert.Equal(t, "chain transfer failed", got.LastError)
	assert.Equal(t, 1, got.RetryCount)

	require.NoError(t, repo.MarkCompleted(ctx, msg.ID))
	got, err = repo.GetByMessageID(ctx, "msg-020")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusCompleted, got.Status)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.ProcessedAt)

	assert.ErrorIs(t, repo.MarkCompleted(ctx, 9999), ErrInboxNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, 9999, "x"), ErrInboxNotFound)
}

func TestInboxRepository_ListPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		msg := makeInbox(fmt.Sprintf("msg-03%d", i), "MYK123")
		msg.ReceivedAt = time.Now().UTC().Add(time.Duration(-i) * time.Minute)
		require.NoError(t, repo.Insert(ctx, msg))
	}

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	// 按到达时间升序
	assert.Equal(t, "msg-033", pending[0].MessageID)

	require.NoError(t, repo.ClaimProcessing(ctx, pending[0].ID))
	pending, err = repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	limited, err := repo.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestInboxRepository_ResetFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	a := makeInbox("msg-040", "MYK123")
	b := makeInbox("msg-041", "MYK124")
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))
	require.NoError(t, repo.MarkFailed(ctx, a.ID, "boom"))

	n, err := repo.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByMessageID(ctx, "msg-040")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusPending, got.Status)
}

func TestInboxRepository_ReapStuckProcessing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	stuck := makeInbox("msg-050", "MYK123")
	fresh := makeInbox("msg-051", "MYK124")
	require.NoError(t, repo.Insert(ctx, stuck))
	require.NoError(t, repo.Insert(ctx, fresh))
	require.NoError(t, repo.ClaimProcessing(ctx, stuck.ID))
	require.NoError(t, repo.ClaimProcessing(ctx, fresh.ID))

	// 把第一条的认领时间拨回到回收阈值之前
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&model.Inbox{}).
		Where("id = ?", stuck.ID).
		Update("processing_started_at", old).Error)

	n, err := repo.ReapStuckProcessing(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByMessageID(ctx, "msg-050")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusPending, got.Status)

	got, err = repo.GetByMessageID(ctx, "msg-051")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusProcessing, got.Status)
}

func TestInboxRepository_CountByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInboxRepository(db)
	ctx := context.Background()

	a := makeInbox("msg-060", "MYK123")
	b := makeInbox("msg-061", "MYK124")
	c := makeInbox("msg-062", "MYK125")
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))
	require.NoError(t, repo.Insert(ctx, c))
	require.NoError(t, repo.MarkCompleted(ctx, a.ID))
	require.NoError(t, repo.MarkFailed(ctx, b.ID, "x"))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.InboxStatusPending])
	assert.Equal(t, int64(1), counts[model.InboxStatusCompleted])
	assert.Equal(t, int64(1), counts[model.InboxStatusFailed])
}
