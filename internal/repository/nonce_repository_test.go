package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykobo/anchor-solana/internal/model"
)

func makeNonce(expiresIn time.Duration) *model.Nonce {
	return &model.Nonce{
		Nonce:         uuid.NewString(),
		WalletAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		ExpiresAt:     time.Now().UTC().Add(expiresIn),
	}
}

func TestNonceRepository_MarkUsed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNonceRepository(db)
	ctx := context.Background()

	n := makeNonce(5 * time.Minute)
	require.NoError(t, repo.Create(ctx, n))

	t.Run("first use succeeds", func(t *testing.T) {
		require.NoError(t, repo.MarkUsed(ctx, n.Nonce))

		got, err := repo.GetByNonce(ctx, n.Nonce)
		require.NoError(t, err)
		assert.True(t, got.Used)
		assert.NotNil(t, got.UsedAt)
	})

	t.Run("second use is rejected", func(t *testing.T) {
		err := repo.MarkUsed(ctx, n.Nonce)
		assert.ErrorIs(t, err, ErrNonceUsed)
	})

	t.Run("unknown nonce", func(t *testing.T) {
		err := repo.MarkUsed(ctx, "no-such-nonce")
		assert.ErrorIs(t, err, ErrNonceNotFound)
	})
}

func TestNonceRepository_PurgeExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNonceRepository(db)
	ctx := context.Background()

	expired := makeNonce(-time.Minute)
	live := makeNonce(5 * time.Minute)
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, live))

	n, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByNonce(ctx, expired.Nonce)
	assert.ErrorIs(t, err, ErrNonceNotFound)

	got, err := repo.GetByNonce(ctx, live.Nonce)
	require.NoError(t, err)
	assert.True(t, got.Usable(time.Now().UTC()))
}
