package service

import (
	"context"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/internal/repository"
)

func signChallenge(t *testing.T, key solanago.PrivateKey, wallet, nonce string) string {
	sig, err := key.Sign([]byte(SignInMessage(wallet, nonce)))
	require.NoError(t, err)
	return sig.String()
}

func TestNonceService_VerifySignature(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewNonceRepository(db)
	svc := NewNonceService(repo, 5*time.Minute)
	ctx := context.Background()

	wallet := solanago.NewWallet()
	addr := wallet.PublicKey().String()

	challenge, err := svc.IssueChallenge(ctx, addr)
	require.NoError(t, err)
	assert.NotEmpty(t, challenge.Nonce)
	assert.Contains(t, challenge.Message, addr)
	assert.Contains(t, challenge.Message, challenge.Nonce)

	t.Run("valid signature accepted once", func(t *testing.T) {
		sig := signChallenge(t, wallet.PrivateKey, addr, challenge.Nonce)
		require.NoError(t, svc.VerifySignature(ctx, addr, challenge.Nonce, sig))

		// 挑战一次性: 再次使用被拒绝
		err := svc.VerifySignature(ctx, addr, challenge.Nonce, sig)
		assert.ErrorIs(t, err, repository.ErrNonceUsed)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		other, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)

		attacker := solanago.NewWallet()
		sig := signChallenge(t, attacker.PrivateKey, addr, other.Nonce)
		assert.ErrorIs(t, svc.VerifySignature(ctx, addr, other.Nonce, sig), ErrInvalidSignature)
	})

	t.Run("wallet mismatch rejected", func(t *testing.T) {
		other, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)

		stranger := solanago.NewWallet().PublicKey().String()
		sig := signChallenge(t, wallet.PrivateKey, stranger, other.Nonce)
		assert.ErrorIs(t, svc.VerifySignature(ctx, stranger, other.Nonce, sig), ErrNonceWalletMatch)
	})

	t.Run("unknown nonce rejected", func(t *testing.T) {
		sig := signChallenge(t, wallet.PrivateKey, addr, "no-such-nonce")
		assert.ErrorIs(t, svc.VerifySignature(ctx, addr, "no-such-nonce", sig), repository.ErrNonceNotFound)
	})
}

func TestNonceService_Expiry(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewNonceRepository(db)
	svc := NewNonceService(repo, 5*time.Minute)
	ctx := context.Background()

	wallet := solanago.NewWallet()
	addr := wallet.PublicKey().String()

	challenge, err := svc.IssueChallenge(ctx, addr)
	require.NoError(t, err)

	// 把过期时间拨回到过去
	require.NoError(t, db.Model(&model.Nonce{}).
		Where("nonce = ?", challenge.Nonce).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	sig := signChallenge(t, wallet.PrivateKey, addr, challenge.Nonce)
	assert.ErrorIs(t, svc.VerifySignature(ctx, addr, challenge.Nonce, sig), ErrNonceExpired)

	require.NoError(t, svc.PurgeExpired(ctx))
	_, err = repo.GetByNonce(ctx, challenge.Nonce)
	assert.ErrorIs(t, err, repository.ErrNonceNotFound)
}

func TestNonceService_RejectsInvalidWallet(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNonceService(repository.NewNonceRepository(db), 5*time.Minute)

	_, err := svc.IssueChallenge(context.Background(), "not-a-base58-pubkey")
	assert.Error(t, err)
}
