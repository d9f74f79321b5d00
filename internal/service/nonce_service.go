// ========================================
// NonceService 钱包签名认证服务说明
// ========================================
//
// ## 功能概述
// 为钱包登录签发一次性挑战并校验 ed25519 签名。挑战落库存储,
// 多副本与重启间保持一致; used 置位或过期后永久失效。
//
// ========================================
package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/internal/repository"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

var (
	ErrNonceExpired     = errors.New("nonce expired")
	ErrNonceWalletMatch = errors.New("nonce was issued for a different wallet")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Challenge 签发给钱包的登录挑战
type Challenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NonceService 钱包签名认证服务
type NonceService struct {
	repo repository.NonceRepository
	ttl  time.Duration
}

// NewNonceService 创建钱包签名认证服务
func NewNonceService(repo repository.NonceRepository, ttl time.Duration) *NonceService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &NonceService{repo: repo, ttl: ttl}
}

// IssueChallenge 为钱包签发一次性登录挑战
func (s *NonceService) IssueChallenge(ctx context.Context, wallet string) (*Challenge, error) {
	if _, err := solanago.PublicKeyFromBase58(wallet); err != nil {
		return nil, fmt.Errorf("parse wallet address: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)
	expiresAt := time.Now().UTC().Add(s.ttl)

	err := s.repo.Create(ctx, &model.Nonce{
		Nonce:         nonce,
		WalletAddress: wallet,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("store nonce: %w", err)
	}

	return &Challenge{
		Nonce:     nonce,
		Message:   SignInMessage(wallet, nonce),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifySignature 校验钱包对挑战消息的 ed25519 签名
//
// 通过后挑战立即失效; 重复使用、过期或钱包不匹配都会被拒绝。
func (s *NonceService) VerifySignature(ctx context.Context, wallet, nonce, signature string) error {
	record, err := s.repo.GetByNonce(ctx, nonce)
	if err != nil {
		return err
	}
	if record.WalletAddress != wallet {
		return ErrNonceWalletMatch
	}
	if record.Used {
		return repository.ErrNonceUsed
	}
	if record.IsExpired(time.Now().UTC()) {
		return ErrNonceExpired
	}

	pubkey, err := solanago.PublicKeyFromBase58(wallet)
	if err != nil {
		return fmt.Errorf("parse wallet address: %w", err)
	}
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	message := []byte(SignInMessage(wallet, nonce))
	if !ed25519.Verify(pubkey.Bytes(), message, sig[:]) {
		return ErrInvalidSignature
	}

	if err := s.repo.MarkUsed(ctx, nonce); err != nil {
		return err
	}

	logger.Info("wallet signature verified", zap.String("wallet", wallet))
	return nil
}

// PurgeExpired 清理过期挑战
func (s *NonceService) PurgeExpired(ctx context.Context) error {
	n, err := s.repo.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge expired nonces: %w", err)
	}
	if n > 0 {
		logger.Info("purged expired nonces", zap.Int64("count", n))
	}
	return nil
}

// SignInMessage 构造钱包需要签名的规范消息
func SignInMessage(wallet, nonce string) string {
	return fmt.Sprintf("Sign in to Mykobo Anchor\nWallet: %s\nNonce: %s", wallet, nonce)
}
