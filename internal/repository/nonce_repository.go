package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mykobo/anchor-solana/internal/model"
)

var (
	ErrNonceNotFound = errors.New("nonce not found")
	ErrNonceUsed     = errors.New("nonce already used")
)

// NonceRepository 签名挑战仓储接口
type NonceRepository interface {
	Create(ctx context.Context, nonce *model.Nonce) error
	GetByNonce(ctx context.Context, nonce string) (*model.Nonce, error)
	MarkUsed(ctx context.Context, nonce string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// nonceRepository 签名挑战仓储实现
type nonceRepository struct {
	*Repository
}

// NewNonceRepository 创建签名挑战仓储
func NewNonceRepository(db *gorm.DB) NonceRepository {
	return &nonceRepository{
		Repository: NewRepository(db),
	}
}

func (r *nonceRepository) Create(ctx context.Context, nonce *model.Nonce) error {
	return r.DB(ctx).Create(nonce).Error
}

func (r *nonceRepository) GetByNonce(ctx context.Context, nonce string) (*model.Nonce, error) {
	var n model.Nonce
	err := r.DB(ctx).Where("nonce = ?", nonce).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNonceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkUsed 标记挑战已使用 (条件更新, 重复使用返回 ErrNonceUsed)
func (r *nonceRepository) MarkUsed(ctx context.Context, nonce string) error {
	now := time.Now().UTC()
	res := r.DB(ctx).Model(&model.Nonce{}).
		Where("nonce = ? AND used = ?", nonce, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n model.Nonce
		err := r.DB(ctx).Where("nonce = ?", nonce).First(&n).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNonceNotFound
		}
		if err != nil {
			return err
		}
		return ErrNonceUsed
	}
	return nil
}

// PurgeExpired 清理过期挑战, 返回删除数量
func (r *nonceRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.DB(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&model.Nonce{})
	return res.RowsAffected, res.Error
}
