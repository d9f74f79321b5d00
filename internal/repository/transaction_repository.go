package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mykobo/anchor-solana/internal/model"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("duplicate transaction reference")
)

// TransactionRepository 交易仓储接口
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	GetByID(ctx context.Context, id string) (*model.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*model.Transaction, error)
	UpdateStatus(ctx context.Context, reference string, status model.TransactionStatus) error
	MarkCompleted(ctx context.Context, reference, txHash string) error
	MarkFailed(ctx context.Context, reference string) error
	MarkSent(ctx context.Context, reference, messageID string) error
	ListUnsent(ctx context.Context, limit int) ([]*model.Transaction, error)
	ListByWallet(ctx context.Context, wallet string, p *Pagination) ([]*model.Transaction, error)
	CountByStatus(ctx context.Context) (map[model.TransactionStatus]int64, error)
}

// transactionRepository 交易仓储实现
type transactionRepository struct {
	*Repository
}

// NewTransactionRepository 创建交易仓储
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{
		Repository: NewRepository(db),
	}
}

func (r *transactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	err := r.DB(ctx).Create(tx).Error
	if IsDuplicateKey(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, tx.Reference)
	}
	return err
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	var tx model.Transaction
	err := r.DB(ctx).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	var tx model.Transaction
	err := r.DB(ctx).Where("reference = ?", reference).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, reference string, status model.TransactionStatus) error {
	res := r.DB(ctx).Model(&model.Transaction{}).
		Where("reference = ?", reference).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkCompleted 落库链上签名并完结交易
//
// 链上划转此时已经发生, 这笔写入不能输给临时性故障, 走重试事务。
func (r *transactionRepository) MarkCompleted(ctx context.Context, reference, txHash string) error {
	return r.TransactionWithRetry(ctx, 3, func(ctx context.Context) error {
		res := r.DB(ctx).Model(&model.Transaction{}).
			Where("reference = ?", reference).
			Updates(map[string]interface{}{
				"status":     model.TransactionStatusCompleted,
				"tx_hash":    txHash,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTransactionNotFound
		}
		return nil
	})
}

func (r *transactionRepository) MarkFailed(ctx context.Context, reference string) error {
	return r.TransactionWithRetry(ctx, 3, func(ctx context.Context) error {
		return r.UpdateStatus(ctx, reference, model.TransactionStatusFailed)
	})
}

func (r *transactionRepository) MarkSent(ctx context.Context, reference, messageID string) error {
	now := time.Now().UTC()
	res := r.DB(ctx).Model(&model.Transaction{}).
		Where("reference = ?", reference).
		Updates(map[string]interface{}{
			"message_id":    messageID,
			"queue_sent_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ListUnsent 列出尚未成功投递到队列的交易 (message_id 为空)
func (r *transactionRepository) ListUnsent(ctx context.Context, limit int) ([]*model.Transaction, error) {
	var txs []*model.Transaction
	err := r.DB(ctx).
		Where("message_id IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *transactionRepository) ListByWallet(ctx context.Context, wallet string, p *Pagination) ([]*model.Transaction, error) {
	query := r.DB(ctx).Model(&model.Transaction{}).Where("wallet_address = ?", wallet)

	if p != nil {
		if err := query.Count(&p.Total).Error; err != nil {
			return nil, err
		}
		query = query.Offset(p.Offset()).Limit(p.Limit())
	}

	var txs []*model.Transaction
	if err := query.Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *transactionRepository) CountByStatus(ctx context.Context) (map[model.TransactionStatus]int64, error) {
	var rows []struct {
		Status model.TransactionStatus
		Count  int64
	}
	err := r.DB(ctx).Model(&model.Transaction{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.TransactionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
