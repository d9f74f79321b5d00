// ========================================
// RetryService 交易重发服务说明
// ========================================
//
// ## 功能概述
// 交易先落库再入队, 入队失败时 message_id 留空。本服务周期性
// 扫描 message_id 为空的交易, 从数据库行重建交易创建指令并
// 重新投递, 成功后回填 message_id 与入队时间。
//
// ## 失败语义
// 单条重发失败只记日志, 不中断本轮其余交易; 下一轮会再次扫到。
//
// ========================================
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/metrics"
	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/internal/queue"
	"github.com/mykobo/anchor-solana/internal/repository"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

// RetryResult 单条交易的重发结果
type RetryResult struct {
	Reference string `json:"reference"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RetryService 交易重发服务
type RetryService struct {
	txRepo   repository.TransactionRepository
	producer queue.Producer
	tokens   TokenSource

	batchSize int
	interval  time.Duration
}

// RetryServiceConfig 配置
type RetryServiceConfig struct {
	BatchSize int
	Interval  time.Duration
}

// NewRetryService 创建交易重发服务
func NewRetryService(
	txRepo repository.TransactionRepository,
	producer queue.Producer,
	tokens TokenSource,
	cfg RetryServiceConfig,
) *RetryService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &RetryService{
		txRepo:    txRepo,
		producer:  producer,
		tokens:    tokens,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
	}
}

// Run 运行重发循环, 直到 ctx 取消
func (s *RetryService) Run(ctx context.Context) error {
	logger.Info("transaction retry worker started",
		zap.Int("batch_size", s.batchSize),
		zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("transaction retry worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RetryAll(ctx, s.batchSize); err != nil {
				logger.Error("retry pass failed", zap.Error(err))
			}
		}
	}
}

// ListUnsent 列出尚未成功入队的交易
func (s *RetryService) ListUnsent(ctx context.Context, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	txs, err := s.txRepo.ListUnsent(ctx, limit)
	if err != nil {
		return nil, err
	}
	metrics.UnsentTransactionsGauge.Set(float64(len(txs)))
	return txs, nil
}

// RetryAll 重发一批未入队交易, 返回逐条结果
func (s *RetryService) RetryAll(ctx context.Context, limit int) ([]RetryResult, error) {
	txs, err := s.ListUnsent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsent transactions: %w", err)
	}

	results := make([]RetryResult, 0, len(txs))
	for _, tx := range txs {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		result := RetryResult{Reference: tx.Reference}
		msgID, err := s.RetryOne(ctx, tx)
		if err != nil {
			metrics.RetriedTransactionsTotal.WithLabelValues("failed").Inc()
			result.Error = err.Error()
			logger.Error("retry transaction failed",
				zap.String("reference", tx.Reference), zap.Error(err))
		} else {
			metrics.RetriedTransactionsTotal.WithLabelValues("success").Inc()
			result.MessageID = msgID
			logger.Info("transaction re-queued",
				zap.String("reference", tx.Reference),
				zap.String("message_id", msgID))
		}
		results = append(results, result)
	}
	return results, nil
}

// RetryOne 从数据库行重建交易创建指令并重新投递
func (s *RetryService) RetryOne(ctx context.Context, tx *model.Transaction) (string, error) {
	token, err := s.tokens.AcquireToken(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}

	payload := &model.TransactionPayload{
		ExternalReference: tx.ID,
		Source:            tx.Source,
		Reference:         tx.Reference,
		FirstName:         tx.FirstName,
		LastName:          tx.LastName,
		TransactionType:   tx.TransactionType,
		Status:            string(tx.Status),
		IncomingCurrency:  tx.IncomingCurrency,
		OutgoingCurrency:  tx.OutgoingCurrency,
		Value:             tx.Value,
		Fee:               tx.Fee,
		Payer:             tx.PayerID,
		Payee:             tx.PayeeID,
	}

	// 沿用原始幂等键, 下游据此辨认重复投递
	env, err := model.NewEnvelope(tx.Source, model.InstructionTransaction, token, tx.IdempotencyKey, payload)
	if err != nil {
		return "", fmt.Errorf("build envelope: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	msgID, err := s.producer.Send(ctx, model.InstructionTransaction, body)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	if err := s.txRepo.MarkSent(ctx, tx.Reference, msgID); err != nil {
		// 消息已入队但回填失败, 下一轮会重复投递, 由幂等键兜底
		return msgID, fmt.Errorf("mark sent: %w", err)
	}
	return msgID, nil
}
