// ========================================
// ProcessorService 交易处理服务说明
// ========================================
//
// ## 功能概述
// 把已落库、已鉴权的收件箱消息转化为账本状态迁移, 并在满足
// 条件时执行至多一次链上划转。
//
// ## 处理流程
//   1. 按到达顺序取一批 pending 收件箱行, 逐行独立处理
//   2. 条件认领 (pending -> processing), 认领失败跳过
//   3. 解析 reference/status, 查找交易记录
//   4. FUNDS_RECEIVED: 无条件推进到 PENDING_ANCHOR
//   5. 按 状态 x 交易类型 决策表判断是否划转:
//      - DEPOSIT  在 PENDING_ANCHOR + APPROVED -> 划转
//      - WITHDRAW 在 PENDING_PAYEE  + APPROVED -> 划转
//      - 其余组合不划转, 消息仍标记完成
//   6. 划转成功: 交易 COMPLETED + tx_hash + 付款确认消息;
//      划转失败: 交易 FAILED + 状态更新消息, 错误上抛使收件箱行
//      也标记失败 (两侧记录不允许对成败产生分歧)
//
// ## 出站消息失败语义
// 令牌获取失败是配置级关键错误, 上抛使收件箱行标记失败,
// 留下重试入口; 取得令牌之后的队列投递失败只记日志。
//
// ========================================
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/metrics"
	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/internal/queue"
	"github.com/mykobo/anchor-solana/internal/repository"
	"github.com/mykobo/anchor-solana/internal/solana"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

var (
	ErrMissingReference = errors.New("notification has no transaction reference")
	ErrMissingWallet    = errors.New("transaction has no wallet address")
	ErrMissingCurrency  = errors.New("transaction has no outgoing currency")
	ErrNonPositiveValue = errors.New("transaction value must be positive")
	ErrNonPositiveNet   = errors.New("net amount must be positive")
)

// TokenSource 服务令牌来源
type TokenSource interface {
	AcquireToken(ctx context.Context) (string, error)
}

// ProcessorService 交易处理服务
type ProcessorService struct {
	inboxRepo repository.InboxRepository
	txRepo    repository.TransactionRepository
	chain     solana.Transferrer
	producer  queue.Producer
	tokens    TokenSource

	source       string
	batchSize    int
	pollInterval time.Duration
	reapAfter    time.Duration
}

// ProcessorServiceConfig 配置
type ProcessorServiceConfig struct {
	Source       string
	BatchSize    int
	PollInterval time.Duration
	ReapAfter    time.Duration
}

// NewProcessorService 创建交易处理服务
func NewProcessorService(
	inboxRepo repository.InboxRepository,
	txRepo repository.TransactionRepository,
	chain solana.Transferrer,
	producer queue.Producer,
	tokens TokenSource,
	cfg ProcessorServiceConfig,
) *ProcessorService {
	if cfg.Source == "" {
		cfg.Source = "ANCHOR"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ReapAfter <= 0 {
		cfg.ReapAfter = 10 * time.Minute
	}
	return &ProcessorService{
		inboxRepo:    inboxRepo,
		txRepo:       txRepo,
		chain:        chain,
		producer:     producer,
		tokens:       tokens,
		source:       cfg.Source,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		reapAfter:    cfg.ReapAfter,
	}
}

// Run 运行处理循环, 直到 ctx 取消
func (s *ProcessorService) Run(ctx context.Context) error {
	logger.Info("transaction processor started",
		zap.Int("batch_size", s.batchSize),
		zap.Duration("poll_interval", s.pollInterval))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("transaction processor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.ProcessBatch(ctx); err != nil {
				logger.Error("process batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch 处理一批待处理的收件箱消息
//
// 单条消息的失败不会中断批次; 返回错误仅表示批次本身无法开始。
// 批次一旦开始就运行到结束: 关停信号只阻止下一轮开始, 否则
// 在链上划转与落库之间被打断的行会被回收后二次划转。
func (s *ProcessorService) ProcessBatch(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	rows, err := s.inboxRepo.ListPending(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("list pending inbox: %w", err)
	}

	for _, row := range rows {
		s.processOne(ctx, row)
	}
	return nil
}

func (s *ProcessorService) processOne(ctx context.Context, row *model.Inbox) {
	// 条件认领: 已被其他实例认领或状态已变的行直接跳过
	if err := s.inboxRepo.ClaimProcessing(ctx, row.ID); err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			metrics.InboxProcessedTotal.WithLabelValues("skipped").Inc()
			return
		}
		logger.Error("claim inbox row failed",
			zap.Int64("inbox_id", row.ID), zap.Error(err))
		return
	}

	start := time.Now()
	err := s.handle(ctx, row)
	metrics.ProcessDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.InboxProcessedTotal.WithLabelValues("failed").Inc()
		logger.Error("inbox message failed",
			zap.Int64("inbox_id", row.ID),
			zap.String("message_id", row.MessageID),
			zap.Error(err))
		if markErr := s.inboxRepo.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			logger.Error("mark inbox failed errored",
				zap.Int64("inbox_id", row.ID), zap.Error(markErr))
		}
		return
	}

	metrics.InboxProcessedTotal.WithLabelValues("completed").Inc()
	if markErr := s.inboxRepo.MarkCompleted(ctx, row.ID); markErr != nil {
		logger.Error("mark inbox completed errored",
			zap.Int64("inbox_id", row.ID), zap.Error(markErr))
	}
}

// handle 执行单条消息的状态迁移与可能的链上划转
func (s *ProcessorService) handle(ctx context.Context, row *model.Inbox) error {
	env, err := model.ParseEnvelope([]byte(row.MessageBody))
	if err != nil {
		return fmt.Errorf("parse stored envelope: %w", err)
	}
	n, err := model.ParseNotification(string(env.Payload))
	if err != nil {
		return fmt.Errorf("parse notification: %w", err)
	}
	if n.Reference == "" {
		return ErrMissingReference
	}

	tx, err := s.txRepo.GetByReference(ctx, n.Reference)
	if err != nil {
		// 状态消息先于交易记录到达, 属于排序异常, 记录待查
		return fmt.Errorf("lookup transaction %s: %w", n.Reference, err)
	}

	// 资金到账: 无条件推进到等待上链执行
	if n.Status == model.LedgerStatusFundsReceived {
		if err := s.txRepo.UpdateStatus(ctx, tx.Reference, model.TransactionStatusPendingAnchor); err != nil {
			return fmt.Errorf("advance to pending anchor: %w", err)
		}
		tx.Status = model.TransactionStatusPendingAnchor
	}

	if !shouldTransfer(tx, n.Status) {
		logger.Info("no transfer for message",
			zap.String("reference", tx.Reference),
			zap.String("ledger_status", n.Status),
			zap.String("tx_status", string(tx.Status)))
		return nil
	}

	return s.executeTransfer(ctx, tx)
}

// shouldTransfer 状态 x 交易类型决策表
func shouldTransfer(tx *model.Transaction, ledgerStatus string) bool {
	if ledgerStatus != model.LedgerStatusApproved {
		return false
	}
	switch tx.TransactionType {
	case model.TransactionTypeDeposit:
		return tx.Status == model.TransactionStatusPendingAnchor
	case model.TransactionTypeWithdraw:
		return tx.Status == model.TransactionStatusPendingPayee
	}
	return false
}

// executeTransfer 执行链上划转并保证交易与收件箱记录的一致性
func (s *ProcessorService) executeTransfer(ctx context.Context, tx *model.Transaction) error {
	if tx.WalletAddress == "" {
		return ErrMissingWallet
	}
	if tx.OutgoingCurrency == "" {
		return ErrMissingCurrency
	}
	if tx.Value.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrNonPositiveValue, tx.Value)
	}
	net := tx.NetAmount()
	if net.Sign() <= 0 {
		return fmt.Errorf("%w: value %s fee %s", ErrNonPositiveNet, tx.Value, tx.Fee)
	}

	start := time.Now()
	sig, err := s.chain.Transfer(ctx, tx.WalletAddress, net, tx.OutgoingCurrency, tx.Reference)
	metrics.ChainTransferDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ChainTransfersTotal.WithLabelValues(tx.OutgoingCurrency, "failed").Inc()
		if markErr := s.txRepo.MarkFailed(ctx, tx.Reference); markErr != nil {
			logger.Error("mark transaction failed errored",
				zap.String("reference", tx.Reference), zap.Error(markErr))
		}
		// 收件箱行已经带着链上错误失败, 状态更新发不出去只记日志
		if emitErr := s.emitStatusUpdate(ctx, tx.Reference, string(model.TransactionStatusFailed), err.Error()); emitErr != nil {
			logger.Error("emit status update failed",
				zap.String("reference", tx.Reference), zap.Error(emitErr))
		}
		return fmt.Errorf("chain transfer: %w", err)
	}

	metrics.ChainTransfersTotal.WithLabelValues(tx.OutgoingCurrency, "success").Inc()
	if err := s.txRepo.MarkCompleted(ctx, tx.Reference, sig); err != nil {
		return fmt.Errorf("mark transaction completed: %w", err)
	}

	logger.Info("transfer completed",
		zap.String("reference", tx.Reference),
		zap.String("signature", sig),
		zap.String("net_amount", net.String()),
		zap.String("currency", tx.OutgoingCurrency))

	// 令牌拿不到时确认消息彻底丢失且无人重发, 必须让消息整体失败
	if err := s.emitPaymentConfirmation(ctx, tx, sig, net); err != nil {
		return fmt.Errorf("emit payment confirmation: %w", err)
	}
	return nil
}

// emitPaymentConfirmation 发送付款确认消息
func (s *ProcessorService) emitPaymentConfirmation(ctx context.Context, tx *model.Transaction, sig string, net decimal.Decimal) error {
	payload := &model.PaymentConfirmationPayload{
		ExternalReference: tx.ID,
		Signature:         sig,
		PayerName:         tx.FirstName + " " + tx.LastName,
		Currency:          tx.OutgoingCurrency,
		Value:             net,
		Source:            s.source,
		Reference:         tx.Reference,
	}
	return s.emit(ctx, model.InstructionPaymentConfirmation, payload)
}

// emitStatusUpdate 发送状态更新消息
func (s *ProcessorService) emitStatusUpdate(ctx context.Context, reference, status, message string) error {
	payload := &model.StatusUpdatePayload{
		Reference: reference,
		Status:    status,
		Message:   message,
	}
	return s.emit(ctx, model.InstructionStatusUpdate, payload)
}

// emit 构造出站信封并投递
//
// 身份服务未配置或令牌获取失败是配置级错误, 返回给调用方;
// 拿到令牌之后的构造与投递失败只记日志, 返回 nil。
func (s *ProcessorService) emit(ctx context.Context, instruction model.InstructionType, payload interface{}) error {
	if s.tokens == nil {
		metrics.MessagesSentTotal.WithLabelValues(string(instruction), "failed").Inc()
		return fmt.Errorf("identity client not configured, cannot send %s", instruction)
	}
	token, err := s.tokens.AcquireToken(ctx)
	if err != nil {
		metrics.MessagesSentTotal.WithLabelValues(string(instruction), "failed").Inc()
		return fmt.Errorf("acquire token for %s: %w", instruction, err)
	}

	env, err := model.NewEnvelope(s.source, instruction, token, "", payload)
	if err != nil {
		metrics.MessagesSentTotal.WithLabelValues(string(instruction), "failed").Inc()
		logger.Error("build outbound envelope failed",
			zap.String("instruction", string(instruction)), zap.Error(err))
		return nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		metrics.MessagesSentTotal.WithLabelValues(string(instruction), "failed").Inc()
		logger.Error("marshal outbound envelope failed",
			zap.String("instruction", string(instruction)), zap.Error(err))
		return nil
	}

	if _, err := s.producer.Send(ctx, instruction, body); err != nil {
		metrics.MessagesSentTotal.WithLabelValues(string(instruction), "failed").Inc()
		logger.Error("send outbound message failed",
			zap.String("instruction", string(instruction)), zap.Error(err))
		return nil
	}
	metrics.MessagesSentTotal.WithLabelValues(string(instruction), "success").Inc()
	return nil
}

// ReapStuck 回收卡死在 processing 状态的收件箱行
func (s *ProcessorService) ReapStuck(ctx context.Context) error {
	n, err := s.inboxRepo.ReapStuckProcessing(ctx, s.reapAfter)
	if err != nil {
		return fmt.Errorf("reap stuck processing: %w", err)
	}
	if n > 0 {
		metrics.InboxReapedTotal.Add(float64(n))
		logger.Warn("reaped stuck inbox rows", zap.Int64("count", n))
	}
	return nil
}

// UpdateGauges 刷新收件箱积压指标
func (s *ProcessorService) UpdateGauges(ctx context.Context) {
	counts, err := s.inboxRepo.CountByStatus(ctx)
	if err != nil {
		logger.Error("count inbox by status failed", zap.Error(err))
		return
	}
	metrics.InboxPendingGauge.Set(float64(counts[model.InboxStatusPending]))
}
