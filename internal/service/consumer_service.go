// ========================================
// ConsumerService 收件箱消费服务说明
// ========================================
//
// ## 功能概述
// 把账本通知队列 (at-least-once) 桥接到本地收件箱表。
// 消息先鉴权、再落库、最后从队列删除; message_id 唯一约束
// 保证重复投递只落库一次。
//
// ## 处理流程
//   1. 长轮询拉取一批通知消息
//   2. 推导 message_id (优先 meta_data.idempotency_key,
//      缺失时回退截断的 receipt_handle)
//   3. 调用身份服务校验发送方令牌的 transaction:admin 权限
//   4. 幂等写入收件箱 (重复视为已处理)
//   5. 落库成功后才从队列删除
//
// ## 失败语义 (刻意的不对称)
// - 鉴权被拒或校验请求失败: 消息不可信, 直接删除, 永不落库
// - 信封解析失败或落库失败: 可能是暂时故障, 留在队列等待重投
//
// ========================================
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/identity"
	"github.com/mykobo/anchor-solana/internal/metrics"
	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/internal/queue"
	"github.com/mykobo/anchor-solana/internal/repository"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

// maxMessageIDLen message_id 列宽, 回退 receipt_handle 时截断到该长度
const maxMessageIDLen = 255

// ConsumerService 收件箱消费服务
type ConsumerService struct {
	consumer  queue.Consumer
	verifier  identity.Verifier
	inboxRepo repository.InboxRepository

	batchSize    int
	pollInterval time.Duration
}

// ConsumerServiceConfig 配置
type ConsumerServiceConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// NewConsumerService 创建收件箱消费服务
func NewConsumerService(
	consumer queue.Consumer,
	verifier identity.Verifier,
	inboxRepo repository.InboxRepository,
	cfg ConsumerServiceConfig,
) *ConsumerService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &ConsumerService{
		consumer:     consumer,
		verifier:     verifier,
		inboxRepo:    inboxRepo,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
	}
}

// Run 运行消费循环, 直到 ctx 取消; 正在处理的批次会完成后再退出
func (s *ConsumerService) Run(ctx context.Context) error {
	logger.Info("inbox consumer started",
		zap.Int("batch_size", s.batchSize),
		zap.Duration("poll_interval", s.pollInterval))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox consumer stopped")
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *ConsumerService) pollOnce(ctx context.Context) {
	// 已拉取的消息处理到底, 关停信号只阻止下一轮拉取
	ctx = context.WithoutCancel(ctx)

	msgs, err := s.consumer.Receive(ctx, s.batchSize)
	if err != nil {
		logger.Error("receive messages failed", zap.Error(err))
		return
	}

	for _, msg := range msgs {
		s.HandleMessage(ctx, msg)
	}
}

// HandleMessage 处理单条队列消息
//
// 返回值仅用于测试断言; 生产循环不依赖它, 失败消息的去留
// 完全由是否调用 Delete 决定。
func (s *ConsumerService) HandleMessage(ctx context.Context, msg queue.Message) error {
	env, err := model.ParseEnvelope([]byte(msg.Body))
	if err != nil {
		// 解析失败按处理错误对待: 留在队列, 等待重投
		metrics.MessagesConsumedTotal.WithLabelValues("error").Inc()
		logger.Error("malformed envelope, leaving on queue",
			zap.String("receipt_handle", msg.ReceiptHandle), zap.Error(err))
		return err
	}

	messageID := deriveMessageID(env, msg)

	if err := s.verifier.VerifyScope(ctx, env.MetaData.Token, identity.ScopeTransactionAdmin); err != nil {
		// 不可信消息: 无论是明确拒绝还是校验请求失败, 都删除且不落库
		metrics.MessagesConsumedTotal.WithLabelValues("unauthorized").Inc()
		logger.Warn("message discarded after authorization check",
			zap.String("message_id", messageID),
			zap.Bool("explicit_denial", errors.Is(err, identity.ErrUnauthorized)),
			zap.Error(err))
		s.deleteMessage(ctx, msg, messageID)
		return err
	}

	reference := extractReference(env)

	start := time.Now()
	err = s.inboxRepo.Insert(ctx, &model.Inbox{
		MessageID:            messageID,
		ReceiptHandle:        msg.ReceiptHandle,
		MessageBody:          msg.Body,
		TransactionReference: reference,
		Status:               model.InboxStatusPending,
		ReceivedAt:           time.Now().UTC(),
	})
	metrics.MessageStoreDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, repository.ErrDuplicateInbox):
		// 已落库的重复投递, 确认即可
		metrics.MessagesConsumedTotal.WithLabelValues("duplicate").Inc()
		logger.Info("duplicate message, already stored",
			zap.String("message_id", messageID))
	case err != nil:
		// 落库失败: 留在队列, 依赖队列重投
		metrics.MessagesConsumedTotal.WithLabelValues("error").Inc()
		logger.Error("store message failed, leaving on queue",
			zap.String("message_id", messageID), zap.Error(err))
		return err
	default:
		metrics.MessagesConsumedTotal.WithLabelValues("stored").Inc()
		logger.Info("message stored",
			zap.String("message_id", messageID),
			zap.String("reference", reference))
	}

	s.deleteMessage(ctx, msg, messageID)
	return nil
}

func (s *ConsumerService) deleteMessage(ctx context.Context, msg queue.Message, messageID string) {
	if err := s.consumer.Delete(ctx, msg.ReceiptHandle); err != nil {
		// 删除失败会导致重投, 落库侧的唯一约束兜底
		logger.Warn("delete message failed",
			zap.String("message_id", messageID), zap.Error(err))
	}
}

// deriveMessageID 推导消息幂等标识
//
// 优先使用信封元数据中的 idempotency_key, 其次是队列分配的
// MessageID; 都缺失时截断 receipt_handle 代替。receipt_handle
// 每次投递都不同, 这是降级的幂等保证。
func deriveMessageID(env *model.Envelope, msg queue.Message) string {
	if env.MetaData.IdempotencyKey != "" {
		return env.MetaData.IdempotencyKey
	}
	if msg.MessageID != "" {
		return msg.MessageID
	}
	handle := msg.ReceiptHandle
	if len(handle) > maxMessageIDLen {
		handle = handle[:maxMessageIDLen]
	}
	logger.Warn("message id missing, falling back to receipt handle")
	return handle
}

// extractReference 从通知负载中提取交易引用 (尽力而为, 仅用于检索)
func extractReference(env *model.Envelope) string {
	n, err := model.ParseNotification(string(env.Payload))
	if err != nil {
		return ""
	}
	return n.Reference
}
