package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/internal/queue"
)

var testDBCounter int64

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	counter := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:servicetestdb%d?mode=memory&cache=shared", counter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&model.Transaction{}, &model.Inbox{}, &model.Nonce{})
	require.NoError(t, err)

	return db
}

// mockConsumer 模拟队列消费端
type mockConsumer struct {
	mock.Mock
}

func (m *mockConsumer) Receive(ctx context.Context, maxMessages int) ([]queue.Message, error) {
	args := m.Called(ctx, maxMessages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Message), args.Error(1)
}

func (m *mockConsumer) Delete(ctx context.Context, receiptHandle string) error {
	args := m.Called(ctx, receiptHandle)
	return args.Error(0)
}

// mockProducer 模拟队列发送端
type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Send(ctx context.Context, instruction model.InstructionType, body []byte) (string, error) {
	args := m.Called(ctx, instruction, body)
	return args.String(0), args.Error(1)
}

// mockVerifier 模拟身份校验
type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyScope(ctx context.Context, senderToken, scope string) error {
	args := m.Called(ctx, senderToken, scope)
	return args.Error(0)
}

// mockTransferrer 模拟链上划转
type mockTransferrer struct {
	mock.Mock
}

func (m *mockTransferrer) Transfer(ctx context.Context, recipient string, amount decimal.Decimal, currency, memoText string) (string, error) {
	args := m.Called(ctx, recipient, amount, currency, memoText)
	return args.String(0), args.Error(1)
}

// mockTokenSource 模拟服务令牌来源
type mockTokenSource struct {
	mock.Mock
}

func (m *mockTokenSource) AcquireToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// mockInboxRepo 模拟收件箱仓储 (仅消费者测试注入存储故障时使用)
type mockInboxRepo struct {
	mock.Mock
}

func (m *mockInboxRepo) Insert(ctx context.Context, msg *model.Inbox) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockInboxRepo) GetByMessageID(ctx context.Context, messageID string) (*model.Inbox, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Inbox), args.Error(1)
}

func (m *mockInboxRepo) ListPending(ctx context.Context, limit int) ([]*model.Inbox, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Inbox), args.Error(1)
}

func (m *mockInboxRepo) ClaimProcessing(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockInboxRepo) MarkCompleted(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockInboxRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *mockInboxRepo) ResetFailed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockInboxRepo) ReapStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockInboxRepo) CountByStatus(ctx context.Context) (map[model.InboxStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.InboxStatus]int64), args.Error(1)
}
