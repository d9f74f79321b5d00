package queue

import (
	"context"

	"github.com/mykobo/anchor-solana/internal/model"
)

// Message 队列消息
//
// MessageID 是跨投递稳定的消息标识, ReceiptHandle 是单次投递的
// 删除凭据。MessageID 缺失时调用方可回退使用 ReceiptHandle 前缀。
type Message struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// Consumer 队列消费接口
//
// at-least-once 语义: 消息在显式 Delete 之前会在可见性超时后重新投递,
// 消费方必须保证处理幂等。
type Consumer interface {
	// Receive 长轮询拉取一批消息, 没有消息时返回空切片
	Receive(ctx context.Context, maxMessages int) ([]Message, error)
	// Delete 确认消息, 从队列中移除
	Delete(ctx context.Context, receiptHandle string) error
}

// Producer 队列发送接口
//
// 出站消息按指令类型路由到对应队列, 返回队列分配的消息 ID。
type Producer interface {
	Send(ctx context.Context, instruction model.InstructionType, body []byte) (string, error)
}
