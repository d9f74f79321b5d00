package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/config"
	"github.com/mykobo/anchor-solana/internal/model"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

// SQSClient SQS 队列客户端
//
// 同时实现 Consumer 与 Producer: 消费通知队列, 按指令类型路由出站消息。
// 队列 URL 在启动时一次性解析并缓存。
type SQSClient struct {
	client   *sqs.Client
	waitTime int32

	// notificationsURL 入站通知队列
	notificationsURL string
	// outboundURLs 指令类型 -> 出站队列 URL
	outboundURLs map[model.InstructionType]string
}

// NewSQSClient 创建 SQS 客户端并解析所有已配置队列的 URL
func NewSQSClient(ctx context.Context, cfg *config.QueueConfig) (*SQSClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	c := &SQSClient{
		client:       client,
		waitTime:     int32(cfg.WaitTime),
		outboundURLs: make(map[model.InstructionType]string),
	}

	resolve := func(name string) (string, error) {
		out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
			QueueName: aws.String(name),
		})
		if err != nil {
			return "", fmt.Errorf("resolve queue %s: %w", name, err)
		}
		return aws.ToString(out.QueueUrl), nil
	}

	if cfg.Queues.Notifications != "" {
		if c.notificationsURL, err = resolve(cfg.Queues.Notifications); err != nil {
			return nil, err
		}
	}
	for instruction, name := range map[model.InstructionType]string{
		model.InstructionTransaction:         cfg.Queues.Transaction,
		model.InstructionStatusUpdate:        cfg.Queues.StatusUpdate,
		model.InstructionPaymentConfirmation: cfg.Queues.PaymentConfirmation,
		model.InstructionCorrection:          cfg.Queues.Correction,
	} {
		if name == "" {
			continue
		}
		url, err := resolve(name)
		if err != nil {
			return nil, err
		}
		c.outboundURLs[instruction] = url
	}

	logger.Info("sqs client initialized",
		zap.String("region", cfg.Region),
		zap.Int("outbound_queues", len(c.outboundURLs)))

	return c, nil
}

// Receive 从通知队列长轮询拉取一批消息
func (c *SQSClient) Receive(ctx context.Context, maxMessages int) ([]Message, error) {
	if maxMessages <= 0 || maxMessages > 10 {
		maxMessages = 10
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.notificationsURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     c.waitTime,
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return msgs, nil
}

// Delete 确认通知队列消息
func (c *SQSClient) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.notificationsURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Send 把消息发送到指令类型对应的出站队列
func (c *SQSClient) Send(ctx context.Context, instruction model.InstructionType, body []byte) (string, error) {
	url, ok := c.outboundURLs[instruction]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownInstruction, instruction)
	}

	out, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

var (
	_ Consumer = (*SQSClient)(nil)
	_ Producer = (*SQSClient)(nil)
)
