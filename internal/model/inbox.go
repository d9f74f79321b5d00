package model

import "time"

// InboxStatus 收件箱消息处理状态
type InboxStatus string

const (
	InboxStatusPending    InboxStatus = "pending"
	InboxStatusProcessing InboxStatus = "processing"
	InboxStatusCompleted  InboxStatus = "completed"
	InboxStatusFailed     InboxStatus = "failed"
)

// IsTerminal 判断是否为终态
func (s InboxStatus) IsTerminal() bool {
	return s == InboxStatusCompleted || s == InboxStatusFailed
}

// Inbox 收件箱记录 (inbox pattern)
//
// 消费者在授权通过后、从队列删除之前写入; message_id 上的唯一约束
// 是至少一次投递之上实现精确一次落库的关键。状态迁移
// pending -> processing -> completed | failed 只由处理器驱动。
type Inbox struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`

	// MessageID 幂等边界: 同一 message_id 至多存储一次
	MessageID string `gorm:"column:message_id;type:varchar(255);uniqueIndex;not null" json:"message_id"`
	// ReceiptHandle 队列投递凭据, 仅用于删除确认, 不作为身份标识
	ReceiptHandle string `gorm:"column:receipt_handle;type:text" json:"-"`

	// MessageBody 原始负载, 按收到的内容原样存储
	MessageBody string `gorm:"column:message_body;type:text;not null" json:"message_body"`

	// TransactionReference 从负载中提取, 冗余存储用于快速检索
	TransactionReference string `gorm:"column:transaction_reference;type:varchar(255);index" json:"transaction_reference"`

	Status     InboxStatus `gorm:"column:status;type:varchar(50);index;not null;default:pending" json:"status"`
	RetryCount int         `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError  string      `gorm:"column:last_error;type:text" json:"last_error"`

	ReceivedAt          time.Time  `gorm:"column:received_at;not null" json:"received_at"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at" json:"processing_started_at"`
	ProcessedAt         *time.Time `gorm:"column:processed_at" json:"processed_at"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (Inbox) TableName() string {
	return "inbox"
}
