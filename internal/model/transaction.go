package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType 交易类型
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "DEPOSIT"
	TransactionTypeWithdraw TransactionType = "WITHDRAW"
)

// Valid 判断交易类型是否合法
func (t TransactionType) Valid() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeWithdraw
}

// TransactionStatus 交易状态
//
// 状态机: PENDING_PAYER / PENDING_PAYEE (初始, 取决于交易类型)
//   -> PENDING_ANCHOR (账本确认资金到账, 等待上链执行)
//   -> COMPLETED | FAILED (终态)
type TransactionStatus string

const (
	TransactionStatusPendingPayer  TransactionStatus = "PENDING_PAYER"
	TransactionStatusPendingPayee  TransactionStatus = "PENDING_PAYEE"
	TransactionStatusPendingAnchor TransactionStatus = "PENDING_ANCHOR"
	TransactionStatusCompleted     TransactionStatus = "COMPLETED"
	TransactionStatusFailed        TransactionStatus = "FAILED"
)

// IsTerminal 判断是否为终态
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// 账本侧消息状态
const (
	LedgerStatusFundsReceived = "FUNDS_RECEIVED"
	LedgerStatusApproved      = "APPROVED"
	LedgerStatusFulfilled     = "FULFILLED"
)

// Transaction 交易账本记录
//
// 用户发起存取款请求时同步创建 (先落库再发队列, 数据库故障不会丢失用户意图);
// 状态与链上签名只由处理器修改, message_id 只由重发工作器回填; 记录永不删除。
type Transaction struct {
	// ID 外部引用 (账本侧 external_reference)
	ID             string          `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Reference      string          `gorm:"column:reference;type:varchar(255);uniqueIndex;not null" json:"reference"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(255);uniqueIndex;not null" json:"idempotency_key"`

	TransactionType  TransactionType   `gorm:"column:transaction_type;type:varchar(50);not null" json:"transaction_type"`
	Status           TransactionStatus `gorm:"column:status;type:varchar(50);index;not null" json:"status"`
	IncomingCurrency string            `gorm:"column:incoming_currency;type:varchar(10);not null" json:"incoming_currency"`
	OutgoingCurrency string            `gorm:"column:outgoing_currency;type:varchar(10);not null" json:"outgoing_currency"`
	Value            decimal.Decimal   `gorm:"column:value;type:decimal(20,6);not null" json:"value"`
	Fee              decimal.Decimal   `gorm:"column:fee;type:decimal(20,6);not null" json:"fee"`

	PayerID       *string `gorm:"column:payer_id;type:varchar(255);index" json:"payer_id"`
	PayeeID       *string `gorm:"column:payee_id;type:varchar(255);index" json:"payee_id"`
	FirstName     string  `gorm:"column:first_name;type:varchar(255)" json:"first_name"`
	LastName      string  `gorm:"column:last_name;type:varchar(255)" json:"last_name"`
	WalletAddress string  `gorm:"column:wallet_address;type:varchar(255);index;not null" json:"wallet_address"`

	Source          string `gorm:"column:source;type:varchar(50);not null" json:"source"`
	InstructionType string `gorm:"column:instruction_type;type:varchar(50);not null" json:"instruction_type"`
	IPAddress       string `gorm:"column:ip_address;type:varchar(45)" json:"ip_address"`

	// 出站队列投递跟踪: message_id 为空表示尚未成功入队, 是重发工作器的筛选条件
	MessageID   *string    `gorm:"column:message_id;type:varchar(255)" json:"message_id"`
	QueueSentAt *time.Time `gorm:"column:queue_sent_at" json:"queue_sent_at"`

	// TxHash 链上转账签名, 仅在转账确认后写入
	TxHash string `gorm:"column:tx_hash;type:varchar(128)" json:"tx_hash"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (Transaction) TableName() string {
	return "transactions"
}

// NetAmount 净额 = value - fee, 即实际转给对手方的数额
func (t *Transaction) NetAmount() decimal.Decimal {
	return t.Value.Sub(t.Fee)
}

// InitialStatus 按交易类型返回创建时的初始状态
func InitialStatus(txType TransactionType) TransactionStatus {
	if txType == TransactionTypeWithdraw {
		return TransactionStatusPendingPayee
	}
	return TransactionStatusPendingPayer
}
