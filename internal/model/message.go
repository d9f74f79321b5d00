package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 队列消息信封
//
// 入站与出站消息共用同一信封结构:
//
//	{
//	  "meta_data": {source, instruction_type, created_at, token, idempotency_key, ip_address},
//	  "payload":   { ...指令相关字段... }
//	}
//
// payload 的结构由 meta_data.instruction_type 决定, 指令集是封闭的:
// 每种指令对应一个 payload 类型和一个出站队列, 分发必须全量匹配。

var ErrUnknownInstruction = errors.New("unknown instruction type")

// InstructionType 指令类型
type InstructionType string

const (
	InstructionTransaction         InstructionType = "TRANSACTION"
	InstructionStatusUpdate        InstructionType = "STATUS_UPDATE"
	InstructionPaymentConfirmation InstructionType = "PAYMENT_CONFIRMATION"
	InstructionCorrection          InstructionType = "CORRECTION"
)

// Valid 判断指令类型是否在封闭集合内
func (t InstructionType) Valid() bool {
	switch t {
	case InstructionTransaction, InstructionStatusUpdate,
		InstructionPaymentConfirmation, InstructionCorrection:
		return true
	}
	return false
}

// MetaData 信封元数据
type MetaData struct {
	Source          string          `json:"source"`
	InstructionType InstructionType `json:"instruction_type"`
	CreatedAt       string          `json:"created_at"`
	Token           string          `json:"token"`
	IdempotencyKey  string          `json:"idempotency_key"`
	IPAddress       string          `json:"ip_address,omitempty"`
}

// Envelope 队列消息信封
type Envelope struct {
	MetaData MetaData        `json:"meta_data"`
	Payload  json.RawMessage `json:"payload"`
}

// TransactionPayload 交易创建指令负载
type TransactionPayload struct {
	ExternalReference string          `json:"external_reference"`
	Source            string          `json:"source"`
	Reference         string          `json:"reference"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	TransactionType   TransactionType `json:"transaction_type"`
	Status            string          `json:"status"`
	IncomingCurrency  string          `json:"incoming_currency"`
	OutgoingCurrency  string          `json:"outgoing_currency"`
	Value             decimal.Decimal `json:"value"`
	Fee               decimal.Decimal `json:"fee"`
	Payer             *string         `json:"payer"`
	Payee             *string         `json:"payee"`
}

// StatusUpdatePayload 状态更新指令负载
type StatusUpdatePayload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// PaymentConfirmationPayload 付款确认指令负载
type PaymentConfirmationPayload struct {
	ExternalReference string          `json:"external_reference"`
	Signature         string          `json:"signature"`
	PayerName         string          `json:"payer_name"`
	Currency          string          `json:"currency"`
	Value             decimal.Decimal `json:"value"`
	Source            string          `json:"source"`
	Reference         string          `json:"reference"`
	BankAccountNumber string          `json:"bank_account_number"`
}

// CorrectionPayload 更正指令负载
type CorrectionPayload struct {
	Reference string          `json:"reference"`
	Reason    string          `json:"reason"`
	Value     decimal.Decimal `json:"value"`
}

// Notification 账本通知负载 (入站, 收件箱中存储的扁平结构)
type Notification struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// NewEnvelope 构造出站信封
//
// payload 必须是封闭指令集中某一类型的负载; created_at 为 UTC ISO-8601,
// idempotency_key 为空时自动生成。
func NewEnvelope(source string, instruction InstructionType, token, idempotencyKey string, payload interface{}) (*Envelope, error) {
	if !instruction.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstruction, instruction)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	return &Envelope{
		MetaData: MetaData{
			Source:          source,
			InstructionType: instruction,
			CreatedAt:       time.Now().UTC().Format("2006-01-02T15:04:05Z"),
			Token:           token,
			IdempotencyKey:  idempotencyKey,
		},
		Payload: data,
	}, nil
}

// ParseEnvelope 解析队列消息信封
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return nil, errors.New("envelope has no payload")
	}
	return &env, nil
}

// DecodePayload 按指令类型解码负载 (全量匹配封闭指令集)
func (e *Envelope) DecodePayload() (interface{}, error) {
	switch e.MetaData.InstructionType {
	case InstructionTransaction:
		var p TransactionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case InstructionStatusUpdate:
		var p StatusUpdatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case InstructionPaymentConfirmation:
		var p PaymentConfirmationPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case InstructionCorrection:
		var p CorrectionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstruction, e.MetaData.InstructionType)
	}
}

// ParseNotification 解析收件箱中存储的账本通知负载
func ParseNotification(body string) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &n, nil
}
