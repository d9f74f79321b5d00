// Package metrics 提供结算桥服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "anchor_solana"

// 消费者指标
var (
	// MessagesConsumedTotal 消费的队列消息总数
	MessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "消费的队列消息总数",
		},
		[]string{"outcome"}, // stored, duplicate, unauthorized, error
	)

	// MessageStoreDuration 消息落库耗时
	MessageStoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_store_duration_seconds",
			Help:      "消息落库耗时(秒)",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// 处理器指标
var (
	// InboxProcessedTotal 处理的收件箱消息总数
	InboxProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_processed_total",
			Help:      "处理的收件箱消息总数",
		},
		[]string{"status"}, // completed, failed, skipped
	)

	// InboxPendingGauge 待处理收件箱消息数量
	InboxPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbox_pending_total",
			Help:      "当前待处理的收件箱消息数量",
		},
	)

	// InboxReapedTotal 回收的卡死消息总数
	InboxReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_reaped_total",
			Help:      "从 processing 状态回收的卡死消息总数",
		},
	)

	// ProcessDuration 单条消息处理耗时
	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "单条收件箱消息处理耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// 链上交互指标
var (
	// ChainTransfersTotal 链上划转总数
	ChainTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_transfers_total",
			Help:      "链上代币划转总数",
		},
		[]string{"currency", "status"}, // status: success/failed
	)

	// ChainTransferDuration 链上划转耗时
	ChainTransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_transfer_duration_seconds",
			Help:      "链上代币划转耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// 出站队列指标
var (
	// MessagesSentTotal 发送的出站消息总数
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "发送的出站队列消息总数",
		},
		[]string{"instruction", "status"}, // status: success/failed
	)

	// RetriedTransactionsTotal 重发的交易消息总数
	RetriedTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retried_transactions_total",
			Help:      "重发工作器重新投递的交易消息总数",
		},
		[]string{"status"}, // success/failed
	)

	// UnsentTransactionsGauge 未成功入队的交易数量
	UnsentTransactionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unsent_transactions_total",
			Help:      "当前 message_id 为空的交易数量",
		},
	)
)
