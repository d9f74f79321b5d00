package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mykobo/anchor-solana/internal/model"
)

var (
	ErrInboxNotFound  = errors.New("inbox message not found")
	ErrDuplicateInbox = errors.New("duplicate inbox message")
	ErrNotClaimable   = errors.New("inbox message not claimable")
)

// InboxRepository 收件箱仓储接口
//
// 收件箱是队列消息的持久化落点: 先落库再处理, message_id 唯一约束
// 保证 at-least-once 投递下的幂等。
type InboxRepository interface {
	Insert(ctx context.Context, msg *model.Inbox) error
	GetByMessageID(ctx context.Context, messageID string) (*model.Inbox, error)
	ListPending(ctx context.Context, limit int) ([]*model.Inbox, error)
	ClaimProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	ResetFailed(ctx context.Context) (int64, error)
	ReapStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	CountByStatus(ctx context.Context) (map[model.InboxStatus]int64, error)
}

// inboxRepository 收件箱仓储实现
type inboxRepository struct {
	*Repository
}

// NewInboxRepository 创建收件箱仓储
func NewInboxRepository(db *gorm.DB) InboxRepository {
	return &inboxRepository{
		Repository: NewRepository(db),
	}
}

func (r *inboxRepository) Insert(ctx context.Context, msg *model.Inbox) error {
	err := r.DB(ctx).Create(msg).Error
	if IsDuplicateKey(err) {
		return ErrDuplicateInbox
	}
	return err
}

func (r *inboxRepository) GetByMessageID(ctx context.Context, messageID string) (*model.Inbox, error) {
	var msg model.Inbox
	err := r.DB(ctx).Where("message_id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *inboxRepository) ListPending(ctx context.Context, limit int) ([]*model.Inbox, error) {
	var msgs []*model.Inbox
	err := r.DB(ctx).
		Where("status = ?", model.InboxStatusPending).
		Order("received_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ClaimProcessing 认领消息进行处理
//
// 条件更新: 仅当行仍处于 pending 状态时才会转为 processing,
// 多实例并发轮询同一批消息时最多一个实例认领成功。
func (r *inboxRepository) ClaimProcessing(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res := r.DB(ctx).Model(&model.Inbox{}).
		Where("id = ? AND status = ?", id, model.InboxStatusPending).
		Updates(map[string]interface{}{
			"status":                model.InboxStatusProcessing,
			"processing_started_at": now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (r *inboxRepository) MarkCompleted(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res := r.DB(ctx).Model(&model.Inbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.InboxStatusCompleted,
			"processed_at": now,
			"last_error":   "",
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInboxNotFound
	}
	return nil
}

func (r *inboxRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	now := time.Now().UTC()
	res := r.DB(ctx).Model(&model.Inbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.InboxStatusFailed,
			"last_error":  reason,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInboxNotFound
	}
	return nil
}

// ResetFailed 将失败消息重置为待处理, 返回重置数量
func (r *inboxRepository) ResetFailed(ctx context.Context) (int64, error) {
	res := r.DB(ctx).Model(&model.Inbox{}).
		Where("status = ?", model.InboxStatusFailed).
		Updates(map[string]interface{}{
			"status":     model.InboxStatusPending,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ReapStuckProcessing 回收卡死的 processing 消息
//
// 进程在认领后崩溃会把行留在 processing 状态; 超过 olderThan 的
// 认领时间视为失联, 重置回 pending 供下一轮处理。
func (r *inboxRepository) ReapStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.DB(ctx).Model(&model.Inbox{}).
		Where("status = ? AND processing_started_at < ?", model.InboxStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     model.InboxStatusPending,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *inboxRepository) CountByStatus(ctx context.Context) (map[model.InboxStatus]int64, error) {
	var rows []struct {
		Status model.InboxStatus
		Count  int64
	}
	err := r.DB(ctx).Model(&model.Inbox{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.InboxStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
