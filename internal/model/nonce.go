package model

import "time"

// Nonce 钱包签名认证的一次性挑战
//
// 防重放: used 置位或超过 expires_at 后永久失效, 过期记录定期清理。
// 必须落库存储, 进程内缓存无法在多副本与重启间保持一致。
type Nonce struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`

	Nonce         string `gorm:"column:nonce;type:varchar(255);uniqueIndex;not null" json:"nonce"`
	WalletAddress string `gorm:"column:wallet_address;type:varchar(255);index;not null" json:"wallet_address"`

	ExpiresAt time.Time  `gorm:"column:expires_at;index;not null" json:"expires_at"`
	Used      bool       `gorm:"column:used;not null;default:false" json:"used"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName 返回表名
func (Nonce) TableName() string {
	return "nonces"
}

// IsExpired 判断是否已过期
func (n *Nonce) IsExpired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}

// Usable 判断是否仍可用于验签
func (n *Nonce) Usable(now time.Time) bool {
	return !n.Used && !n.IsExpired(now)
}
