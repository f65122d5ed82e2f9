package model

import (
	"time"
)

// Token 状态常量
const (
	TokenStatusValid   = "valid"        // 有效
	TokenStatusInvalid = "auth_invalid" // 需重新授权
)

// PlatformConnection 用户与平台的授权连接
// (user_id, platform) 唯一，创建时按联合键 upsert
type PlatformConnection struct {
	BaseModel

	UserID   int64    `gorm:"not null;uniqueIndex:idx_conn_user_platform,priority:1" json:"user_id"`
	Platform Platform `gorm:"size:20;not null;uniqueIndex:idx_conn_user_platform,priority:2" json:"platform"`

	// API Token
	AccessToken    string    `gorm:"type:text" json:"-"`
	RefreshToken   string    `gorm:"type:text" json:"-"` // 部分平台不支持刷新，可为空
	TokenExpiresAt time.Time `json:"token_expires_at"`   // 零值表示不过期（手动录入的凭证）
	TokenStatus    string    `gorm:"index;size:20;default:'valid'" json:"token_status"`

	// 平台侧账号，如 Etsy shop_id
	AccountID   string `gorm:"size:100" json:"account_id"`
	DisplayName string `gorm:"size:255" json:"display_name"`

	ConnectedAt  time.Time  `json:"connected_at"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
}

func (PlatformConnection) TableName() string {
	return "platform_connections"
}

// NeverExpires 凭证是否无过期时间
func (c *PlatformConnection) NeverExpires() bool {
	return c.TokenExpiresAt.IsZero()
}
