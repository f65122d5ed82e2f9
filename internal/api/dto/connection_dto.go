package dto

import "time"

// ConnectionVO 平台连接，不返回任何 Token
type ConnectionVO struct {
	ID             int64      `json:"id"`
	Platform       string     `json:"platform"`
	AccountID      string     `json:"account_id"`
	DisplayName    string     `json:"display_name"`
	TokenStatus    string     `json:"token_status"`
	NeedsReconnect bool       `json:"needs_reconnect"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"` // 空表示不过期
	ConnectedAt    time.Time  `json:"connected_at"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// AuthURLResp 授权地址
type AuthURLResp struct {
	URL string `json:"url"`
}

// OAuthCallbackReq 平台回调参数
type OAuthCallbackReq struct {
	Code  string `form:"code"`
	State string `form:"state" binding:"required"`
	Error string `form:"error"`
}

// ManualConnectReq 手动录入凭证
type ManualConnectReq struct {
	AccessToken  string     `json:"access_token" binding:"required"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
	AccountID    string     `json:"account_id"` // Etsy 必填 shop_id
	DisplayName  string     `json:"display_name"`
}
