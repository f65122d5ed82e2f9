package marketplace

import (
	"context"
	"time"
)

// StateStore OAuth 流程中的短期状态（state / PKCE verifier）
type StateStore interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Take 读取并删除，用完即焚
	Take(ctx context.Context, key string) (string, bool, error)
}

// stateTTL 足够用户完成一次授权
const stateTTL = 10 * time.Minute
