package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
)

// DefaultTokenBuffer 距过期不足该时长即提前刷新
const DefaultTokenBuffer = 5 * time.Minute

// TokenManager 保证交给适配器的 access token 在缓冲期之外
// 不加锁：并发刷新时后写者覆盖，平台侧旧 token 在过期前仍可用
type TokenManager struct {
	conns    repository.ConnectionRepository
	registry *marketplace.Registry
	buffer   time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewTokenManager(conns repository.ConnectionRepository, registry *marketplace.Registry, buffer time.Duration, log *zap.Logger) *TokenManager {
	if buffer <= 0 {
		buffer = DefaultTokenBuffer
	}
	return &TokenManager{
		conns:    conns,
		registry: registry,
		buffer:   buffer,
		now:      time.Now,
		log:      log.Named("token"),
	}
}

// EnsureToken 返回可用的 access token，必要时刷新并先落库
// 刷新失败返回 *marketplace.TokenRefreshError
func (m *TokenManager) EnsureToken(ctx context.Context, conn *model.PlatformConnection) (string, error) {
	if conn.NeverExpires() || m.now().Before(conn.TokenExpiresAt.Add(-m.buffer)) {
		return conn.AccessToken, nil
	}
	return m.Refresh(ctx, conn)
}

// Refresh 无条件刷新，定时保活任务直接调用
func (m *TokenManager) Refresh(ctx context.Context, conn *model.PlatformConnection) (string, error) {
	if conn.RefreshToken == "" {
		m.markInvalid(ctx, conn)
		return "", &marketplace.TokenRefreshError{Platform: conn.Platform, Message: "no refresh token stored"}
	}

	adapter, err := m.registry.Get(conn.Platform)
	if err != nil {
		return "", err
	}

	pair, err := adapter.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		var refreshErr *marketplace.TokenRefreshError
		if !errors.As(err, &refreshErr) {
			refreshErr = &marketplace.TokenRefreshError{Platform: conn.Platform, Message: err.Error(), Err: err}
		}
		// 只有平台明确拒绝才标记失效，网络抖动留给下一轮
		if refreshErr.StatusCode > 0 || refreshErr.Err == nil {
			m.markInvalid(ctx, conn)
		}
		m.log.Warn("刷新 Token 失败",
			zap.Int64("user_id", conn.UserID),
			zap.String("platform", conn.Platform.String()),
			zap.Error(refreshErr))
		return "", refreshErr
	}

	refresh := pair.RefreshToken
	if refresh == "" {
		refresh = conn.RefreshToken
	}
	if err := m.conns.UpdateToken(ctx, conn.ID, pair.AccessToken, refresh, pair.ExpiresAt); err != nil {
		return "", fmt.Errorf("保存刷新后的 Token 失败: %w", err)
	}

	conn.AccessToken = pair.AccessToken
	conn.RefreshToken = refresh
	conn.TokenExpiresAt = pair.ExpiresAt
	conn.TokenStatus = model.TokenStatusValid

	m.log.Info("Token 已刷新",
		zap.Int64("user_id", conn.UserID),
		zap.String("platform", conn.Platform.String()),
		zap.Time("expires_at", pair.ExpiresAt))
	return pair.AccessToken, nil
}

func (m *TokenManager) markInvalid(ctx context.Context, conn *model.PlatformConnection) {
	conn.TokenStatus = model.TokenStatusInvalid
	if err := m.conns.UpdateTokenStatus(ctx, conn.ID, model.TokenStatusInvalid); err != nil {
		m.log.Error("标记 Token 失效失败", zap.Int64("connection_id", conn.ID), zap.Error(err))
	}
}
