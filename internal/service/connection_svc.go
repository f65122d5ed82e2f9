package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
)

const oauthStateTTL = 10 * time.Minute

// ManualCredentials 用户手动录入的凭证
// ExpiresAt 为空表示不过期
type ManualCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	AccountID    string
	DisplayName  string
}

// ConnectionService 平台授权连接
type ConnectionService struct {
	conns    repository.ConnectionRepository
	registry *marketplace.Registry
	states   marketplace.StateStore
	log      *zap.Logger
}

func NewConnectionService(conns repository.ConnectionRepository, registry *marketplace.Registry, states marketplace.StateStore, log *zap.Logger) *ConnectionService {
	return &ConnectionService{conns: conns, registry: registry, states: states, log: log.Named("connection")}
}

func oauthKey(state string) string { return "oauth:" + state }

// AuthURL 生成授权地址，state 绑定 用户 + 平台
func (s *ConnectionService) AuthURL(ctx context.Context, userID int64, platform model.Platform) (string, error) {
	adapter, err := s.registry.Get(platform)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	value := fmt.Sprintf("%d:%s", userID, platform)
	if err := s.states.Put(ctx, oauthKey(state), value, oauthStateTTL); err != nil {
		return "", fmt.Errorf("保存授权状态失败: %w", err)
	}
	return adapter.AuthURL(ctx, state)
}

// HandleCallback 校验 state，换取 Token 并保存连接
func (s *ConnectionService) HandleCallback(ctx context.Context, platform model.Platform, code, state string) (*model.PlatformConnection, error) {
	value, ok, err := s.states.Take(ctx, oauthKey(state))
	if err != nil {
		return nil, fmt.Errorf("读取授权状态失败: %w", err)
	}
	if !ok {
		return nil, ErrInvalidState
	}

	// 解析 "userID:platform"
	uidStr, statePlatform, found := strings.Cut(value, ":")
	if !found || model.Platform(statePlatform) != platform {
		return nil, ErrInvalidState
	}
	userID, err := strconv.ParseInt(uidStr, 10, 64)
	if err != nil {
		return nil, ErrInvalidState
	}

	adapter, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}
	pair, err := adapter.ExchangeCode(ctx, code, state)
	if err != nil {
		return nil, err
	}

	conn := &model.PlatformConnection{
		UserID:         userID,
		Platform:       platform,
		AccessToken:    pair.AccessToken,
		RefreshToken:   pair.RefreshToken,
		TokenExpiresAt: pair.ExpiresAt,
		TokenStatus:    model.TokenStatusValid,
		AccountID:      pair.AccountID,
		DisplayName:    pair.DisplayName,
		ConnectedAt:    time.Now(),
	}
	if err := s.conns.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("保存平台连接失败: %w", err)
	}

	s.log.Info("平台授权成功", zap.Int64("user_id", userID), zap.String("platform", platform.String()))
	return s.conns.Get(ctx, userID, platform)
}

// ConnectManual 手动录入凭证
func (s *ConnectionService) ConnectManual(ctx context.Context, userID int64, platform model.Platform, creds ManualCredentials) (*model.PlatformConnection, error) {
	if _, err := s.registry.Get(platform); err != nil {
		return nil, err
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidCredentials)
	}
	if platform == model.PlatformEtsy && creds.AccountID == "" {
		return nil, fmt.Errorf("%w: etsy shop id is required", ErrInvalidCredentials)
	}

	conn := &model.PlatformConnection{
		UserID:       userID,
		Platform:     platform,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenStatus:  model.TokenStatusValid,
		AccountID:    creds.AccountID,
		DisplayName:  creds.DisplayName,
		ConnectedAt:  time.Now(),
	}
	if creds.ExpiresAt != nil {
		conn.TokenExpiresAt = *creds.ExpiresAt
	}
	if err := s.conns.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("保存平台连接失败: %w", err)
	}
	return s.conns.Get(ctx, userID, platform)
}

// List 用户的所有连接
func (s *ConnectionService) List(ctx context.Context, userID int64) ([]model.PlatformConnection, error) {
	return s.conns.ListByUser(ctx, userID)
}

// Disconnect 立即删除，已导入的销售记录保留
func (s *ConnectionService) Disconnect(ctx context.Context, userID int64, platform model.Platform) error {
	deleted, err := s.conns.Delete(ctx, userID, platform)
	if err != nil {
		return fmt.Errorf("删除平台连接失败: %w", err)
	}
	if !deleted {
		return ErrNotConnected
	}
	s.log.Info("平台已断开", zap.Int64("user_id", userID), zap.String("platform", platform.String()))
	return nil
}
