package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/pkg/marketplace"
	"fliptools/pkg/utils"
)

func newConnectionService(env *testEnv) *ConnectionService {
	return NewConnectionService(env.conns, env.registry, utils.NewMemoryStore(), zap.NewNop())
}

func stateFrom(t *testing.T, raw string) string {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestConnection_OAuthRoundTrip(t *testing.T) {
	ctx := context.Background()
	ebay := newFakeAdapter(model.PlatformEbay)
	env := newTestEnv(t, ebay)
	svc := newConnectionService(env)

	raw, err := svc.AuthURL(ctx, 9, model.PlatformEbay)
	require.NoError(t, err)
	state := stateFrom(t, raw)
	require.NotEmpty(t, state)

	conn, err := svc.HandleCallback(ctx, model.PlatformEbay, "c1", state)
	require.NoError(t, err)
	assert.Equal(t, int64(9), conn.UserID)
	assert.Equal(t, "at-c1", conn.AccessToken)

	// state 只能用一次
	_, err = svc.HandleCallback(ctx, model.PlatformEbay, "c1", state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnection_CallbackPlatformMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeAdapter(model.PlatformEbay), newFakeAdapter(model.PlatformEtsy))
	svc := newConnectionService(env)

	raw, err := svc.AuthURL(ctx, 1, model.PlatformEbay)
	require.NoError(t, err)
	_, err = svc.HandleCallback(ctx, model.PlatformEtsy, "c1", stateFrom(t, raw))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnection_ExchangeRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeAdapter(model.PlatformEbay))
	svc := newConnectionService(env)

	raw, err := svc.AuthURL(ctx, 1, model.PlatformEbay)
	require.NoError(t, err)
	_, err = svc.HandleCallback(ctx, model.PlatformEbay, "bad", stateFrom(t, raw))
	var exErr *marketplace.AuthExchangeError
	assert.True(t, errors.As(err, &exErr))

	conn, err := env.conns.Get(ctx, 1, model.PlatformEbay)
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestConnection_UnknownPlatform(t *testing.T) {
	env := newTestEnv(t, newFakeAdapter(model.PlatformEbay))
	svc := newConnectionService(env)
	_, err := svc.AuthURL(context.Background(), 1, model.PlatformDepop)
	var unknown *marketplace.UnknownPlatformError
	assert.True(t, errors.As(err, &unknown))
}

func TestConnection_ManualAndDisconnect(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeAdapter(model.PlatformDepop), newFakeAdapter(model.PlatformEtsy))
	svc := newConnectionService(env)

	_, err := svc.ConnectManual(ctx, 1, model.PlatformEtsy, ManualCredentials{AccessToken: "tok"})
	assert.Error(t, err, "Etsy 需要 shop id")

	conn, err := svc.ConnectManual(ctx, 1, model.PlatformDepop, ManualCredentials{AccessToken: "tok", DisplayName: "jane"})
	require.NoError(t, err)
	assert.True(t, conn.NeverExpires())

	// 断开后保留已导入的销售
	_, err = env.importer.Import(ctx, 1, model.PlatformDepop, []marketplace.SaleImportRecord{record("D1", "9.00")})
	require.NoError(t, err)
	require.NoError(t, svc.Disconnect(ctx, 1, model.PlatformDepop))
	assert.ErrorIs(t, svc.Disconnect(ctx, 1, model.PlatformDepop), ErrNotConnected)
	assert.EqualValues(t, 1, env.countSales(t, 1))

	conns, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestConnection_ManualWithExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeAdapter(model.PlatformEbay))
	svc := newConnectionService(env)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	conn, err := svc.ConnectManual(ctx, 1, model.PlatformEbay, ManualCredentials{AccessToken: "tok", RefreshToken: "rt", ExpiresAt: &exp})
	require.NoError(t, err)
	assert.True(t, conn.TokenExpiresAt.Equal(exp))
}
