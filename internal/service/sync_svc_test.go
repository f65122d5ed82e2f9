package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fliptools/internal/model"
	"fliptools/pkg/marketplace"
	"fliptools/pkg/utils"
)

func TestSync_PartialFailureIsolated(t *testing.T) {
	ctx := context.Background()
	ebay := newFakeAdapter(model.PlatformEbay)
	ebay.sales = []marketplace.SaleImportRecord{record("E1", "10.00"), record("E2", "20.00")}
	etsy := newFakeAdapter(model.PlatformEtsy)
	etsy.refreshErr = &marketplace.TokenRefreshError{Platform: model.PlatformEtsy, StatusCode: 401, Message: "invalid_token"}
	depop := newFakeAdapter(model.PlatformDepop)
	depop.panicMsg = "boom"

	env := newTestEnv(t, ebay, etsy, depop)
	env.connect(t, 1, model.PlatformEbay, time.Now().Add(time.Hour))
	env.connect(t, 1, model.PlatformEtsy, time.Now().Add(-time.Hour))
	env.connect(t, 1, model.PlatformDepop, time.Time{})

	res, err := env.sync.SyncPlatformSales(ctx, 1, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 3, res.Attempted)
	require.Len(t, res.Errors, 2)

	byPlatform := map[model.Platform]SyncError{}
	for _, e := range res.Errors {
		byPlatform[e.Platform] = e
	}
	assert.True(t, byPlatform[model.PlatformEtsy].Reconnect)
	assert.Contains(t, byPlatform[model.PlatformEtsy].Reason, "reconnect etsy in Settings")
	assert.Contains(t, byPlatform[model.PlatformDepop].Reason, "boom")
	assert.Contains(t, res.Summary(), "1 platforms synced, 2 failed")
	assert.EqualValues(t, 2, env.countSales(t, 1))

	// 只有成功的平台写入冷却
	active, _ := env.cooldowns.Active(ctx, cooldownKey(1, model.PlatformEbay))
	assert.True(t, active)
	active, _ = env.cooldowns.Active(ctx, cooldownKey(1, model.PlatformEtsy))
	assert.False(t, active)
}

func TestSync_PersistFailureNotCountedAsFetched(t *testing.T) {
	ebay := newFakeAdapter(model.PlatformEbay)
	ebay.sales = []marketplace.SaleImportRecord{record("E1", "10.00"), record("E2", "20.00")}
	env := newTestEnv(t, ebay)
	env.connect(t, 1, model.PlatformEbay, time.Now().Add(time.Hour))

	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("test:fail_create", func(db *gorm.DB) {
		db.AddError(errors.New("disk full"))
	}))

	res, err := env.sync.SyncPlatformSales(context.Background(), 1, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Zero(t, res.Fetched)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.PlatformEbay, res.Errors[0].Platform)
}

func TestSync_NoConnections(t *testing.T) {
	env := newTestEnv(t, newFakeAdapter(model.PlatformEbay))
	res, err := env.sync.SyncPlatformSales(context.Background(), 7, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "0 platforms synced", res.Summary())
}

func TestSync_CooldownAndForce(t *testing.T) {
	ctx := context.Background()
	ebay := newFakeAdapter(model.PlatformEbay)
	ebay.sales = []marketplace.SaleImportRecord{record("E1", "10.00")}
	env := newTestEnv(t, ebay)
	env.connect(t, 1, model.PlatformEbay, time.Now().Add(time.Hour))

	_, err := env.sync.SyncPlatformSales(ctx, 1, SyncOptions{})
	require.NoError(t, err)

	res, err := env.sync.SyncPlatformSales(ctx, 1, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, []model.Platform{model.PlatformEbay}, res.Skipped)
	assert.Equal(t, 1, ebay.getCalls())

	res, err = env.sync.SyncPlatformSales(ctx, 1, SyncOptions{Force: true})
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 2, ebay.getCalls())
	assert.Zero(t, res.Synced)
	assert.Equal(t, 1, res.AlreadyPresent)
}

func TestSync_IncrementalStartDate(t *testing.T) {
	ctx := context.Background()
	ebay := newFakeAdapter(model.PlatformEbay)
	env := newTestEnv(t, ebay)
	conn := env.connect(t, 1, model.PlatformEbay, time.Now().Add(time.Hour))

	last := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.conns.UpdateLastSynced(ctx, conn.ID, last))

	_, err := env.sync.SyncPlatformSales(ctx, 1, SyncOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, ebay.lastQuery.StartDate)
	assert.True(t, ebay.lastQuery.StartDate.Equal(last.Add(-72*time.Hour)))

	explicit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = env.sync.SyncPlatformSales(ctx, 1, SyncOptions{Force: true, StartDate: &explicit, Limit: 5})
	require.NoError(t, err)
	assert.True(t, ebay.lastQuery.StartDate.Equal(explicit))
	assert.Equal(t, 5, ebay.lastQuery.Limit)
}

func TestSync_ConcurrentCallersShareRun(t *testing.T) {
	ebay := newFakeAdapter(model.PlatformEbay)
	ebay.sales = []marketplace.SaleImportRecord{record("E1", "10.00")}
	ebay.block = make(chan struct{})
	env := newTestEnv(t, ebay)
	env.connect(t, 1, model.PlatformEbay, time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	results := make([]*SyncResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.sync.SyncPlatformSales(context.Background(), 1, SyncOptions{})
			assert.NoError(t, err)
			results[i] = res
		}(i)
		// 确保第一个调用已进入适配器
		if i == 0 {
			require.Eventually(t, func() bool { return ebay.getCalls() == 1 }, time.Second, 5*time.Millisecond)
		}
	}
	close(ebay.block)
	wg.Wait()

	assert.Equal(t, 1, ebay.getCalls())
	assert.Same(t, results[0], results[1])
	assert.EqualValues(t, 1, env.countSales(t, 1))
}

func TestSync_WaiterCancel(t *testing.T) {
	ebay := newFakeAdapter(model.PlatformEbay)
	ebay.block = make(chan struct{})
	env := newTestEnv(t, ebay)
	env.connect(t, 1, model.PlatformEbay, time.Now().Add(time.Hour))

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.sync.SyncPlatformSales(context.Background(), 1, SyncOptions{})
	}()
	require.Eventually(t, func() bool { return ebay.getCalls() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.sync.SyncPlatformSales(ctx, 1, SyncOptions{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(ebay.block)
	<-done
}

// 端到端：过期 Token -> 刷新 -> 拉取 2 张收据 -> 入库 2 行
func TestSync_EtsyEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "refresh-etsy", r.PostForm.Get("refresh_token"))
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "777.fresh", "refresh_token": "777.rt2", "expires_in": 3600,
			})
			return
		}
		assert.Equal(t, "/application/shops/4242/receipts", r.URL.Path)
		assert.Equal(t, "Bearer 777.fresh", r.Header.Get("Authorization"))
		receipt := func(id, listing int64, amount int64) map[string]any {
			return map[string]any{
				"receipt_id":       id,
				"status":           "Paid",
				"is_paid":          true,
				"create_timestamp": 1709287200,
				"transactions": []map[string]any{{
					"transaction_id": id * 10,
					"title":          "Vintage mug",
					"listing_id":     listing,
					"quantity":       1,
					"price":          map[string]any{"amount": amount, "divisor": 100, "currency_code": "USD"},
					"shipping_cost":  map[string]any{"amount": 0, "divisor": 100, "currency_code": "USD"},
				}},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"count":   2,
			"results": []map[string]any{receipt(1, 11, 2500), receipt(2, 12, 4000)},
		})
	}))
	defer srv.Close()

	etsy := marketplace.NewEtsyAdapter(marketplace.EtsyConfig{
		ClientID:   "keystring",
		TokenURL:   srv.URL + "/token",
		APIBaseURL: srv.URL,
	}, resty.New(), utils.NewMemoryStore(), zap.NewNop())
	env := newTestEnv(t, etsy)
	env.connect(t, 1, model.PlatformEtsy, time.Now().Add(-time.Hour))

	res, err := env.sync.SyncPlatformSales(context.Background(), 1, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 2, res.Fetched)
	assert.Empty(t, res.Errors)

	stored, err := env.conns.Get(context.Background(), 1, model.PlatformEtsy)
	require.NoError(t, err)
	assert.Equal(t, "777.fresh", stored.AccessToken)
	assert.Equal(t, "777.rt2", stored.RefreshToken)

	// 再次强制同步全部跳过
	res, err = env.sync.SyncPlatformSales(context.Background(), 1, SyncOptions{Force: true})
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Equal(t, 2, res.AlreadyPresent)
}
