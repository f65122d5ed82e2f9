package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
	"fliptools/pkg/utils"
)

// ==================== 测试辅助 ====================

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&model.Listing{}, &model.PlatformConnection{}, &model.Sale{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

// fakeAdapter 可编排的适配器
type fakeAdapter struct {
	platform model.Platform

	mu         sync.Mutex
	sales      []marketplace.SaleImportRecord
	salesErr   error
	panicMsg   string
	block      chan struct{} // 非空时 GetSales 等待关闭
	calls      int
	lastQuery  marketplace.SalesQuery
	lastToken  string
	refreshed  *marketplace.TokenPair
	refreshErr error
	refreshes  int
	exchanged  *marketplace.TokenPair
	listingSeq int
	deleted    []string
}

func newFakeAdapter(p model.Platform) *fakeAdapter {
	return &fakeAdapter{platform: p}
}

func (f *fakeAdapter) Platform() model.Platform { return f.platform }

func (f *fakeAdapter) AuthURL(_ context.Context, state string) (string, error) {
	return "https://auth.example/" + string(f.platform) + "?state=" + state, nil
}

func (f *fakeAdapter) ExchangeCode(_ context.Context, code, _ string) (*marketplace.TokenPair, error) {
	if code == "bad" {
		return nil, &marketplace.AuthExchangeError{Platform: f.platform, StatusCode: 400, Message: "invalid_grant"}
	}
	if f.exchanged != nil {
		return f.exchanged, nil
	}
	return &marketplace.TokenPair{AccessToken: "at-" + code, RefreshToken: "rt-" + code, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAdapter) RefreshToken(_ context.Context, _ string) (*marketplace.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeAdapter) GetSales(_ context.Context, creds marketplace.Credentials, q marketplace.SalesQuery) ([]marketplace.SaleImportRecord, error) {
	f.mu.Lock()
	f.calls++
	f.lastQuery = q
	f.lastToken = creds.AccessToken
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.salesErr != nil {
		return nil, f.salesErr
	}
	return f.sales, nil
}

func (f *fakeAdapter) CreateListing(_ context.Context, _ marketplace.Credentials, in marketplace.ListingInput) (*marketplace.ListingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listingSeq++
	id := fmt.Sprintf("L%d", f.listingSeq)
	return &marketplace.ListingResult{PlatformListingID: id, URL: "https://shop.example/" + id}, nil
}

func (f *fakeAdapter) UpdateListing(context.Context, marketplace.Credentials, string, marketplace.ListingInput) error {
	return nil
}

func (f *fakeAdapter) DeleteListing(_ context.Context, _ marketplace.Credentials, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAdapter) CalculateFees(price decimal.Decimal) marketplace.FeeBreakdown {
	fee := price.Div(decimal.NewFromInt(10)).Round(2)
	return marketplace.FeeBreakdown{Platform: f.platform, Price: price, FinalValueFee: fee, Total: fee, Net: price.Sub(fee)}
}

func (f *fakeAdapter) getCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func record(id, price string) marketplace.SaleImportRecord {
	return marketplace.SaleImportRecord{
		ExternalID:   id,
		Title:        "item " + id,
		Price:        decimal.RequireFromString(price),
		ShippingCost: decimal.RequireFromString("1.00"),
		PlatformFees: decimal.RequireFromString("2.00"),
		SoldAt:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// testEnv 服务层测试环境
type testEnv struct {
	db        *gorm.DB
	conns     repository.ConnectionRepository
	sales     repository.SaleRepository
	listings  repository.ListingRepository
	registry  *marketplace.Registry
	tokens    *TokenManager
	importer  *SaleImporter
	cooldowns *utils.MemoryStore
	sync      *SyncService
}

func newTestEnv(t *testing.T, adapters ...marketplace.Adapter) *testEnv {
	db := setupTestDB(t)
	log := zap.NewNop()
	env := &testEnv{
		db:        db,
		conns:     repository.NewConnectionRepository(db),
		sales:     repository.NewSaleRepository(db),
		listings:  repository.NewListingRepository(db),
		registry:  marketplace.NewRegistry(adapters...),
		cooldowns: utils.NewMemoryStore(),
	}
	env.tokens = NewTokenManager(env.conns, env.registry, DefaultTokenBuffer, log)
	env.importer = NewSaleImporter(env.sales, env.listings, log)
	env.sync = NewSyncService(env.conns, env.registry, env.tokens, env.importer, env.cooldowns,
		SyncServiceConfig{Cooldown: time.Minute, RunTimeout: 30 * time.Second}, log)
	return env
}

func (e *testEnv) connect(t *testing.T, userID int64, p model.Platform, expiresAt time.Time) *model.PlatformConnection {
	conn := &model.PlatformConnection{
		UserID:         userID,
		Platform:       p,
		AccessToken:    "access-" + string(p),
		RefreshToken:   "refresh-" + string(p),
		TokenExpiresAt: expiresAt,
		TokenStatus:    model.TokenStatusValid,
		AccountID:      "4242",
		ConnectedAt:    time.Now(),
	}
	if err := e.conns.Create(context.Background(), conn); err != nil {
		t.Fatalf("创建连接失败: %v", err)
	}
	return conn
}

func (e *testEnv) countSales(t *testing.T, userID int64) int64 {
	var n int64
	if err := e.db.Model(&model.Sale{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("统计销售失败: %v", err)
	}
	return n
}

func saleFilter(userID int64) repository.SaleFilter {
	return repository.SaleFilter{UserID: userID, PageSize: 100}
}
