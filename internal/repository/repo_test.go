package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fliptools/internal/model"
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

func newSale(userID int64, platform model.Platform, extID string, price string, soldAt time.Time) model.Sale {
	return model.Sale{
		UserID:       userID,
		Platform:     platform,
		ExternalID:   extID,
		SalePrice:    decimal.RequireFromString(price),
		ShippingCost: decimal.RequireFromString("5.00"),
		PlatformFees: decimal.RequireFromString("10.00"),
		SoldAt:       soldAt,
		Source:       model.SaleSourceSync,
	}
}

// ==================== ConnectionRepository ====================

func TestConnectionRepo_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(setupTestDB(t))

	conn, err := repo.Get(ctx, 1, model.PlatformEbay)
	require.NoError(t, err)
	assert.Nil(t, conn, "未连接返回 nil")

	require.NoError(t, repo.Upsert(ctx, &model.PlatformConnection{
		UserID: 1, Platform: model.PlatformEbay, AccessToken: "a1", RefreshToken: "r1",
		ConnectedAt: time.Now(),
	}))
	// 重复授权覆盖原记录
	require.NoError(t, repo.Upsert(ctx, &model.PlatformConnection{
		UserID: 1, Platform: model.PlatformEbay, AccessToken: "a2", RefreshToken: "r2",
		ConnectedAt: time.Now(),
	}))

	conns, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "a2", conns[0].AccessToken)
	assert.Equal(t, model.TokenStatusValid, conns[0].TokenStatus)

	platforms, err := repo.ListPlatforms(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.Platform{model.PlatformEbay}, platforms)

	deleted, err := repo.Delete(ctx, 1, model.PlatformEbay)
	require.NoError(t, err)
	assert.True(t, deleted)
	conn, _ = repo.Get(ctx, 1, model.PlatformEbay)
	assert.Nil(t, conn)
}

func TestConnectionRepo_UpsertKeepsAccountWhenEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(setupTestDB(t))

	require.NoError(t, repo.Upsert(ctx, &model.PlatformConnection{
		UserID: 3, Platform: model.PlatformEtsy, AccessToken: "a1", AccountID: "4242", DisplayName: "JanesThings",
	}))
	require.NoError(t, repo.Upsert(ctx, &model.PlatformConnection{
		UserID: 3, Platform: model.PlatformEtsy, AccessToken: "a2",
	}))

	got, err := repo.Get(ctx, 3, model.PlatformEtsy)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, "4242", got.AccountID)
	assert.Equal(t, "JanesThings", got.DisplayName)

	require.NoError(t, repo.Upsert(ctx, &model.PlatformConnection{
		UserID: 3, Platform: model.PlatformEtsy, AccessToken: "a3", AccountID: "5151",
	}))
	got, _ = repo.Get(ctx, 3, model.PlatformEtsy)
	assert.Equal(t, "5151", got.AccountID)
	assert.Equal(t, "JanesThings", got.DisplayName)
}

func TestConnectionRepo_TokenUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(setupTestDB(t))

	c := &model.PlatformConnection{UserID: 7, Platform: model.PlatformEtsy, AccessToken: "old", RefreshToken: "rt"}
	require.NoError(t, repo.Create(ctx, c))

	require.NoError(t, repo.UpdateTokenStatus(ctx, c.ID, model.TokenStatusInvalid))
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateToken(ctx, c.ID, "new", "rt2", exp))

	got, err := repo.Get(ctx, 7, model.PlatformEtsy)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "rt2", got.RefreshToken)
	assert.True(t, exp.Equal(got.TokenExpiresAt))
	assert.Equal(t, model.TokenStatusValid, got.TokenStatus, "刷新成功恢复有效")
}

func TestConnectionRepo_FindExpiring(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(setupTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, &model.PlatformConnection{UserID: 1, Platform: model.PlatformEbay, RefreshToken: "r", TokenExpiresAt: now.Add(10 * time.Minute)}))
	require.NoError(t, repo.Create(ctx, &model.PlatformConnection{UserID: 2, Platform: model.PlatformEbay, RefreshToken: "r", TokenExpiresAt: now.Add(5 * time.Hour)}))
	// 不过期
	require.NoError(t, repo.Create(ctx, &model.PlatformConnection{UserID: 3, Platform: model.PlatformEbay, RefreshToken: "r"}))
	// 无刷新令牌
	require.NoError(t, repo.Create(ctx, &model.PlatformConnection{UserID: 4, Platform: model.PlatformDepop, TokenExpiresAt: now.Add(time.Minute)}))

	conns, err := repo.FindExpiring(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, int64(1), conns[0].UserID)

	ids, err := repo.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
}

// ==================== SaleRepository ====================

func TestSaleRepo_ExistingAndBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewSaleRepository(setupTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.CreateBatch(ctx, []model.Sale{
		newSale(1, model.PlatformEbay, "E1", "100.00", now),
		newSale(1, model.PlatformEtsy, "E2", "50.00", now),
	}))

	existing, err := repo.ExistingExternalIDs(ctx, 1, model.PlatformEbay, []string{"E1", "E2", "E3"})
	require.NoError(t, err)
	assert.Len(t, existing, 1)
	_, ok := existing["E1"]
	assert.True(t, ok, "E2 属于其他平台，不应命中")

	// 唯一索引兜底：整批回滚
	err = repo.CreateBatch(ctx, []model.Sale{
		newSale(1, model.PlatformEbay, "E9", "1.00", now),
		newSale(1, model.PlatformEbay, "E1", "1.00", now),
	})
	assert.Error(t, err)
	existing, _ = repo.ExistingExternalIDs(ctx, 1, model.PlatformEbay, []string{"E9"})
	assert.Empty(t, existing, "事务回滚后 E9 不存在")
}

func TestSaleRepo_ExistingChunked(t *testing.T) {
	ctx := context.Background()
	repo := NewSaleRepository(setupTestDB(t))
	now := time.Now().UTC()

	var sales []model.Sale
	var ids []string
	for i := 0; i < externalIDChunk+20; i++ {
		id := fmt.Sprintf("X%04d", i)
		ids = append(ids, id)
		if i%2 == 0 {
			sales = append(sales, newSale(3, model.PlatformDepop, id, "1.00", now))
		}
	}
	require.NoError(t, repo.CreateBatch(ctx, sales))

	existing, err := repo.ExistingExternalIDs(ctx, 3, model.PlatformDepop, ids)
	require.NoError(t, err)
	assert.Len(t, existing, len(sales))
}

func TestSaleRepo_ProfitAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewSaleRepository(setupTestDB(t))
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s := newSale(1, model.PlatformEbay, "E1", "100.00", day)
	require.NoError(t, repo.Create(ctx, &s))
	other := newSale(1, model.PlatformEtsy, "T1", "40.00", day.AddDate(0, 0, 10))
	require.NoError(t, repo.Create(ctx, &other))

	got, err := repo.GetByID(ctx, 1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "85.00", got.Profit.StringFixed(2))

	// 他人记录不可见
	none, err := repo.GetByID(ctx, 2, s.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	got.CostBasis = decimal.RequireFromString("30.00")
	require.NoError(t, repo.Save(ctx, got))
	got, _ = repo.GetByID(ctx, 1, s.ID)
	assert.Equal(t, "55.00", got.Profit.StringFixed(2))

	stats, err := repo.GetStats(ctx, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSales)
	assert.Equal(t, "140.00", stats.Revenue.StringFixed(2))
	assert.Equal(t, "80.00", stats.Profit.StringFixed(2))
	require.Len(t, stats.ByPlatform, 2)

	end := day.AddDate(0, 0, 1)
	stats, err = repo.GetStats(ctx, 1, &day, &end)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSales)
}

func TestSaleRepo_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSaleRepository(setupTestDB(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s := newSale(1, model.PlatformEbay, fmt.Sprintf("E%d", i), "10.00", base.Add(time.Duration(i)*time.Hour))
		s.ItemTitle = fmt.Sprintf("Item %d", i)
		require.NoError(t, repo.Create(ctx, &s))
	}

	list, total, err := repo.List(ctx, SaleFilter{UserID: 1, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, list, 2)
	assert.Equal(t, "E4", list[0].ExternalID, "按售出时间倒序")

	list, total, err = repo.List(ctx, SaleFilter{UserID: 1, Keyword: "Item 3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	deleted, err := repo.Delete(ctx, 2, list[0].ID)
	require.NoError(t, err)
	assert.False(t, deleted, "不能删除他人记录")
	deleted, err = repo.Delete(ctx, 1, list[0].ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

// ==================== ListingRepository ====================

func TestListingRepo_MapPlatformListingIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewListingRepository(setupTestDB(t))

	l := &model.Listing{UserID: 1, Platform: model.PlatformEtsy, PlatformListingID: "501", Title: "Mug"}
	require.NoError(t, repo.Create(ctx, l))

	m, err := repo.MapPlatformListingIDs(ctx, 1, model.PlatformEtsy, []string{"501", "502"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"501": l.ID}, m)
}
