package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
)

// ImportResult 单平台单批导入统计
type ImportResult struct {
	Received       int `json:"received"`
	Dropped        int `json:"dropped"`         // 缺少外部 ID 或批内重复
	AlreadyPresent int `json:"already_present"` // 已入库，跳过
	Inserted       int `json:"inserted"`
}

// SaleImporter 两阶段去重后整批入库
// 已存在的记录只跳过，从不更新
type SaleImporter struct {
	sales    repository.SaleRepository
	listings repository.ListingRepository
	log      *zap.Logger
}

func NewSaleImporter(sales repository.SaleRepository, listings repository.ListingRepository, log *zap.Logger) *SaleImporter {
	return &SaleImporter{sales: sales, listings: listings, log: log.Named("import")}
}

// Import 失败时返回 *marketplace.PersistError，整批下轮重试
func (s *SaleImporter) Import(ctx context.Context, userID int64, platform model.Platform, records []marketplace.SaleImportRecord) (*ImportResult, error) {
	result := &ImportResult{Received: len(records)}

	// 1. 丢弃无外部 ID 的记录，批内重复保留第一条
	seen := make(map[string]struct{}, len(records))
	candidates := make([]marketplace.SaleImportRecord, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ExternalID == "" {
			result.Dropped++
			continue
		}
		if _, dup := seen[rec.ExternalID]; dup {
			result.Dropped++
			continue
		}
		seen[rec.ExternalID] = struct{}{}
		candidates = append(candidates, rec)
		ids = append(ids, rec.ExternalID)
	}
	if len(candidates) == 0 {
		return result, nil
	}

	// 2. 查询已存在的外部 ID
	existing, err := s.sales.ExistingExternalIDs(ctx, userID, platform, ids)
	if err != nil {
		return result, &marketplace.PersistError{Platform: platform, Count: len(candidates), Err: err}
	}

	// 3. 过滤
	fresh := make([]marketplace.SaleImportRecord, 0, len(candidates))
	for _, rec := range candidates {
		if _, ok := existing[rec.ExternalID]; ok {
			result.AlreadyPresent++
			continue
		}
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return result, nil
	}

	// 4. 整批插入
	listingIDs := s.linkListings(ctx, userID, platform, fresh)
	sales := make([]model.Sale, 0, len(fresh))
	for _, rec := range fresh {
		sale := toSale(userID, platform, rec)
		if id, ok := listingIDs[rec.PlatformListingID]; ok {
			sale.ListingID = &id
		}
		sales = append(sales, sale)
	}
	if err := s.sales.CreateBatch(ctx, sales); err != nil {
		return result, &marketplace.PersistError{Platform: platform, Count: len(sales), Err: err}
	}
	result.Inserted = len(sales)

	s.log.Debug("销售记录已导入",
		zap.Int64("user_id", userID),
		zap.String("platform", platform.String()),
		zap.Int("received", result.Received),
		zap.Int("inserted", result.Inserted),
		zap.Int("already_present", result.AlreadyPresent),
		zap.Int("dropped", result.Dropped))
	return result, nil
}

// linkListings 关联失败不影响导入
func (s *SaleImporter) linkListings(ctx context.Context, userID int64, platform model.Platform, records []marketplace.SaleImportRecord) map[string]int64 {
	if s.listings == nil {
		return nil
	}
	var pids []string
	for _, rec := range records {
		if rec.PlatformListingID != "" {
			pids = append(pids, rec.PlatformListingID)
		}
	}
	if len(pids) == 0 {
		return nil
	}
	m, err := s.listings.MapPlatformListingIDs(ctx, userID, platform, pids)
	if err != nil {
		s.log.Warn("关联本地商品失败", zap.Error(err))
		return nil
	}
	return m
}

func toSale(userID int64, platform model.Platform, rec marketplace.SaleImportRecord) model.Sale {
	soldAt := rec.SoldAt
	if soldAt.IsZero() {
		soldAt = time.Now()
	}
	return model.Sale{
		UserID:       userID,
		Platform:     platform,
		ExternalID:   rec.ExternalID,
		SalePrice:    rec.Price,
		ShippingCost: rec.ShippingCost,
		PlatformFees: rec.PlatformFees,
		ItemTitle:    truncate(rec.Title, 500),
		ItemImageURL: truncate(rec.ImageURL, 1000),
		ItemURL:      truncate(rec.ListingURL, 1000),
		Condition:    truncate(rec.Condition, 50),
		BuyerHandle:  truncate(rec.BuyerHandle, 255),
		SoldAt:       soldAt,
		Source:       model.SaleSourceSync,
	}
}

// truncate 按字符截断
func truncate(s string, max int) string {
	// 非法 UTF-8 会被 postgres 拒绝，导致整批写入失败
	s = strings.ToValidUTF8(s, "")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
