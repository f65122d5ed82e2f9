package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fliptools/internal/model"
)

// 单条 IN 查询的外部 ID 上限
const externalIDChunk = 500

// 批量插入每批条数
const insertBatchSize = 200

// ==================== 过滤条件 ====================

// SaleFilter 销售过滤条件
type SaleFilter struct {
	UserID    int64
	Platform  model.Platform
	StartDate *time.Time
	EndDate   *time.Time
	Keyword   string
	Page      int
	PageSize  int
}

// SaleStats 销售统计
type SaleStats struct {
	TotalSales   int64           `json:"total_sales"`
	Revenue      decimal.Decimal `json:"revenue"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	PlatformFees decimal.Decimal `json:"platform_fees"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	Profit       decimal.Decimal `json:"profit"`
	ByPlatform   []PlatformStats `json:"by_platform"`
}

// PlatformStats 分平台统计
type PlatformStats struct {
	Platform model.Platform  `json:"platform"`
	Count    int64           `json:"count"`
	Revenue  decimal.Decimal `json:"revenue"`
	Profit   decimal.Decimal `json:"profit"`
}

// ==================== SaleRepository 销售仓库 ====================

// SaleRepository 销售仓库接口
type SaleRepository interface {
	// 同步去重
	ExistingExternalIDs(ctx context.Context, userID int64, platform model.Platform, externalIDs []string) (map[string]struct{}, error)
	CreateBatch(ctx context.Context, sales []model.Sale) error

	Create(ctx context.Context, sale *model.Sale) error
	GetByID(ctx context.Context, userID, id int64) (*model.Sale, error)
	List(ctx context.Context, filter SaleFilter) ([]model.Sale, int64, error)
	Save(ctx context.Context, sale *model.Sale) error
	Delete(ctx context.Context, userID, id int64) (bool, error)

	GetStats(ctx context.Context, userID int64, startDate, endDate *time.Time) (*SaleStats, error)
}

type saleRepository struct {
	db *gorm.DB
}

// NewSaleRepository 创建销售仓库
func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &saleRepository{db: db}
}

// ExistingExternalIDs 已入库的外部 ID，分批 IN 查询
func (r *saleRepository) ExistingExternalIDs(ctx context.Context, userID int64, platform model.Platform, externalIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(externalIDs))
	for start := 0; start < len(externalIDs); start += externalIDChunk {
		end := start + externalIDChunk
		if end > len(externalIDs) {
			end = len(externalIDs)
		}

		var found []string
		err := r.db.WithContext(ctx).
			Model(&model.Sale{}).
			Where("user_id = ? AND platform = ?", userID, platform).
			Where("external_id IN ?", externalIDs[start:end]).
			Pluck("external_id", &found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

// CreateBatch 单事务整批插入，任一失败整批回滚
func (r *saleRepository) CreateBatch(ctx context.Context, sales []model.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(sales, insertBatchSize).Error
	})
}

func (r *saleRepository) Create(ctx context.Context, sale *model.Sale) error {
	return r.db.WithContext(ctx).Create(sale).Error
}

// GetByID 不属于该用户时返回 nil, nil
func (r *saleRepository) GetByID(ctx context.Context, userID, id int64) (*model.Sale, error) {
	var sale model.Sale
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepository) List(ctx context.Context, filter SaleFilter) ([]model.Sale, int64, error) {
	var sales []model.Sale
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Sale{}).Where("user_id = ?", filter.UserID)

	if filter.Platform != "" {
		db = db.Where("platform = ?", filter.Platform)
	}
	if filter.StartDate != nil {
		db = db.Where("sold_at >= ?", filter.StartDate)
	}
	if filter.EndDate != nil {
		db = db.Where("sold_at <= ?", filter.EndDate)
	}
	if filter.Keyword != "" {
		keyword := "%" + filter.Keyword + "%"
		db = db.Where("item_title LIKE ? OR buyer_handle LIKE ? OR external_id LIKE ?", keyword, keyword, keyword)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	err := db.
		Order("sold_at DESC, id DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&sales).Error

	return sales, total, err
}

// Save 走 BeforeSave，利润随之重算
func (r *saleRepository) Save(ctx context.Context, sale *model.Sale) error {
	return r.db.WithContext(ctx).Save(sale).Error
}

func (r *saleRepository) Delete(ctx context.Context, userID, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&model.Sale{})
	return result.RowsAffected > 0, result.Error
}

func (r *saleRepository) GetStats(ctx context.Context, userID int64, startDate, endDate *time.Time) (*SaleStats, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&model.Sale{}).Where("user_id = ?", userID)
		if startDate != nil {
			db = db.Where("sold_at >= ?", startDate)
		}
		if endDate != nil {
			db = db.Where("sold_at <= ?", endDate)
		}
		return db
	}

	var totals struct {
		Count    int64
		Revenue  decimal.Decimal
		Shipping decimal.Decimal
		Fees     decimal.Decimal
		Cost     decimal.Decimal
		Profit   decimal.Decimal
	}
	err := r.db.WithContext(ctx).Scopes(scope).
		Select(`COUNT(*) AS count,
			COALESCE(SUM(sale_price), 0) AS revenue,
			COALESCE(SUM(shipping_cost), 0) AS shipping,
			COALESCE(SUM(platform_fees), 0) AS fees,
			COALESCE(SUM(cost_basis), 0) AS cost,
			COALESCE(SUM(profit), 0) AS profit`).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Platform model.Platform
		Count    int64
		Revenue  decimal.Decimal
		Profit   decimal.Decimal
	}
	err = r.db.WithContext(ctx).Scopes(scope).
		Select("platform, COUNT(*) AS count, COALESCE(SUM(sale_price), 0) AS revenue, COALESCE(SUM(profit), 0) AS profit").
		Group("platform").
		Order("platform ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &SaleStats{
		TotalSales:   totals.Count,
		Revenue:      totals.Revenue.Round(2),
		ShippingCost: totals.Shipping.Round(2),
		PlatformFees: totals.Fees.Round(2),
		CostBasis:    totals.Cost.Round(2),
		Profit:       totals.Profit.Round(2),
		ByPlatform:   make([]PlatformStats, 0, len(rows)),
	}
	for _, row := range rows {
		stats.ByPlatform = append(stats.ByPlatform, PlatformStats{
			Platform: row.Platform,
			Count:    row.Count,
			Revenue:  row.Revenue.Round(2),
			Profit:   row.Profit.Round(2),
		})
	}
	return stats, nil
}
