package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ==================== 销售同步 ====================

// SyncSalesReq 同步请求
type SyncSalesReq struct {
	Force     bool   `form:"force"`
	StartDate string `form:"start_date"` // 2024-01-01，空则按上次同步时间增量
	Limit     int    `form:"limit"`
}

// SyncErrorVO 单平台失败
type SyncErrorVO struct {
	Platform  string `json:"platform"`
	Reason    string `json:"reason"`
	Reconnect bool   `json:"reconnect"`
}

// SyncSalesResp 同步结果
type SyncSalesResp struct {
	RunID          string        `json:"run_id"`
	Synced         int           `json:"synced"` // 新插入条数
	Total          int           `json:"total"`  // 平台返回条数
	AlreadyPresent int           `json:"already_present"`
	Skipped        []string      `json:"skipped"` // 冷却中的平台
	Errors         []SyncErrorVO `json:"errors"`
	Summary        string        `json:"summary"`
}

// ==================== 销售列表 ====================

// ListSalesReq 销售列表请求
type ListSalesReq struct {
	Platform  string `form:"platform"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Keyword   string `form:"keyword"`
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"page_size,default=20"`
}

// ListSalesResp 销售列表响应
type ListSalesResp struct {
	Total int64    `json:"total"`
	List  []SaleVO `json:"list"`
}

// SaleVO 销售视图对象
type SaleVO struct {
	ID           int64           `json:"id"`
	Platform     string          `json:"platform"`
	ExternalID   string          `json:"external_id"`
	ItemTitle    string          `json:"item_title"`
	ItemImageURL string          `json:"item_image_url"`
	ItemURL      string          `json:"item_url"`
	Condition    string          `json:"condition"`
	SalePrice    decimal.Decimal `json:"sale_price"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	PlatformFees decimal.Decimal `json:"platform_fees"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	Profit       decimal.Decimal `json:"profit"`
	BuyerHandle  string          `json:"buyer_handle"`
	Source       string          `json:"source"`
	ListingID    *int64          `json:"listing_id,omitempty"`
	SoldAt       time.Time       `json:"sold_at"`
}

// StatsReq 统计区间
type StatsReq struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

// ==================== 手动录入 ====================

// CreateSaleReq 手动录入销售
type CreateSaleReq struct {
	Platform     string           `json:"platform" binding:"required"`
	ExternalID   string           `json:"external_id"`
	Title        string           `json:"title" binding:"required"`
	Price        decimal.Decimal  `json:"price"`
	ShippingCost decimal.Decimal  `json:"shipping_cost"`
	PlatformFees *decimal.Decimal `json:"platform_fees"` // 为空按平台费率估算
	CostBasis    decimal.Decimal  `json:"cost_basis"`
	SoldAt       *time.Time       `json:"sold_at"`
	BuyerHandle  string           `json:"buyer_handle"`
	ListingID    *int64           `json:"listing_id"`
}

// UpdateCostReq 修改成本
type UpdateCostReq struct {
	CostBasis decimal.Decimal `json:"cost_basis"`
}
