package marketplace

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fliptools/internal/model"
)

// maxPages 单次拉取的翻页上限
const maxPages = 50

// ==================== 通用数据结构 ====================

// TokenPair 平台返回的凭证
// RefreshToken 为空表示平台未轮换（或不支持）刷新令牌
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // 零值表示不过期
	AccountID    string
	DisplayName  string
}

// Credentials 调用平台 API 所需的凭证
type Credentials struct {
	AccessToken string
	AccountID   string // Etsy 必填 shop_id
}

// SalesQuery 销售拉取参数
type SalesQuery struct {
	StartDate *time.Time
	Limit     int // 总条数上限，0 表示不限
}

// SaleImportRecord 归一化后的销售记录
type SaleImportRecord struct {
	Platform          model.Platform
	ExternalID        string
	Title             string
	Price             decimal.Decimal
	ShippingCost      decimal.Decimal
	PlatformFees      decimal.Decimal
	SoldAt            time.Time
	Condition         string
	ImageURL          string
	ListingURL        string
	PlatformListingID string
	BuyerHandle       string
}

// FeeBreakdown 平台费用拆分
type FeeBreakdown struct {
	Platform      model.Platform  `json:"platform"`
	Price         decimal.Decimal `json:"price"`
	FinalValueFee decimal.Decimal `json:"final_value_fee"`
	ListingFee    decimal.Decimal `json:"listing_fee"`
	PaymentFee    decimal.Decimal `json:"payment_fee"`
	FixedFee      decimal.Decimal `json:"fixed_fee"`
	Total         decimal.Decimal `json:"total"`
	Net           decimal.Decimal `json:"net"`
}

// ListingInput 上架/修改商品参数
type ListingInput struct {
	SKU         string
	Title       string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Condition   string
}

// ListingResult 平台侧商品标识
type ListingResult struct {
	PlatformListingID string
	URL               string
}

// ==================== 适配器接口 ====================

// Adapter 每个平台一个实现
type Adapter interface {
	Platform() model.Platform

	// 授权
	AuthURL(ctx context.Context, state string) (string, error)
	ExchangeCode(ctx context.Context, code, state string) (*TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)

	// 销售
	GetSales(ctx context.Context, creds Credentials, query SalesQuery) ([]SaleImportRecord, error)

	// 商品
	CreateListing(ctx context.Context, creds Credentials, input ListingInput) (*ListingResult, error)
	UpdateListing(ctx context.Context, creds Credentials, platformListingID string, input ListingInput) error
	DeleteListing(ctx context.Context, creds Credentials, platformListingID string) error

	// 费用
	CalculateFees(price decimal.Decimal) FeeBreakdown
}

// ==================== 辅助函数 ====================

var hundred = decimal.NewFromInt(100)

// percentOf 按百分比计算并四舍五入到分
func percentOf(price decimal.Decimal, pct string) decimal.Decimal {
	return price.Mul(decimal.RequireFromString(pct)).Div(hundred).Round(2)
}

func finishFees(b FeeBreakdown) FeeBreakdown {
	b.Total = b.FinalValueFee.Add(b.ListingFee).Add(b.PaymentFee).Add(b.FixedFee)
	b.Net = b.Price.Sub(b.Total)
	return b
}

// pageSize 取本页条数，受总上限约束
func pageSize(defaultSize, limit, collected int) int {
	size := defaultSize
	if limit > 0 && limit-collected < size {
		size = limit - collected
	}
	return size
}

func limitReached(limit, collected int) bool {
	return limit > 0 && collected >= limit
}
