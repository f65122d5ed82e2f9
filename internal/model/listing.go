package model

import (
	"github.com/shopspring/decimal"
)

// Listing 状态常量
const (
	ListingStatusDraft  = "draft"
	ListingStatusActive = "active"
	ListingStatusSold   = "sold"
	ListingStatusEnded  = "ended"
)

// Listing 本地跟踪的商品
type Listing struct {
	BaseModel

	UserID            int64           `gorm:"index;not null" json:"user_id"`
	Platform          Platform        `gorm:"size:20;index" json:"platform"`
	PlatformListingID string          `gorm:"size:100;index" json:"platform_listing_id"`
	SKU               string          `gorm:"size:100" json:"sku"`
	Title             string          `gorm:"size:255" json:"title"`
	Description       string          `gorm:"type:text" json:"description"`
	Price             decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"price"`
	Quantity          int             `gorm:"default:1" json:"quantity"`
	Condition         string          `gorm:"size:50" json:"condition"`
	URL               string          `gorm:"size:1000" json:"url"`
	Status            string          `gorm:"size:20;default:'draft'" json:"status"`
}

func (Listing) TableName() string {
	return "listings"
}
