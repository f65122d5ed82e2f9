package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 销售记录来源
const (
	SaleSourceSync   = "sync"
	SaleSourceManual = "manual"
)

// Sale 销售台账
// (user_id, platform, external_id) 唯一，是去重的唯一依据
type Sale struct {
	BaseModel

	UserID     int64    `gorm:"not null;index;uniqueIndex:idx_sale_user_platform_ext,priority:1" json:"user_id"`
	Platform   Platform `gorm:"size:20;not null;uniqueIndex:idx_sale_user_platform_ext,priority:2" json:"platform"`
	ExternalID string   `gorm:"size:100;not null;uniqueIndex:idx_sale_user_platform_ext,priority:3" json:"external_id"`

	// 金额
	SalePrice    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"sale_price"`
	ShippingCost decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"shipping_cost"`
	PlatformFees decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"platform_fees"`
	CostBasis    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"cost_basis"` // 用户后填，同步从不写入
	// Profit 物化列，只由 BeforeSave 根据上面四项重算
	Profit decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"profit"`

	// 商品信息
	ItemTitle    string `gorm:"size:500" json:"item_title"`
	ItemImageURL string `gorm:"size:1000" json:"item_image_url"`
	ItemURL      string `gorm:"size:1000" json:"item_url"`
	Condition    string `gorm:"size:50" json:"condition"`

	BuyerHandle string    `gorm:"size:255" json:"buyer_handle"`
	SoldAt      time.Time `gorm:"index;not null" json:"sold_at"`
	Source      string    `gorm:"size:20;default:'sync'" json:"source"`

	// 关联本地商品（可选）
	ListingID *int64   `gorm:"index" json:"listing_id"`
	Listing   *Listing `gorm:"foreignKey:ListingID;constraint:OnDelete:SET NULL" json:"-"`
}

func (Sale) TableName() string {
	return "sales"
}

// ComputeProfit 利润 = 售价 - 运费 - 平台费 - 成本
func (s *Sale) ComputeProfit() decimal.Decimal {
	return s.SalePrice.Sub(s.ShippingCost).Sub(s.PlatformFees).Sub(s.CostBasis)
}

// BeforeSave 每次写入前重算利润
func (s *Sale) BeforeSave(tx *gorm.DB) error {
	s.Profit = s.ComputeProfit()
	return nil
}
