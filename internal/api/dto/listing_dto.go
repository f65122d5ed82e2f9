package dto

import (
	"github.com/shopspring/decimal"
)

// ListingReq 上架/修改商品
type ListingReq struct {
	SKU         string          `json:"sku"`
	Title       string          `json:"title" binding:"required,max=140"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" binding:"gte=0"`
	Condition   string          `json:"condition"`
}

// FeeReq 费用试算
type FeeReq struct {
	Price string `form:"price" binding:"required"`
}
