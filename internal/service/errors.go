package service

import "errors"

var (
	ErrNotConnected     = errors.New("platform not connected")
	ErrInvalidState     = errors.New("oauth state expired or invalid, please start again")
	ErrSaleNotFound     = errors.New("sale not found")
	ErrListingNotFound  = errors.New("listing not found")
	ErrDuplicateSale    = errors.New("sale with this external id already exists")
	ErrInvalidCostBasis = errors.New("cost basis must not be negative")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
