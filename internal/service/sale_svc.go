package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
)

// ManualSaleInput 手动录入销售
type ManualSaleInput struct {
	Platform     model.Platform
	ExternalID   string
	Title        string
	Price        decimal.Decimal
	ShippingCost decimal.Decimal
	// PlatformFees 为空时按平台费率估算
	PlatformFees *decimal.Decimal
	CostBasis    decimal.Decimal
	SoldAt       time.Time
	BuyerHandle  string
	ListingID    *int64
}

// SaleService 销售台账读写
type SaleService struct {
	sales    repository.SaleRepository
	registry *marketplace.Registry
}

func NewSaleService(sales repository.SaleRepository, registry *marketplace.Registry) *SaleService {
	return &SaleService{sales: sales, registry: registry}
}

func (s *SaleService) List(ctx context.Context, filter repository.SaleFilter) ([]model.Sale, int64, error) {
	return s.sales.List(ctx, filter)
}

func (s *SaleService) Stats(ctx context.Context, userID int64, startDate, endDate *time.Time) (*repository.SaleStats, error) {
	return s.sales.GetStats(ctx, userID, startDate, endDate)
}

func (s *SaleService) Get(ctx context.Context, userID, id int64) (*model.Sale, error) {
	sale, err := s.sales.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}
	return sale, nil
}

// CreateManual 与同步共用唯一键，重复的外部 ID 拒绝
func (s *SaleService) CreateManual(ctx context.Context, userID int64, in ManualSaleInput) (*model.Sale, error) {
	adapter, err := s.registry.Get(in.Platform)
	if err != nil {
		return nil, err
	}
	if in.CostBasis.IsNegative() {
		return nil, ErrInvalidCostBasis
	}

	externalID := in.ExternalID
	if externalID == "" {
		externalID = "manual-" + uuid.NewString()
	} else {
		existing, err := s.sales.ExistingExternalIDs(ctx, userID, in.Platform, []string{externalID})
		if err != nil {
			return nil, fmt.Errorf("检查重复销售失败: %w", err)
		}
		if len(existing) > 0 {
			return nil, ErrDuplicateSale
		}
	}

	fees := adapter.CalculateFees(in.Price).Total
	if in.PlatformFees != nil {
		fees = *in.PlatformFees
	}
	soldAt := in.SoldAt
	if soldAt.IsZero() {
		soldAt = time.Now()
	}

	sale := &model.Sale{
		UserID:       userID,
		Platform:     in.Platform,
		ExternalID:   externalID,
		SalePrice:    in.Price,
		ShippingCost: in.ShippingCost,
		PlatformFees: fees,
		CostBasis:    in.CostBasis,
		ItemTitle:    truncate(in.Title, 500),
		BuyerHandle:  truncate(in.BuyerHandle, 255),
		SoldAt:       soldAt,
		Source:       model.SaleSourceManual,
		ListingID:    in.ListingID,
	}
	if err := s.sales.Create(ctx, sale); err != nil {
		return nil, fmt.Errorf("保存销售记录失败: %w", err)
	}
	return sale, nil
}

// UpdateCost 只改成本，利润在保存时重算
func (s *SaleService) UpdateCost(ctx context.Context, userID, id int64, cost decimal.Decimal) (*model.Sale, error) {
	if cost.IsNegative() {
		return nil, ErrInvalidCostBasis
	}
	sale, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	sale.CostBasis = cost
	if err := s.sales.Save(ctx, sale); err != nil {
		return nil, fmt.Errorf("更新成本失败: %w", err)
	}
	return sale, nil
}

func (s *SaleService) Delete(ctx context.Context, userID, id int64) error {
	deleted, err := s.sales.Delete(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("删除销售记录失败: %w", err)
	}
	if !deleted {
		return ErrSaleNotFound
	}
	return nil
}

// CalculateFees 费用试算
func (s *SaleService) CalculateFees(platform model.Platform, price decimal.Decimal) (*marketplace.FeeBreakdown, error) {
	adapter, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}
	fb := adapter.CalculateFees(price)
	return &fb, nil
}
