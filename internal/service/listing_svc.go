package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/pkg/marketplace"
)

// ListingService 通过适配器在平台上架并在本地跟踪
type ListingService struct {
	listings repository.ListingRepository
	conns    repository.ConnectionRepository
	tokens   *TokenManager
	registry *marketplace.Registry
	log      *zap.Logger
}

func NewListingService(
	listings repository.ListingRepository,
	conns repository.ConnectionRepository,
	tokens *TokenManager,
	registry *marketplace.Registry,
	log *zap.Logger,
) *ListingService {
	return &ListingService{listings: listings, conns: conns, tokens: tokens, registry: registry, log: log.Named("listing")}
}

// credentials 取连接并确保 Token 可用
func (s *ListingService) credentials(ctx context.Context, userID int64, platform model.Platform) (marketplace.Adapter, marketplace.Credentials, error) {
	adapter, err := s.registry.Get(platform)
	if err != nil {
		return nil, marketplace.Credentials{}, err
	}
	conn, err := s.conns.Get(ctx, userID, platform)
	if err != nil {
		return nil, marketplace.Credentials{}, fmt.Errorf("查询平台连接失败: %w", err)
	}
	if conn == nil {
		return nil, marketplace.Credentials{}, ErrNotConnected
	}
	token, err := s.tokens.EnsureToken(ctx, conn)
	if err != nil {
		return nil, marketplace.Credentials{}, err
	}
	return adapter, marketplace.Credentials{AccessToken: token, AccountID: conn.AccountID}, nil
}

func (s *ListingService) List(ctx context.Context, userID int64, platform model.Platform) ([]model.Listing, error) {
	return s.listings.List(ctx, userID, platform)
}

func (s *ListingService) Create(ctx context.Context, userID int64, platform model.Platform, input marketplace.ListingInput) (*model.Listing, error) {
	adapter, creds, err := s.credentials(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	res, err := adapter.CreateListing(ctx, creds, input)
	if err != nil {
		return nil, err
	}

	listing := &model.Listing{
		UserID:            userID,
		Platform:          platform,
		PlatformListingID: res.PlatformListingID,
		URL:               res.URL,
		Status:            model.ListingStatusActive,
	}
	applyInput(listing, input)
	if err := s.listings.Create(ctx, listing); err != nil {
		// 平台侧已创建，本地失败只记录
		s.log.Error("本地保存商品失败", zap.String("platform_listing_id", res.PlatformListingID), zap.Error(err))
		return nil, fmt.Errorf("保存商品失败: %w", err)
	}
	return listing, nil
}

func (s *ListingService) Update(ctx context.Context, userID, id int64, input marketplace.ListingInput) (*model.Listing, error) {
	listing, err := s.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	adapter, creds, err := s.credentials(ctx, userID, listing.Platform)
	if err != nil {
		return nil, err
	}
	if input.SKU == "" {
		input.SKU = listing.SKU
	}
	if err := adapter.UpdateListing(ctx, creds, listing.PlatformListingID, input); err != nil {
		return nil, err
	}

	applyInput(listing, input)
	if err := s.listings.Save(ctx, listing); err != nil {
		return nil, fmt.Errorf("保存商品失败: %w", err)
	}
	return listing, nil
}

// Delete 平台侧下架，本地保留并标记结束，已关联的销售记录不受影响
func (s *ListingService) Delete(ctx context.Context, userID, id int64) error {
	listing, err := s.get(ctx, userID, id)
	if err != nil {
		return err
	}
	adapter, creds, err := s.credentials(ctx, userID, listing.Platform)
	if err != nil {
		return err
	}
	if err := adapter.DeleteListing(ctx, creds, listing.PlatformListingID); err != nil {
		return err
	}
	listing.Status = model.ListingStatusEnded
	return s.listings.Save(ctx, listing)
}

func (s *ListingService) get(ctx context.Context, userID, id int64) (*model.Listing, error) {
	listing, err := s.listings.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

func applyInput(l *model.Listing, in marketplace.ListingInput) {
	l.SKU = in.SKU
	l.Title = in.Title
	l.Description = in.Description
	l.Price = in.Price
	l.Quantity = in.Quantity
	l.Condition = in.Condition
}
