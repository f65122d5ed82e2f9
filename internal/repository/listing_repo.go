package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fliptools/internal/model"
)

// ListingRepository 本地商品仓库接口
type ListingRepository interface {
	Create(ctx context.Context, listing *model.Listing) error
	GetByID(ctx context.Context, userID, id int64) (*model.Listing, error)
	List(ctx context.Context, userID int64, platform model.Platform) ([]model.Listing, error)
	Save(ctx context.Context, listing *model.Listing) error
	// MapPlatformListingIDs 平台商品 ID -> 本地商品 ID，用于销售记录关联
	MapPlatformListingIDs(ctx context.Context, userID int64, platform model.Platform, platformIDs []string) (map[string]int64, error)
}

type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository 创建本地商品仓库
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) Create(ctx context.Context, listing *model.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *listingRepository) GetByID(ctx context.Context, userID, id int64) (*model.Listing, error) {
	var listing model.Listing
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepository) List(ctx context.Context, userID int64, platform model.Platform) ([]model.Listing, error) {
	var listings []model.Listing
	db := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if platform != "" {
		db = db.Where("platform = ?", platform)
	}
	err := db.Order("id DESC").Find(&listings).Error
	return listings, err
}

func (r *listingRepository) Save(ctx context.Context, listing *model.Listing) error {
	return r.db.WithContext(ctx).Save(listing).Error
}

func (r *listingRepository) MapPlatformListingIDs(ctx context.Context, userID int64, platform model.Platform, platformIDs []string) (map[string]int64, error) {
	out := make(map[string]int64)
	if len(platformIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ID                int64
		PlatformListingID string
	}
	err := r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Select("id, platform_listing_id").
		Where("user_id = ? AND platform = ?", userID, platform).
		Where("platform_listing_id IN ?", platformIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.PlatformListingID] = row.ID
	}
	return out, nil
}
