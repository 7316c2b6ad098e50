package repository

import (
	"context"
	"errors"

	"pimarket/internal/model"

	"gorm.io/gorm"
)

var ErrListingNotFound = errors.New("商品不存在")

type ListingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) Create(ctx context.Context, listing *model.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

// GetActiveListing 只返回上架中的商品，下架和不存在都视为 ErrListingNotFound
func (r *ListingRepository) GetActiveListing(ctx context.Context, id int64) (*model.Listing, error) {
	var listing model.Listing
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return &listing, nil
}
