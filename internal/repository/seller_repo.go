package repository

import (
	"context"
	"errors"

	"pimarket/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrSellerNotFound   = errors.New("卖家不存在")
	ErrSaleAlreadyTaken = errors.New("该交易已入账")
)

type SellerRepository struct {
	db *gorm.DB
}

func NewSellerRepository(db *gorm.DB) *SellerRepository {
	return &SellerRepository{db: db}
}

func (r *SellerRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *SellerRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	return &user, nil
}

// InsertSaleRecord 写入卖家入账流水，同一交易重复写入返回 ErrSaleAlreadyTaken
func (r *SellerRepository) InsertSaleRecord(ctx context.Context, tx *gorm.DB, record *model.SaleRecord) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.SaleRecord{}).
		Where("transaction_id = ?", record.TransactionID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrSaleAlreadyTaken
	}
	// 唯一索引兜底
	return tx.WithContext(ctx).Create(record).Error
}

// IncreaseMetrics 累加卖家统计，评分封顶 MaxSellerRating
//
// 用表达式在数据库里原子累加，不做"读-改-写"，同一卖家的多笔交易并发完成也不会丢更新。
func (r *SellerRepository) IncreaseMetrics(ctx context.Context, tx *gorm.DB, sellerID int64, netAmount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", sellerID).
		Updates(map[string]interface{}{
			"total_sales":   gorm.Expr("total_sales + 1"),
			"total_revenue": gorm.Expr("total_revenue + CAST(? AS DECIMAL(20,8))", netAmount),
			"seller_rating": gorm.Expr("CASE WHEN seller_rating + ? > ? THEN ? ELSE seller_rating + ? END",
				model.SellerRatingStep, model.MaxSellerRating, model.MaxSellerRating, model.SellerRatingStep),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrSellerNotFound
	}

	return nil
}

func (r *SellerRepository) CountSaleRecords(ctx context.Context, transactionID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SaleRecord{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error
	return count, err
}
