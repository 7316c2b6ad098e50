package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxSellerRating 卖家评分上限
const MaxSellerRating = 5.0

// SellerRatingStep 每完成一笔销售评分增加的步长
const SellerRatingStep = 0.1

// User 用户表，这里只关心卖家统计字段
//
// TotalSales / TotalRevenue / SellerRating 只允许在结算完成的事务里修改，
// 其他地方只读。
type User struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	SellerRating float64         `gorm:"not null;default:0" json:"seller_rating"`
	TotalSales   int64           `gorm:"not null;default:0" json:"total_sales"`
	TotalRevenue decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_revenue"`
	Version      int             `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// SellerMetrics 卖家统计的只读视图
type SellerMetrics struct {
	SellerID     int64           `json:"seller_id"`
	TotalSales   int64           `json:"total_sales"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	SellerRating float64         `json:"seller_rating"`
}

func (u *User) Metrics() SellerMetrics {
	return SellerMetrics{
		SellerID:     u.ID,
		TotalSales:   u.TotalSales,
		TotalRevenue: u.TotalRevenue,
		SellerRating: u.SellerRating,
	}
}
