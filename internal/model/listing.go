package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing 商品，结算核心只读
type Listing struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID  int64           `gorm:"index;not null" json:"seller_id"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	IsActive  bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Listing) TableName() string {
	return "listing"
}
