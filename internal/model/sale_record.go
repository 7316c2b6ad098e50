package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecord 卖家入账流水
//
// 【重要】每笔交易最多入账一次：TransactionID 上有唯一索引，
// 即使上层的状态 CAS 出了问题，重复入账也会在这里被数据库拒绝。
// 只追加，不修改，不删除。
type SaleRecord struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID int64           `gorm:"uniqueIndex;not null" json:"transaction_id,string"`
	SellerID      int64           `gorm:"index;not null" json:"seller_id"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"net_amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SaleRecord) TableName() string {
	return "seller_sale"
}
