package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易状态
// ============================================================================

// TransactionStatus 交易状态
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"
)

// ValidStatusTransitions 状态流转表，所有状态变更都必须查这张表
//
// PENDING 只能走向 COMPLETED 或 FAILED，先到先得；
// REFUNDED 只能从 COMPLETED 进入（退款流程暂未实现）。
var ValidStatusTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted: {TransactionStatusRefunded},
}

func CanTransitionTo(current, target TransactionStatus) bool {
	allowed, exists := ValidStatusTransitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRefunded:
		return true
	}
	return false
}

// IsTerminal 终态：COMPLETED / FAILED / REFUNDED
func (s TransactionStatus) IsTerminal() bool {
	return s.Valid() && s != TransactionStatusPending
}

// ParseTransactionStatus 解析查询参数中的状态，大小写不敏感
func ParseTransactionStatus(raw string) (TransactionStatus, bool) {
	s := TransactionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// ============================================================================
// 交易实体
// ============================================================================

// Transaction 一次购买尝试，同时也是永久保留的审计记录（不删除）
//
// Amount / Fee / NetAmount 在创建时确定，结算过程中不再重新计算。
// ProviderReference 与 CompletedAt 只在第一次进入 COMPLETED 时写入。
// ID 是雪花 ID，JSON 里按字符串输出，避免 JS 客户端丢精度。
type Transaction struct {
	ID                int64             `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	BuyerID           int64             `gorm:"index;not null" json:"buyer_id"`
	SellerID          int64             `gorm:"index;not null" json:"seller_id"`
	ListingID         int64             `gorm:"index;not null" json:"listing_id"`
	Amount            decimal.Decimal   `gorm:"type:decimal(20,8);not null" json:"amount"`
	Fee               decimal.Decimal   `gorm:"type:decimal(20,8);not null" json:"fee"`
	NetAmount         decimal.Decimal   `gorm:"type:decimal(20,8);not null" json:"net_amount"`
	Status            TransactionStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	ProviderReference *string           `gorm:"type:varchar(128)" json:"pi_payment_id"`
	Notes             string            `gorm:"type:text" json:"notes,omitempty"`
	Version           int               `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time         `gorm:"index" json:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "market_transaction"
}

// IsParticipant 是否为该交易的买家或卖家
func (t *Transaction) IsParticipant(userID int64) bool {
	return t.BuyerID == userID || t.SellerID == userID
}
