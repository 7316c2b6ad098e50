package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 结算事件类型，写在消息体的 event 字段
const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
)

// OutboxMessage 本地消息表，和交易状态在同一个数据库事务里写入
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// SettlementEvent 结算结果事件（outbox -> Kafka）
type SettlementEvent struct {
	Event         string            `json:"event"`
	TransactionID int64             `json:"transaction_id,string"`
	BuyerID       int64             `json:"buyer_id"`
	SellerID      int64             `json:"seller_id"`
	ListingID     int64             `json:"listing_id"`
	Amount        string            `json:"amount"`
	NetAmount     string            `json:"net_amount"`
	Status        TransactionStatus `json:"status"`
	PaymentID     string            `json:"pi_payment_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    string            `json:"occurred_at"`
}
