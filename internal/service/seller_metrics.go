package service

import (
	"context"
	"errors"
	"fmt"

	"pimarket/internal/model"
	"pimarket/internal/repository"
	applog "pimarket/pkg/log"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale 一笔已完成的销售，入账到卖家统计
type Sale struct {
	TransactionID int64
	SellerID      int64
	NetAmount     decimal.Decimal
}

// SellerMetricsLedger 卖家统计账本
//
// RecordSale 只能在结算完成的数据库事务里调用，事务回滚时入账一并回滚。
// 卖家记录不存在时只写流水、跳过统计，不阻塞交易完成。
type SellerMetricsLedger interface {
	RecordSale(ctx context.Context, tx *gorm.DB, sale Sale) error
	GetMetrics(ctx context.Context, sellerID int64) (*model.SellerMetrics, error)
}

type sellerMetricsLedger struct {
	sellerRepo *repository.SellerRepository
	logger     zerolog.Logger
}

func NewSellerMetricsLedger(db *gorm.DB) SellerMetricsLedger {
	return &sellerMetricsLedger{
		sellerRepo: repository.NewSellerRepository(db),
		logger:     applog.Component("seller-ledger"),
	}
}

func (l *sellerMetricsLedger) RecordSale(ctx context.Context, tx *gorm.DB, sale Sale) error {
	record := &model.SaleRecord{
		TransactionID: sale.TransactionID,
		SellerID:      sale.SellerID,
		NetAmount:     sale.NetAmount,
	}
	if err := l.sellerRepo.InsertSaleRecord(ctx, tx, record); err != nil {
		return fmt.Errorf("写入入账流水失败: %w", err)
	}

	err := l.sellerRepo.IncreaseMetrics(ctx, tx, sale.SellerID, sale.NetAmount)
	if errors.Is(err, repository.ErrSellerNotFound) {
		l.logger.Warn().
			Int64("transaction_id", sale.TransactionID).
			Int64("seller_id", sale.SellerID).
			Msg("卖家不存在，跳过统计更新")
		return nil
	}
	if err != nil {
		return fmt.Errorf("更新卖家统计失败: %w", err)
	}
	return nil
}

func (l *sellerMetricsLedger) GetMetrics(ctx context.Context, sellerID int64) (*model.SellerMetrics, error) {
	user, err := l.sellerRepo.GetByID(ctx, sellerID)
	if err != nil {
		if errors.Is(err, repository.ErrSellerNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	metrics := user.Metrics()
	return &metrics, nil
}
