package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pimarket/internal/config"
	"pimarket/internal/infrastructure/lock"
	"pimarket/internal/metrics"
	"pimarket/internal/model"
	"pimarket/internal/payment"
	"pimarket/internal/repository"
	"pimarket/pkg/idgen"
	applog "pimarket/pkg/log"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// defaultFailReason 支付失败但没有给出原因时写入 notes 的内容
const defaultFailReason = "Payment failed"

// SettlementResult 一次结算调用的结果
type SettlementResult int

const (
	// ResultApplied 本次调用完成了状态流转
	ResultApplied SettlementResult = iota + 1
	// ResultAlreadySettled 交易已是终态，本次调用什么也没做。
	// 两条完成路径竞争时这是正常结果，不是错误。
	ResultAlreadySettled
)

func (r SettlementResult) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultAlreadySettled:
		return "already_settled"
	default:
		return "unknown"
	}
}

// Dispatcher 把交易交给后台结算，不能阻塞调用方
type Dispatcher interface {
	Dispatch(transactionID int64) error
}

// TransactionStore 交易存储
type TransactionStore interface {
	Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error
	GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error)
	TransitionStatus(ctx context.Context, tx *gorm.DB, id int64, from, to model.TransactionStatus, fields map[string]interface{}) error
}

// ListingProvider 商品查询
type ListingProvider interface {
	GetActiveListing(ctx context.Context, id int64) (*model.Listing, error)
}

// EventOutbox 结算事件写入本地消息表
type EventOutbox interface {
	CreateSettlementEvent(ctx context.Context, tx *gorm.DB, topic string, event *model.SettlementEvent) error
}

// SettlementService 结算协调器
//
// 交易状态只在这里修改。后台结算和 Pi 回调最终都调用 CompleteOnce / MarkFailed，
// 两者谁先到谁生效，后到的一方拿到 ResultAlreadySettled。
type SettlementService struct {
	db           *gorm.DB
	cfg          config.SettlementConfig
	topic        string
	transactions TransactionStore
	listings     ListingProvider
	ledger       SellerMetricsLedger
	outbox       EventOutbox
	rail         payment.Rail
	locker       lock.Locker
	fees         FeeCalculator
	dispatcher   Dispatcher
	logger       zerolog.Logger
}

func NewSettlementService(db *gorm.DB, cfg *config.Config, rail payment.Rail, locker lock.Locker) *SettlementService {
	return &SettlementService{
		db:           db,
		cfg:          cfg.Settlement,
		topic:        cfg.Kafka.Topic.SettlementResult,
		transactions: repository.NewTransactionRepository(db),
		listings:     repository.NewListingRepository(db),
		ledger:       NewSellerMetricsLedger(db),
		outbox:       repository.NewOutboxRepository(db),
		rail:         rail,
		locker:       locker,
		fees:         NewFeeCalculator(cfg.Settlement.PlatformFeePercent),
		logger:       applog.Component("settlement"),
	}
}

// SetDispatcher 后台结算队列依赖本服务，只能在创建之后注入
func (s *SettlementService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Initiate 买家发起购买，创建 PENDING 交易并交给后台结算，不等待结算结果
func (s *SettlementService) Initiate(ctx context.Context, buyerID, listingID int64) (*model.Transaction, error) {
	listing, err := s.listings.GetActiveListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, fmt.Errorf("商品 %d: %w", listingID, ErrNotFound)
		}
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}

	if listing.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}

	fee, net := s.fees.Calculate(listing.Price)
	trans := &model.Transaction{
		ID:        idgen.NextID(),
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		ListingID: listing.ID,
		Amount:    listing.Price,
		Fee:       fee,
		NetAmount: net,
		Status:    model.TransactionStatusPending,
	}
	if err := s.transactions.Create(ctx, nil, trans); err != nil {
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}

	s.logger.Info().
		Int64("transaction_id", trans.ID).
		Int64("buyer_id", buyerID).
		Int64("listing_id", listingID).
		Str("amount", trans.Amount.String()).
		Msg("交易已创建")

	s.dispatch(trans.ID)
	return trans, nil
}

func (s *SettlementService) dispatch(id int64) {
	if s.dispatcher == nil {
		s.logger.Warn().Int64("transaction_id", id).Msg("未配置结算队列，等待补偿任务处理")
		return
	}
	// 入队失败不影响下单，补偿任务会重新投递长时间 PENDING 的交易
	if err := s.dispatcher.Dispatch(id); err != nil {
		s.logger.Warn().Err(err).Int64("transaction_id", id).Msg("投递结算任务失败")
	}
}

// Redispatch 补偿任务重新投递
func (s *SettlementService) Redispatch(id int64) error {
	if s.dispatcher == nil {
		return errors.New("未配置结算队列")
	}
	return s.dispatcher.Dispatch(id)
}

// AttemptSettlement 后台结算入口
//
// 交易已不是 PENDING（比如回调先到了）时直接返回。支付通道的失败不向上返回，
// 记录到 notes 并把交易置为 FAILED；返回的 error 只表示基础设施故障，供调用方记日志。
func (s *SettlementService) AttemptSettlement(ctx context.Context, id int64) error {
	trans, err := s.transactions.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return fmt.Errorf("交易 %d: %w", id, ErrNotFound)
		}
		return err
	}

	if trans.Status != model.TransactionStatusPending {
		s.logger.Debug().
			Int64("transaction_id", id).
			Str("status", string(trans.Status)).
			Msg("交易已结算，跳过")
		metrics.SettlementNoops.WithLabelValues(metrics.SourceWorker).Inc()
		return nil
	}

	attemptCtx := ctx
	if s.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	reference, submitErr := s.rail.Submit(attemptCtx, trans)
	metrics.SettlementAttemptDuration.Observe(time.Since(start).Seconds())

	if submitErr != nil {
		// 进程退出导致的取消不算支付失败，交易保持 PENDING
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn().Err(submitErr).Int64("transaction_id", id).Msg("支付通道返回失败")

		result, err := s.MarkFailed(ctx, id, submitErr.Error())
		ObserveSettlement(metrics.SourceWorker, model.TransactionStatusFailed, result, err)
		return err
	}

	result, err := s.CompleteOnce(ctx, id, reference)
	ObserveSettlement(metrics.SourceWorker, model.TransactionStatusCompleted, result, err)
	return err
}

// CompleteOnce 把交易置为 COMPLETED，全系统唯一的完成入口
//
// 状态 CAS、卖家入账、结算事件在同一个数据库事务里，任何一步失败整体回滚。
// 只有 CAS 命中的调用者会入账，其余调用者返回 ResultAlreadySettled。
func (s *SettlementService) CompleteOnce(ctx context.Context, id int64, providerRef string) (SettlementResult, error) {
	release := s.acquire(ctx, id)
	defer release()

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.transactions.TransitionStatus(ctx, tx, id,
			model.TransactionStatusPending, model.TransactionStatusCompleted,
			map[string]interface{}{
				"completed_at":       now,
				"provider_reference": providerRef,
			})
		if err != nil {
			return err
		}

		trans, err := s.transactions.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}

		sale := Sale{
			TransactionID: trans.ID,
			SellerID:      trans.SellerID,
			NetAmount:     trans.NetAmount,
		}
		if err := s.ledger.RecordSale(ctx, tx, sale); err != nil {
			return err
		}

		event := settlementEvent(model.EventTransactionCompleted, trans, now)
		event.PaymentID = providerRef
		if err := s.outbox.CreateSettlementEvent(ctx, tx, s.topic, event); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return s.alreadySettled(ctx, id)
		}
		return 0, fmt.Errorf("完成交易 %d 失败: %w", id, err)
	}

	s.logger.Info().
		Int64("transaction_id", id).
		Str("pi_payment_id", providerRef).
		Msg("交易已完成")
	return ResultApplied, nil
}

// MarkFailed 把 PENDING 交易置为 FAILED，已是终态时什么也不做
func (s *SettlementService) MarkFailed(ctx context.Context, id int64, reason string) (SettlementResult, error) {
	if reason == "" {
		reason = defaultFailReason
	}

	release := s.acquire(ctx, id)
	defer release()

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.transactions.TransitionStatus(ctx, tx, id,
			model.TransactionStatusPending, model.TransactionStatusFailed,
			map[string]interface{}{"notes": reason})
		if err != nil {
			return err
		}

		trans, err := s.transactions.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}

		event := settlementEvent(model.EventTransactionFailed, trans, now)
		event.Reason = reason
		if err := s.outbox.CreateSettlementEvent(ctx, tx, s.topic, event); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return s.alreadySettled(ctx, id)
		}
		return 0, fmt.Errorf("交易 %d 置为失败出错: %w", id, err)
	}

	s.logger.Info().
		Int64("transaction_id", id).
		Str("reason", reason).
		Msg("交易已失败")
	return ResultApplied, nil
}

// alreadySettled CAS 没有命中：交易不存在，或者已被另一条路径结算
func (s *SettlementService) alreadySettled(ctx context.Context, id int64) (SettlementResult, error) {
	trans, err := s.transactions.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return 0, fmt.Errorf("交易 %d: %w", id, ErrNotFound)
		}
		return 0, err
	}

	s.logger.Debug().
		Int64("transaction_id", id).
		Str("status", string(trans.Status)).
		Msg("交易已结算，忽略本次调用")
	return ResultAlreadySettled, nil
}

// acquire 按交易加锁，减少两条路径同时打到数据库
//
// 锁只是优化，正确性由状态 CAS 保证；拿不到锁时照常执行。
func (s *SettlementService) acquire(ctx context.Context, id int64) func() {
	if s.locker == nil {
		return func() {}
	}

	release, err := s.locker.Acquire(ctx, lock.SettlementKey(id), s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn().Err(err).Int64("transaction_id", id).Msg("获取结算锁失败，继续执行")
		return func() {}
	}
	return release
}

func settlementEvent(event string, trans *model.Transaction, at time.Time) *model.SettlementEvent {
	return &model.SettlementEvent{
		Event:         event,
		TransactionID: trans.ID,
		BuyerID:       trans.BuyerID,
		SellerID:      trans.SellerID,
		ListingID:     trans.ListingID,
		Amount:        trans.Amount.String(),
		NetAmount:     trans.NetAmount.String(),
		Status:        trans.Status,
		OccurredAt:    at.Format(time.RFC3339),
	}
}

// ObserveSettlement 记录一次结算调用的结果
func ObserveSettlement(source string, to model.TransactionStatus, result SettlementResult, err error) {
	if err != nil {
		return
	}
	if result == ResultApplied {
		metrics.SettlementTransitions.WithLabelValues(string(to), source).Inc()
		return
	}
	metrics.SettlementNoops.WithLabelValues(source).Inc()
}
