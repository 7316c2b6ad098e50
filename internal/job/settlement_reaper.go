package job

import (
	"context"
	"time"

	"pimarket/internal/config"
	"pimarket/internal/metrics"
	"pimarket/internal/model"
	"pimarket/internal/repository"
	"pimarket/internal/service"
	applog "pimarket/pkg/log"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// TimeoutReason 超时未结算的交易写入 notes 的原因
const TimeoutReason = "settlement timed out"

// ReaperSettler 补偿任务用到的结算操作
type ReaperSettler interface {
	MarkFailed(ctx context.Context, id int64, reason string) (service.SettlementResult, error)
	Redispatch(id int64) error
}

// SettlementReaper 长时间 PENDING 交易的补偿任务
//
//   - 超过 redispatch_after：重新投递到结算队列（进程重启、队列满时丢失的任务）。
//     再次 Submit 带同一个幂等 key，Pi 不会为同一笔交易建第二笔支付
//   - 超过 timeout：置为 FAILED；timeout 为 0 时不自动失败
type SettlementReaper struct {
	settler         ReaperSettler
	transactionRepo *repository.TransactionRepository
	timeout         time.Duration
	redispatchAfter time.Duration
	interval        time.Duration
	batchSize       int
	logger          zerolog.Logger
	stopCh          chan struct{}
	now             func() time.Time
}

func NewSettlementReaper(db *gorm.DB, settler ReaperSettler, cfg *config.Config) *SettlementReaper {
	return &SettlementReaper{
		settler:         settler,
		transactionRepo: repository.NewTransactionRepository(db),
		timeout:         cfg.Settlement.Timeout,
		redispatchAfter: cfg.Settlement.RedispatchAfter,
		interval:        cfg.Settlement.ReaperInterval,
		batchSize:       cfg.Settlement.ReaperBatchSize,
		logger:          applog.Component("settlement-reaper"),
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}
}

func (j *SettlementReaper) Start(ctx context.Context) {
	j.logger.Info().
		Dur("timeout", j.timeout).
		Dur("redispatch_after", j.redispatchAfter).
		Msg("结算补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("任务停止")
			return
		case <-ticker.C:
			j.Reap(ctx)
		}
	}
}

func (j *SettlementReaper) Stop() {
	close(j.stopCh)
}

// Reap 处理一批长时间 PENDING 的交易，返回置为失败和重新投递的数量
func (j *SettlementReaper) Reap(ctx context.Context) (failed, redispatched int) {
	minAge := j.redispatchAfter
	if minAge <= 0 || (j.timeout > 0 && j.timeout < minAge) {
		minAge = j.timeout
	}
	if minAge <= 0 {
		return 0, 0
	}

	now := j.now()
	transactions, err := j.transactionRepo.GetPendingBefore(ctx, now.Add(-minAge), j.batchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("查询 PENDING 交易失败")
		return 0, 0
	}

	for _, trans := range transactions {
		if j.timeout > 0 && now.Sub(trans.CreatedAt) >= j.timeout {
			result, err := j.settler.MarkFailed(ctx, trans.ID, TimeoutReason)
			service.ObserveSettlement(metrics.SourceReaper, model.TransactionStatusFailed, result, err)
			if err != nil {
				j.logger.Error().Err(err).Int64("transaction_id", trans.ID).Msg("超时交易置为失败出错")
				continue
			}
			if result == service.ResultApplied {
				failed++
				j.logger.Warn().
					Int64("transaction_id", trans.ID).
					Time("created_at", trans.CreatedAt).
					Msg("交易结算超时，已置为失败")
			}
			continue
		}

		if j.redispatchAfter <= 0 {
			continue
		}
		if err := j.settler.Redispatch(trans.ID); err != nil {
			j.logger.Warn().Err(err).Int64("transaction_id", trans.ID).Msg("重新投递失败")
			continue
		}
		redispatched++
	}

	if failed > 0 || redispatched > 0 {
		j.logger.Info().Int("failed", failed).Int("redispatched", redispatched).Msg("本次补偿完成")
	}
	return failed, redispatched
}
