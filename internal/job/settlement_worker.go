package job

import (
	"context"
	"errors"
	"sync"

	"pimarket/internal/config"
	"pimarket/internal/metrics"
	applog "pimarket/pkg/log"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull     = errors.New("结算队列已满")
	ErrWorkerStopped = errors.New("结算队列已停止")
)

// Settler 后台结算一笔交易
type Settler interface {
	AttemptSettlement(ctx context.Context, transactionID int64) error
}

// SettlementWorker 后台结算队列
//
// 下单请求只负责入队，不等待结算。同一笔交易在队列里或处理中时重复投递会被忽略，
// 避免补偿任务重复提交支付。
type SettlementWorker struct {
	settler  Settler
	queue    chan int64
	workers  int
	logger   zerolog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[int64]struct{}
}

func NewSettlementWorker(settler Settler, cfg *config.Config) *SettlementWorker {
	return &SettlementWorker{
		settler: settler,
		queue:   make(chan int64, cfg.Settlement.QueueSize),
		workers: cfg.Settlement.Workers,
		logger:  applog.Component("settlement-worker"),
		stopCh:  make(chan struct{}),
		pending: make(map[int64]struct{}),
	}
}

// Dispatch 非阻塞入队，队列满时返回 ErrQueueFull
func (w *SettlementWorker) Dispatch(transactionID int64) error {
	select {
	case <-w.stopCh:
		return ErrWorkerStopped
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[transactionID]; ok {
		return nil
	}

	select {
	case w.queue <- transactionID:
		w.pending[transactionID] = struct{}{}
		metrics.SettlementQueueDepth.Inc()
		return nil
	default:
		metrics.SettlementDispatchDropped.Inc()
		return ErrQueueFull
	}
}

// Start 启动 workers 个协程后立即返回
func (w *SettlementWorker) Start(ctx context.Context) {
	w.logger.Info().Int("workers", w.workers).Int("queue_size", cap(w.queue)).Msg("结算队列启动")

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop 不再接收新任务，等待处理中的结算完成；队列里剩下的交易由补偿任务重新投递
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	w.logger.Info().Int("remaining", len(w.queue)).Msg("结算队列停止")
}

func (w *SettlementWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case id := <-w.queue:
			metrics.SettlementQueueDepth.Dec()
			w.process(ctx, id)
		}
	}
}

func (w *SettlementWorker) process(ctx context.Context, id int64) {
	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()

		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Int64("transaction_id", id).Msg("结算任务 panic")
		}
	}()

	if err := w.settler.AttemptSettlement(ctx, id); err != nil {
		w.logger.Error().Err(err).Int64("transaction_id", id).Msg("结算失败")
	}
}
