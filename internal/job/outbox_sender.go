package job

import (
	"context"
	"time"

	"pimarket/internal/config"
	"pimarket/internal/infrastructure/mq"
	"pimarket/internal/metrics"
	"pimarket/internal/model"
	"pimarket/internal/repository"
	applog "pimarket/pkg/log"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// OutboxSender 把本地消息表里的结算事件投递到 Kafka
//
// 至少投递一次：发送成功但标记 SENT 失败时会重发，消费方按 transaction_id 去重。
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetry   int
	logger     zerolog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   cfg.Business.MaxRetryCount,
		logger:     applog.Component("outbox-sender"),
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Msg("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending 发送一批待发送消息，返回发送成功的条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error().Err(updateErr).Int64("id", msg.ID).Msg("更新消息状态失败")
		} else {
			s.logger.Debug().Int64("id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("消息发送成功")
		}
		return true
	}

	metrics.OutboxPublished.WithLabelValues("error").Inc()
	s.logger.Warn().Err(err).Int64("id", msg.ID).Int("retry_count", msg.RetryCount).Msg("消息发送失败")

	if err := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry); err != nil {
		s.logger.Error().Err(err).Int64("id", msg.ID).Msg("记录发送失败出错")
		return false
	}
	if msg.RetryCount+1 >= s.maxRetry {
		metrics.OutboxPublished.WithLabelValues("dead").Inc()
		s.logger.Error().Int64("id", msg.ID).Msg("消息超过最大重试次数，标记为失败")
	}
	return false
}
