package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pimarket/internal/metrics"
	"pimarket/internal/model"
	"pimarket/internal/repository"
	applog "pimarket/pkg/log"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Pi 回调里的支付状态
const (
	CallbackStatusCompleted = "completed"
	CallbackStatusFailed    = "failed"
)

// CallbackPayload Pi 支付回调
type CallbackPayload struct {
	PaymentID     string
	Status        string
	TransactionID string
	Error         string
}

// Settler 回调最终调用的结算操作
type Settler interface {
	CompleteOnce(ctx context.Context, id int64, providerRef string) (SettlementResult, error)
	MarkFailed(ctx context.Context, id int64, reason string) (SettlementResult, error)
}

// CallbackService 处理 Pi 支付回调
//
// 无状态，Pi 至少投递一次，同一回调重复到达时返回 ResultAlreadySettled，
// handler 仍然按成功响应，避免 Pi 无限重试。
type CallbackService struct {
	settler      Settler
	transactions TransactionStore
	secret       []byte
	logger       zerolog.Logger
}

func NewCallbackService(db *gorm.DB, settler Settler, webhookSecret string) *CallbackService {
	var secret []byte
	if webhookSecret != "" {
		secret = []byte(webhookSecret)
	}
	return &CallbackService{
		settler:      settler,
		transactions: repository.NewTransactionRepository(db),
		secret:       secret,
		logger:       applog.Component("pi-callback"),
	}
}

// VerifySignature 配置了 webhook_secret 时校验 X-Pi-Signature（body 的 HMAC-SHA256，hex）
func (s *CallbackService) VerifySignature(body []byte, signature string) error {
	if s.secret == nil {
		return nil
	}

	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(expected) == 0 {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrInvalidSignature
	}
	return nil
}

// Handle 校验回调并转成结算操作
func (s *CallbackService) Handle(ctx context.Context, payload CallbackPayload) (SettlementResult, error) {
	status := strings.ToLower(strings.TrimSpace(payload.Status))

	result, err := s.handle(ctx, payload, status)
	s.observe(status, result, err)
	return result, err
}

func (s *CallbackService) handle(ctx context.Context, payload CallbackPayload, status string) (SettlementResult, error) {
	paymentID := strings.TrimSpace(payload.PaymentID)
	if paymentID == "" || status == "" || strings.TrimSpace(payload.TransactionID) == "" {
		return 0, ErrMalformedCallback
	}

	id, err := strconv.ParseInt(strings.TrimSpace(payload.TransactionID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transaction_id %q: %w", payload.TransactionID, ErrMalformedCallback)
	}

	if _, err := s.transactions.GetByID(ctx, nil, id); err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return 0, fmt.Errorf("交易 %d: %w", id, ErrNotFound)
		}
		return 0, err
	}

	logger := s.logger.With().
		Int64("transaction_id", id).
		Str("pi_payment_id", paymentID).
		Str("status", status).
		Logger()

	switch status {
	case CallbackStatusCompleted:
		result, err := s.settler.CompleteOnce(ctx, id, paymentID)
		ObserveSettlement(metrics.SourceCallback, model.TransactionStatusCompleted, result, err)
		if err == nil {
			logger.Info().Str("result", result.String()).Msg("处理支付完成回调")
		}
		return result, err
	case CallbackStatusFailed:
		result, err := s.settler.MarkFailed(ctx, id, strings.TrimSpace(payload.Error))
		ObserveSettlement(metrics.SourceCallback, model.TransactionStatusFailed, result, err)
		if err == nil {
			logger.Info().Str("result", result.String()).Msg("处理支付失败回调")
		}
		return result, err
	default:
		logger.Warn().Msg("未知的回调状态")
		return 0, fmt.Errorf("%q: %w", payload.Status, ErrUnknownStatus)
	}
}

func (s *CallbackService) observe(status string, result SettlementResult, err error) {
	label := status
	if label != CallbackStatusCompleted && label != CallbackStatusFailed {
		label = "other"
	}

	outcome := "rejected"
	if err == nil {
		outcome = "applied"
		if result == ResultAlreadySettled {
			outcome = "noop"
		}
	}
	metrics.PiCallbacks.WithLabelValues(label, outcome).Inc()
}
