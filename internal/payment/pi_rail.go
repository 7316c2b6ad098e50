package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"pimarket/internal/config"
	"pimarket/internal/model"
	applog "pimarket/pkg/log"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

type piPaymentRequest struct {
	Payment piPaymentBody `json:"payment"`
}

type piPaymentBody struct {
	Amount   string            `json:"amount"`
	Memo     string            `json:"memo"`
	UID      string            `json:"uid"`
	Metadata map[string]string `json:"metadata"`
}

type piPaymentResponse struct {
	Identifier string `json:"identifier"`
}

type piErrorResponse struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// IdempotencyHeader 同一笔交易的重复提交（重试、reaper 重新派发）带同一个 key，由 Pi 去重
const IdempotencyHeader = "Idempotency-Key"

// PiRail 调用 Pi 服务端 API 发起支付
//
// 失败重试由 resty 负责（只重试确定没发出去的网络错误和 5xx），外面再套一层熔断。
type PiRail struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewPiRail(cfg *config.PiConfig) *PiRail {
	client := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("Authorization", "Key "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(retryable)

	return &PiRail{
		client:  client,
		breaker: newBreaker("pi-api", applog.Component("pi-rail")),
	}
}

// retryable 只有请求确定没到达 Pi（拨号失败、DNS 解析失败）或 Pi 返回 5xx 才重试。
// 超时、连接中途断开时 Pi 可能已经建了支付，重发会重复扣款。
func retryable(r *resty.Response, err error) bool {
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return true
		}
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	}
	return r != nil && r.StatusCode() >= http.StatusInternalServerError
}

func (p *PiRail) Submit(ctx context.Context, trans *model.Transaction) (string, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.submit(ctx, trans)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("pi api unavailable: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (p *PiRail) submit(ctx context.Context, trans *model.Transaction) (string, error) {
	var ok piPaymentResponse
	var failure piErrorResponse

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader(IdempotencyHeader, idempotencyKey(trans.ID)).
		SetBody(piPaymentRequest{Payment: piPaymentBody{
			Amount: trans.Amount.String(),
			Memo:   fmt.Sprintf("marketplace purchase #%d", trans.ID),
			UID:    strconv.FormatInt(trans.BuyerID, 10),
			Metadata: map[string]string{
				"transaction_id": strconv.FormatInt(trans.ID, 10),
				"listing_id":     strconv.FormatInt(trans.ListingID, 10),
			},
		}}).
		SetResult(&ok).
		SetError(&failure).
		Post("/payments")
	if err != nil {
		return "", fmt.Errorf("pi api request failed: %w", err)
	}

	if resp.IsError() {
		reason := failure.ErrorMessage
		if reason == "" {
			reason = failure.Error
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode())
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return "", fmt.Errorf("pi api error (%d): %s", resp.StatusCode(), reason)
		}
		return "", &RejectedError{StatusCode: resp.StatusCode(), Reason: reason}
	}

	if ok.Identifier == "" {
		return "", fmt.Errorf("pi api returned empty payment identifier")
	}
	return ok.Identifier, nil
}

func idempotencyKey(transactionID int64) string {
	return "market-tx-" + strconv.FormatInt(transactionID, 10)
}
