package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pimarket/internal/config"
	"pimarket/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransaction() *model.Transaction {
	return &model.Transaction{
		ID:        77,
		BuyerID:   1,
		SellerID:  2,
		ListingID: 3,
		Amount:    decimal.NewFromInt(100),
		Status:    model.TransactionStatusPending,
	}
}

func TestSimulatedRail(t *testing.T) {
	ref, err := NewSimulatedRail(0, 0).Submit(context.Background(), testTransaction())
	require.NoError(t, err)
	assert.Equal(t, "pi_payment_77", ref)

	_, err = NewSimulatedRail(0, 1).Submit(context.Background(), testTransaction())
	var rejected *RejectedError
	assert.True(t, errors.As(err, &rejected))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSimulatedRail(time.Second, 0).Submit(ctx, testTransaction())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRail(t *testing.T) {
	cfg := config.Default().Pi
	rail, err := NewRail(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &SimulatedRail{}, rail)

	cfg.Mode = "live"
	rail, err = NewRail(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &PiRail{}, rail)

	cfg.Mode = "carrier-pigeon"
	_, err = NewRail(&cfg)
	assert.Error(t, err)
}

func newTestPiRail(url string) *PiRail {
	cfg := config.Default().Pi
	cfg.Mode = "live"
	cfg.APIURL = url
	cfg.APIKey = "secret-key"
	cfg.RetryCount = 2
	cfg.RetryWait = time.Millisecond
	cfg.HTTPTimeout = 2 * time.Second
	return NewPiRail(&cfg)
}

func TestPiRailSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Key secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "market-tx-77", r.Header.Get(IdempotencyHeader))

		var body piPaymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "100", body.Payment.Amount)
		assert.Equal(t, "77", body.Payment.Metadata["transaction_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"identifier":"pi_xyz"}`))
	}))
	defer server.Close()

	ref, err := newTestPiRail(server.URL).Submit(context.Background(), testTransaction())
	require.NoError(t, err)
	assert.Equal(t, "pi_xyz", ref)
}

func TestPiRailRejected(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient_balance","error_message":"buyer wallet has insufficient balance"}`))
	}))
	defer server.Close()

	_, err := newTestPiRail(server.URL).Submit(context.Background(), testTransaction())
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "buyer wallet has insufficient balance", rejected.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx 不重试")
}

func TestPiRailServerErrorRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestPiRail(server.URL).Submit(context.Background(), testTransaction())
	require.Error(t, err)
	var rejected *RejectedError
	assert.False(t, errors.As(err, &rejected))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "1 次请求 + 2 次重试")
}

func TestPiRailTimeoutNotResubmitted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Pi 已经受理，但响应慢于客户端超时
			time.Sleep(300 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fmt.Sprintf(`{"identifier":"pay_%d"}`, atomic.LoadInt32(&calls))))
	}))
	defer server.Close()

	rail := newTestPiRail(server.URL)
	rail.client.SetTimeout(100 * time.Millisecond)

	_, err := rail.Submit(context.Background(), testTransaction())
	require.Error(t, err)
	var rejected *RejectedError
	assert.False(t, errors.As(err, &rejected))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "超时不重发，避免重复扣款")
}

func TestPiRailDialErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var attempts int32
	rail := newTestPiRail(url)
	rail.client.OnBeforeRequest(func(*resty.Client, *resty.Request) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})

	_, err := rail.Submit(context.Background(), testTransaction())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "连接被拒绝说明请求没发出去，可以重试")
}

func TestPiRailResubmitUsesSameIdempotencyKey(t *testing.T) {
	var keys []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(IdempotencyHeader))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"identifier":"pay_1"}`))
	}))
	defer server.Close()

	rail := newTestPiRail(server.URL)
	for i := 0; i < 2; i++ {
		ref, err := rail.Submit(context.Background(), testTransaction())
		require.NoError(t, err)
		assert.Equal(t, "pay_1", ref)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"market-tx-77", "market-tx-77"}, keys)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.True(t, retryable(nil, &net.DNSError{Err: "no such host", Name: "api.minepi.com"}))
	assert.False(t, retryable(nil, &net.OpError{Op: "read", Err: errors.New("connection reset")}))
	assert.False(t, retryable(nil, context.DeadlineExceeded))
}

func TestPiRailBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rail := newTestPiRail(server.URL)
	for i := 0; i < 5; i++ {
		_, _ = rail.Submit(context.Background(), testTransaction())
	}

	_, err := rail.Submit(context.Background(), testTransaction())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pi api unavailable")
}
