package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"pimarket/internal/config"
	"pimarket/internal/infrastructure/lock"
	"pimarket/internal/model"
	"pimarket/internal/payment"
	"pimarket/internal/service"
	"pimarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeReaperSettler struct {
	mu           sync.Mutex
	failed       map[int64]string
	redispatched []int64
}

func (s *fakeReaperSettler) MarkFailed(ctx context.Context, id int64, reason string) (service.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = make(map[int64]string)
	}
	s.failed[id] = reason
	return service.ResultApplied, nil
}

func (s *fakeReaperSettler) Redispatch(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redispatched = append(s.redispatched, id)
	return nil
}

func seedTransaction(t *testing.T, db *gorm.DB, id int64, status model.TransactionStatus, createdAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&model.Transaction{
		ID:        id,
		BuyerID:   1,
		SellerID:  2,
		ListingID: 10,
		Amount:    decimal.NewFromInt(100),
		Fee:       decimal.NewFromInt(8),
		NetAmount: decimal.NewFromInt(92),
		Status:    status,
		CreatedAt: createdAt,
	}).Error)
}

func reaperConfig(timeout, redispatchAfter time.Duration) *config.Config {
	cfg := config.Default()
	cfg.Settlement.Timeout = timeout
	cfg.Settlement.RedispatchAfter = redispatchAfter
	return cfg
}

func TestSettlementReaper(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Now()

	seedTransaction(t, db, 1, model.TransactionStatusPending, now.Add(-time.Hour))
	seedTransaction(t, db, 2, model.TransactionStatusPending, now.Add(-5*time.Minute))
	seedTransaction(t, db, 3, model.TransactionStatusPending, now.Add(-10*time.Second))
	seedTransaction(t, db, 4, model.TransactionStatusCompleted, now.Add(-time.Hour))

	settler := &fakeReaperSettler{}
	reaper := NewSettlementReaper(db, settler, reaperConfig(30*time.Minute, 2*time.Minute))
	reaper.now = func() time.Time { return now }

	failed, redispatched := reaper.Reap(context.Background())
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, redispatched)
	assert.Equal(t, map[int64]string{1: TimeoutReason}, settler.failed)
	assert.Equal(t, []int64{2}, settler.redispatched)
}

func TestSettlementReaperTimeoutDisabled(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Now()
	seedTransaction(t, db, 1, model.TransactionStatusPending, now.Add(-24*time.Hour))

	settler := &fakeReaperSettler{}
	reaper := NewSettlementReaper(db, settler, reaperConfig(0, 2*time.Minute))
	reaper.now = func() time.Time { return now }

	failed, redispatched := reaper.Reap(context.Background())
	assert.Zero(t, failed)
	assert.Equal(t, 1, redispatched)
	assert.Empty(t, settler.failed)
}

func TestSettlementReaperMarksFailed(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, 1, 0)
	testutil.SeedUser(t, db, 2, 0)
	seedTransaction(t, db, 1, model.TransactionStatusPending, time.Now().Add(-time.Hour))

	cfg := reaperConfig(30*time.Minute, 2*time.Minute)
	svc := service.NewSettlementService(db, cfg, payment.NewSimulatedRail(0, 0), lock.NewLocalLocker())
	reaper := NewSettlementReaper(db, svc, cfg)

	failed, _ := reaper.Reap(context.Background())
	assert.Equal(t, 1, failed)

	var trans model.Transaction
	require.NoError(t, db.First(&trans, 1).Error)
	assert.Equal(t, model.TransactionStatusFailed, trans.Status)
	assert.Equal(t, TimeoutReason, trans.Notes)

	// 已是终态，再跑一次什么也不做
	failed, _ = reaper.Reap(context.Background())
	assert.Zero(t, failed)
}
