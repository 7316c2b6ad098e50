package service

import (
	"context"
	"sync"
	"testing"

	"pimarket/internal/config"
	"pimarket/internal/infrastructure/lock"
	"pimarket/internal/model"
	"pimarket/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (d *recordingDispatcher) Dispatch(id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) dispatched() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

// stubRail 可编程的支付通道
type stubRail struct {
	mu     sync.Mutex
	calls  int
	submit func(ctx context.Context, trans *model.Transaction) (string, error)
}

func (r *stubRail) Submit(ctx context.Context, trans *model.Transaction) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.submit == nil {
		return "pi_ok", nil
	}
	return r.submit(ctx, trans)
}

func (r *stubRail) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	db         *gorm.DB
	svc        *SettlementService
	dispatcher *recordingDispatcher
	rail       *stubRail
}

// newFixture 卖家 2、买家 1、商品 10（价格 100，卖家 2）
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, 1, 0)
	testutil.SeedUser(t, db, 2, 0)
	testutil.SeedListing(t, db, 10, 2, "100", true)

	rail := &stubRail{}
	dispatcher := &recordingDispatcher{}
	svc := NewSettlementService(db, config.Default(), rail, lock.NewLocalLocker())
	svc.SetDispatcher(dispatcher)

	return &fixture{db: db, svc: svc, dispatcher: dispatcher, rail: rail}
}

func (f *fixture) initiate(t *testing.T) *model.Transaction {
	t.Helper()
	trans, err := f.svc.Initiate(context.Background(), 1, 10)
	require.NoError(t, err)
	return trans
}

func (f *fixture) reload(t *testing.T, id int64) *model.Transaction {
	t.Helper()
	var trans model.Transaction
	require.NoError(t, f.db.First(&trans, id).Error)
	return &trans
}

func (f *fixture) seller(t *testing.T, id int64) *model.User {
	t.Helper()
	var user model.User
	require.NoError(t, f.db.First(&user, id).Error)
	return &user
}

func (f *fixture) saleRecords(t *testing.T, transactionID int64) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&model.SaleRecord{}).Where("transaction_id = ?", transactionID).Count(&count).Error)
	return count
}

func (f *fixture) outbox(t *testing.T) []*model.OutboxMessage {
	t.Helper()
	var messages []*model.OutboxMessage
	require.NoError(t, f.db.Order("id ASC").Find(&messages).Error)
	return messages
}
