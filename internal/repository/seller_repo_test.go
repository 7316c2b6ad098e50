package repository

import (
	"context"
	"testing"

	"pimarket/internal/model"
	"pimarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIncreaseMetrics(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSellerRepository(db)
	ctx := context.Background()

	testutil.SeedUser(t, db, 1, 0)

	require.NoError(t, repo.IncreaseMetrics(ctx, db, 1, decimal.RequireFromString("92")))
	require.NoError(t, repo.IncreaseMetrics(ctx, db, 1, decimal.RequireFromString("4.6")))

	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), user.TotalSales)
	assert.True(t, user.TotalRevenue.Equal(decimal.RequireFromString("96.6")), "got %s", user.TotalRevenue)
	assert.InDelta(t, 0.2, user.SellerRating, 1e-9)
	assert.Equal(t, 2, user.Version)
}

func TestIncreaseMetricsRatingCap(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSellerRepository(db)
	ctx := context.Background()

	testutil.SeedUser(t, db, 1, 4.95)

	require.NoError(t, repo.IncreaseMetrics(ctx, db, 1, decimal.NewFromInt(1)))
	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.MaxSellerRating, user.SellerRating)

	require.NoError(t, repo.IncreaseMetrics(ctx, db, 1, decimal.NewFromInt(1)))
	user, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.MaxSellerRating, user.SellerRating)
}

func TestIncreaseMetricsUnknownSeller(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSellerRepository(db)

	err := repo.IncreaseMetrics(context.Background(), db, 404, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrSellerNotFound)
}

func TestInsertSaleRecordOncePerTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSellerRepository(db)
	ctx := context.Background()

	record := func() *model.SaleRecord {
		return &model.SaleRecord{TransactionID: 55, SellerID: 1, NetAmount: decimal.NewFromInt(92)}
	}

	require.NoError(t, repo.InsertSaleRecord(ctx, db, record()))
	assert.ErrorIs(t, repo.InsertSaleRecord(ctx, db, record()), ErrSaleAlreadyTaken)

	count, err := repo.CountSaleRecords(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInsertSaleRecordRollsBackWithTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSellerRepository(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.InsertSaleRecord(ctx, tx, &model.SaleRecord{TransactionID: 9, SellerID: 1, NetAmount: decimal.NewFromInt(1)}); err != nil {
			return err
		}
		// 卖家不存在，整个事务回滚
		return repo.IncreaseMetrics(ctx, tx, 1, decimal.NewFromInt(1))
	})
	assert.ErrorIs(t, err, ErrSellerNotFound)

	count, err := repo.CountSaleRecords(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, count)
}
