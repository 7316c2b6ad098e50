// Package testutil 测试辅助：内存 sqlite 数据库和基础数据
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"pimarket/internal/infrastructure/database"
	"pimarket/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

// NewDB 每个测试一个独立的内存库
//
// 只开一个连接：sqlite 不支持并发写，并发测试里的事务会在连接池上排队，
// 行为上等价于 MySQL 的行锁串行化。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SeedUser 创建用户，评分可指定
func SeedUser(t testing.TB, db *gorm.DB, id int64, rating float64) *model.User {
	t.Helper()
	user := &model.User{
		ID:           id,
		Username:     fmt.Sprintf("user-%d", id),
		SellerRating: rating,
		TotalRevenue: decimal.Zero,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(user).Error)
	return user
}

// SeedListing 创建商品
func SeedListing(t testing.TB, db *gorm.DB, id, sellerID int64, price string, active bool) *model.Listing {
	t.Helper()
	listing := &model.Listing{
		ID:       id,
		SellerID: sellerID,
		Title:    fmt.Sprintf("listing-%d", id),
		Price:    decimal.RequireFromString(price),
		IsActive: true,
	}
	require.NoError(t, db.Create(listing).Error)
	if !active {
		// bool 零值不会被 Create 写入，单独更新
		require.NoError(t, db.Model(listing).Update("is_active", false).Error)
	}
	return listing
}
