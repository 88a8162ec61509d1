// Package storetest 提供測試用的記憶體資料庫
package storetest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"arbiter/store"
)

// NewDB 建立一個獨立的 sqlite 記憶體資料庫並完成 migrate
// 連線數限制為 1，讓交易與併發測試在 sqlite 上不會遇到 database is locked
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := store.Open(sqlite.Open(dsn), "")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})

	require.NoError(t, store.Migrate(db))
	return db
}

// NewRepository 建立一個以記憶體資料庫為後端的 Repository
func NewRepository(t testing.TB) (*store.Repository, *gorm.DB) {
	t.Helper()
	db := NewDB(t)
	return store.NewRepository(db), db
}
