// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"etf_dashboard/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database with every model migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.MigrateAll(db))
	return db
}

// SeedETF inserts an active ETF row and returns it.
func SeedETF(t testing.TB, db *gorm.DB, symbol, isin string) models.ETF {
	t.Helper()
	etf := models.ETF{Symbol: symbol, Name: symbol + " ETF", ISIN: isin, Currency: "USD", IsActive: true}
	require.NoError(t, db.Create(&etf).Error)
	return etf
}

// SeedUser inserts a user row and returns it.
func SeedUser(t testing.TB, db *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Email: email, PasswordHash: "x", Role: "user", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	return user
}
