package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestValidateISIN(t *testing.T) {
	valid := []string{"IE00BK5BQT80", "IE00B4L5Y983", "US78462F1030", "LU0908500753", " ie00b5bmr087 "}
	for _, isin := range valid {
		assert.NoError(t, ValidateISIN(isin), isin)
	}

	invalid := []string{"", "IE00BK5BQT8", "IE00BK5BQT81", "1E00BK5BQT80", "IE00BK5BQT8X", "IE00BK-BQT80"}
	for _, isin := range invalid {
		assert.Error(t, ValidateISIN(isin), isin)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "VWCE.DE", NormalizeSymbol("  vwce.de "))
}

func TestValidTicker(t *testing.T) {
	for _, s := range []string{"SPY", "VWCE.DE", "^GSPC", "EURUSD=X", "BRK-B"} {
		assert.True(t, ValidTicker(s), s)
	}
	for _, s := range []string{"", "spy", "SPY DE", "ABCDEFGHIJKLMNOPQRSTU", "SPY;"} {
		assert.False(t, ValidTicker(s), s)
	}
}

func TestSignalExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s := Signal{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(2*time.Hour)))
	assert.False(t, (&Signal{}).IsExpired(now))
}

func TestSimulationSymbolList(t *testing.T) {
	sim := TradingSimulation{Symbols: datatypes.JSON(`["SPY","VWCE.DE"]`)}
	assert.Equal(t, []string{"SPY", "VWCE.DE"}, sim.SymbolList())
	assert.Empty(t, (&TradingSimulation{}).SymbolList())
}

func TestConditionAndTypeValidation(t *testing.T) {
	assert.True(t, IsValidAlertCondition(AlertSignalBuy))
	assert.False(t, IsValidAlertCondition("volume_spike"))
	assert.True(t, IsValidTransactionType(TxDeposit))
	assert.False(t, IsValidTransactionType("DIVIDEND"))
	assert.True(t, IsValidSignalType(SignalHold))
}

func TestPnLColumnNames(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, MigrateAll(db))

	m := db.Migrator()
	assert.True(t, m.HasColumn(&Transaction{}, "realized_pnl"))
	assert.True(t, m.HasColumn(&SimulationTrade{}, "pnl"))
}
