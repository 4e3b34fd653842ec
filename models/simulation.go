package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Simulation statuses
const (
	SimulationPending   = "pending"
	SimulationRunning   = "running"
	SimulationStopped   = "stopped"
	SimulationCompleted = "completed"
	SimulationFailed    = "failed"
)

// TradingSimulation is a paper-trading run driven by generated signals
type TradingSimulation struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UUID            string          `gorm:"uniqueIndex;size:36" json:"uuid"`
	UserID          uint            `gorm:"index" json:"user_id"`
	User            User            `gorm:"foreignKey:UserID" json:"-"`
	Name            string          `json:"name"`
	Symbols         datatypes.JSON  `json:"symbols"`
	InitialCapital  decimal.Decimal `gorm:"type:decimal(20,4)" json:"initial_capital"`
	Cash            decimal.Decimal `gorm:"type:decimal(20,4)" json:"cash"`
	CommissionRate  decimal.Decimal `gorm:"type:decimal(8,6)" json:"commission_rate"`
	PositionSizePct decimal.Decimal `gorm:"type:decimal(6,4)" json:"position_size_pct"`
	MinConfidence   decimal.Decimal `gorm:"type:decimal(5,4)" json:"min_confidence"`
	StopLossPct     decimal.Decimal `gorm:"type:decimal(6,4)" json:"stop_loss_pct"`
	TakeProfitPct   decimal.Decimal `gorm:"type:decimal(6,4)" json:"take_profit_pct"`
	IntervalSeconds int             `json:"interval_seconds"`
	MaxTicks        int             `json:"max_ticks"`
	Ticks           int             `json:"ticks"`
	FailedTicks     int             `json:"failed_ticks"`
	Status          string          `gorm:"size:16;index" json:"status"`
	LastError       string          `json:"last_error,omitempty"`
	StartedAt       *time.Time      `json:"started_at"`
	StoppedAt       *time.Time      `json:"stopped_at"`
	LastTickAt      *time.Time      `json:"last_tick_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SymbolList decodes the JSON symbol list.
func (s *TradingSimulation) SymbolList() []string {
	var symbols []string
	if len(s.Symbols) == 0 {
		return symbols
	}
	_ = json.Unmarshal(s.Symbols, &symbols)
	return symbols
}

// SimulationPosition is an open paper position
type SimulationPosition struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	SimulationID uint            `gorm:"uniqueIndex:idx_sim_symbol" json:"simulation_id"`
	Symbol       string          `gorm:"uniqueIndex:idx_sim_symbol;size:20" json:"symbol"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `gorm:"type:decimal(15,4)" json:"avg_price"`
	LastPrice    decimal.Decimal `gorm:"type:decimal(15,4)" json:"last_price"`
	OpenedAt     time.Time       `json:"opened_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SimulationTrade is an executed paper trade
type SimulationTrade struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	SimulationID uint            `gorm:"index" json:"simulation_id"`
	Symbol       string          `gorm:"size:20" json:"symbol"`
	Side         string          `gorm:"size:4" json:"side"` // BUY, SELL
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `gorm:"type:decimal(15,4)" json:"price"`
	Commission   decimal.Decimal `gorm:"type:decimal(15,4)" json:"commission"`
	PnL          decimal.Decimal `gorm:"column:pnl;type:decimal(20,4)" json:"pnl"`
	Reason       string          `json:"reason"`
	ExecutedAt   time.Time       `gorm:"index" json:"executed_at"`
}

// MigrateSimulationModels runs database migrations for simulation models
func MigrateSimulationModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&TradingSimulation{},
		&SimulationPosition{},
		&SimulationTrade{},
	)
}

// MigrateAll runs every model migration in dependency order.
func MigrateAll(db *gorm.DB) error {
	steps := []func(*gorm.DB) error{
		MigrateMarketModels,
		MigrateUserModels,
		MigrateSignalModels,
		MigratePortfolioModels,
		MigrateSimulationModels,
	}
	for _, step := range steps {
		if err := step(db); err != nil {
			return err
		}
	}
	return nil
}
