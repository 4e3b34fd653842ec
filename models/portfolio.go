package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction types
const (
	TxBuy      = "BUY"
	TxSell     = "SELL"
	TxDeposit  = "DEPOSIT"
	TxWithdraw = "WITHDRAW"
)

// Portfolio groups a user's ETF holdings and cash
type Portfolio struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"index" json:"user_id"`
	User         User            `gorm:"foreignKey:UserID" json:"-"`
	Name         string          `json:"name"`
	BaseCurrency string          `gorm:"size:3;default:'EUR'" json:"base_currency"`
	Cash         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cash"`
	TrackCash    bool            `gorm:"default:false" json:"track_cash"`
	Positions    []Position      `gorm:"foreignKey:PortfolioID" json:"positions,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Position is the current holding of one ETF within a portfolio
type Position struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	PortfolioID uint            `gorm:"uniqueIndex:idx_portfolio_etf" json:"portfolio_id"`
	ETFID       uint            `gorm:"uniqueIndex:idx_portfolio_etf" json:"etf_id"`
	ETF         ETF             `gorm:"foreignKey:ETFID" json:"-"`
	Symbol      string          `gorm:"size:20" json:"symbol"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	AvgCost     decimal.Decimal `gorm:"type:decimal(24,10)" json:"avg_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Transaction is an executed portfolio operation
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	PortfolioID uint            `gorm:"index" json:"portfolio_id"`
	ETFID       *uint           `gorm:"index" json:"etf_id,omitempty"`
	Symbol      string          `gorm:"size:20" json:"symbol,omitempty"`
	Type        string          `gorm:"size:8" json:"type"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:decimal(15,4)" json:"price"`
	Fee         decimal.Decimal `gorm:"type:decimal(15,4)" json:"fee"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:decimal(20,4)" json:"realized_pnl"`
	ExecutedAt  time.Time       `gorm:"index" json:"executed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsValidTransactionType checks a transaction type string
func IsValidTransactionType(t string) bool {
	switch t {
	case TxBuy, TxSell, TxDeposit, TxWithdraw:
		return true
	}
	return false
}

// MigratePortfolioModels runs database migrations for portfolio models
func MigratePortfolioModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Portfolio{},
		&Position{},
		&Transaction{},
	)
}
