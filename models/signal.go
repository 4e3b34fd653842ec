package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Signal types
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Signal is a rule-based trading signal produced from an ETF's price history.
type Signal struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ETFID       uint            `gorm:"index" json:"etf_id"`
	ETF         ETF             `gorm:"foreignKey:ETFID" json:"-"`
	Symbol      string          `gorm:"index;size:20" json:"symbol"`
	Type        string          `gorm:"size:4;index" json:"type"`
	Score       decimal.Decimal `gorm:"type:decimal(6,4)" json:"score"`      // -1..1
	Confidence  decimal.Decimal `gorm:"type:decimal(5,4)" json:"confidence"` // 0..1
	Price       decimal.Decimal `gorm:"type:decimal(15,4)" json:"price"`
	TargetPrice decimal.Decimal `gorm:"type:decimal(15,4)" json:"target_price"`
	StopLoss    decimal.Decimal `gorm:"type:decimal(15,4)" json:"stop_loss"`
	Reasons     datatypes.JSON  `json:"reasons"`
	Indicators  datatypes.JSON  `json:"indicators"`
	ExpiresAt   time.Time       `gorm:"index" json:"expires_at"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

// IsExpired reports whether the signal is past its validity window.
func (s *Signal) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// IsValidSignalType checks a signal type string
func IsValidSignalType(t string) bool {
	return t == SignalBuy || t == SignalSell || t == SignalHold
}

// MigrateSignalModels runs database migrations for signal models
func MigrateSignalModels(db *gorm.DB) error {
	return db.AutoMigrate(&Signal{})
}
