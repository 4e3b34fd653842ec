package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ETF is a tracked exchange-traded fund.
type ETF struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Symbol          string          `gorm:"uniqueIndex;size:20;not null" json:"symbol"`
	Name            string          `json:"name"`
	ISIN            string          `gorm:"index;size:12" json:"isin"`
	TER             decimal.Decimal `gorm:"type:decimal(6,4)" json:"ter"` // percent per year, e.g. 0.22
	Currency        string          `gorm:"size:3" json:"currency"`
	Exchange        string          `json:"exchange"`
	Domicile        string          `json:"domicile"`
	FundSize        decimal.Decimal `gorm:"type:decimal(20,2)" json:"fund_size"`
	ProviderSymbols datatypes.JSON  `json:"provider_symbols,omitempty"` // provider name -> symbol override
	IsActive        bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MarketData is one daily OHLCV bar for an ETF.
type MarketData struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	ETFID     uint            `gorm:"uniqueIndex:idx_etf_date;not null" json:"etf_id"`
	ETF       ETF             `gorm:"foreignKey:ETFID" json:"-"`
	Date      time.Time       `gorm:"uniqueIndex:idx_etf_date;not null" json:"date"`
	Open      decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High      decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low       decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	AdjClose  decimal.Decimal `gorm:"type:decimal(15,4)" json:"adj_close"`
	Volume    int64           `json:"volume"`
	Source    string          `gorm:"size:32" json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-^=]{1,20}$`)

// ValidTicker reports whether symbol is an upper-case ticker such as
// "VWCE.DE" or "^GSPC".
func ValidTicker(symbol string) bool {
	return tickerPattern.MatchString(symbol)
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// MigrateMarketModels runs database migrations for ETF and price models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&ETF{},
		&MarketData{},
	)
}
