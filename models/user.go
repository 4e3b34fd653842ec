package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is an account of the dashboard
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	FullName     string     `json:"full_name"`
	Role         string     `gorm:"default:'user'" json:"role"` // user, admin
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Watchlist is a named list of ETFs a user follows
type Watchlist struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"index" json:"user_id"`
	User      User            `gorm:"foreignKey:UserID" json:"-"`
	Name      string          `json:"name"`
	Items     []WatchlistItem `gorm:"foreignKey:WatchlistID" json:"items,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WatchlistItem links an ETF to a watchlist
type WatchlistItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WatchlistID uint      `gorm:"uniqueIndex:idx_watchlist_etf" json:"watchlist_id"`
	ETFID       uint      `gorm:"uniqueIndex:idx_watchlist_etf" json:"etf_id"`
	ETF         ETF       `gorm:"foreignKey:ETFID" json:"etf,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Alert is a user-defined condition checked against live quotes and signals
type Alert struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"index" json:"user_id"`
	User        User            `gorm:"foreignKey:UserID" json:"-"`
	ETFID       uint            `gorm:"index" json:"etf_id"`
	Symbol      string          `gorm:"index;size:20" json:"symbol"`
	Condition   string          `json:"condition"`
	Threshold   decimal.Decimal `gorm:"type:decimal(15,4)" json:"threshold"`
	IsActive    bool            `gorm:"default:true;index" json:"is_active"`
	TriggeredAt *time.Time      `json:"triggered_at"`
	LastValue   decimal.Decimal `gorm:"type:decimal(15,4)" json:"last_value"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Alert conditions
const (
	AlertPriceAbove    = "price_above"
	AlertPriceBelow    = "price_below"
	AlertPercentChange = "percent_change"
	AlertSignalBuy     = "signal_buy"
	AlertSignalSell    = "signal_sell"
)

// ValidAlertConditions returns the supported alert conditions
func ValidAlertConditions() []string {
	return []string{
		AlertPriceAbove,
		AlertPriceBelow,
		AlertPercentChange,
		AlertSignalBuy,
		AlertSignalSell,
	}
}

// IsValidAlertCondition checks if the condition is supported
func IsValidAlertCondition(condition string) bool {
	for _, valid := range ValidAlertConditions() {
		if condition == valid {
			return true
		}
	}
	return false
}

// MigrateUserModels runs database migrations for user-related models
func MigrateUserModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Watchlist{},
		&WatchlistItem{},
		&Alert{},
	)
}
