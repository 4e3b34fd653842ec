// Package alerts checks user alerts against live quotes and current signals.
package alerts

import (
	"context"
	"errors"
	"sort"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/models"
	"etf_dashboard/services/providers"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuoteSource provides current quotes.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*providers.Quote, error)
}

// SignalSource provides the current stored signal of a symbol.
type SignalSource interface {
	LatestStored(ctx context.Context, symbol string) (*models.Signal, error)
}

// Publisher delivers messages to subscribers of a symbol.
type Publisher interface {
	Publish(symbol, msgType string, data any)
}

// Event is published when an alert fires.
type Event struct {
	AlertID     uint            `json:"alert_id"`
	UserID      uint            `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Condition   string          `json:"condition"`
	Threshold   decimal.Decimal `json:"threshold"`
	Value       decimal.Decimal `json:"value"`
	TriggeredAt time.Time       `json:"triggered_at"`
}

// Result summarizes one check run.
type Result struct {
	Checked   int `json:"checked"`
	Triggered int `json:"triggered"`
	Skipped   int `json:"skipped"`
}

// Evaluate reports whether alert fires for the given quote and signal and
// the value it was compared on. Either input may be nil, in which case
// conditions that need it do not fire.
func Evaluate(alert *models.Alert, quote *providers.Quote, signal *models.Signal) (bool, decimal.Decimal) {
	switch alert.Condition {
	case models.AlertPriceAbove, models.AlertPriceBelow:
		if quote == nil || quote.Price <= 0 {
			return false, decimal.Zero
		}
		price := decimal.NewFromFloat(quote.Price)
		if alert.Condition == models.AlertPriceAbove {
			return price.GreaterThanOrEqual(alert.Threshold), price
		}
		return price.LessThanOrEqual(alert.Threshold), price

	case models.AlertPercentChange:
		if quote == nil {
			return false, decimal.Zero
		}
		change := decimal.NewFromFloat(quote.ChangePercent)
		return change.Abs().GreaterThanOrEqual(alert.Threshold.Abs()), change

	case models.AlertSignalBuy, models.AlertSignalSell:
		if signal == nil {
			return false, decimal.Zero
		}
		want := models.SignalBuy
		if alert.Condition == models.AlertSignalSell {
			want = models.SignalSell
		}
		return signal.Type == want && signal.Confidence.GreaterThanOrEqual(alert.Threshold), signal.Confidence
	}
	return false, decimal.Zero
}

func needsQuote(condition string) bool {
	switch condition {
	case models.AlertPriceAbove, models.AlertPriceBelow, models.AlertPercentChange:
		return true
	}
	return false
}

// Checker evaluates every active alert once per Run.
type Checker struct {
	db      *gorm.DB
	quotes  QuoteSource
	signals SignalSource
	pub     Publisher
	log     zerolog.Logger
	now     func() time.Time
}

func NewChecker(db *gorm.DB, quotes QuoteSource, signals SignalSource, pub Publisher) *Checker {
	return &Checker{
		db:      db,
		quotes:  quotes,
		signals: signals,
		pub:     pub,
		log:     logger.With("alerts"),
		now:     time.Now,
	}
}

// Run loads active alerts, fetches at most one quote and one signal per
// symbol, and marks triggered alerts inactive.
func (c *Checker) Run(ctx context.Context) (Result, error) {
	var res Result

	var active []models.Alert
	err := c.db.WithContext(ctx).
		Where("is_active = ? AND triggered_at IS NULL", true).
		Order("id").
		Find(&active).Error
	if err != nil {
		return res, apperr.Internal("failed to load alerts", err)
	}

	bySymbol := make(map[string][]*models.Alert)
	for i := range active {
		a := &active[i]
		sym := models.NormalizeSymbol(a.Symbol)
		bySymbol[sym] = append(bySymbol[sym], a)
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		group := bySymbol[sym]
		quote, signal := c.inputs(ctx, sym, group)

		for _, a := range group {
			if needsQuote(a.Condition) && quote == nil {
				res.Skipped++
				continue
			}
			res.Checked++

			fired, value := Evaluate(a, quote, signal)
			if !fired {
				continue
			}
			if err := c.trigger(ctx, a, value); err != nil {
				c.log.Error().Err(err).Uint("alert_id", a.ID).Msg("Failed to mark alert triggered")
				continue
			}
			res.Triggered++
		}
	}

	if res.Triggered > 0 || res.Skipped > 0 {
		c.log.Info().
			Int("checked", res.Checked).
			Int("triggered", res.Triggered).
			Int("skipped", res.Skipped).
			Msg("Alert check completed")
	}
	return res, nil
}

// inputs fetches what the group's conditions need.
func (c *Checker) inputs(ctx context.Context, sym string, group []*models.Alert) (*providers.Quote, *models.Signal) {
	var wantQuote, wantSignal bool
	for _, a := range group {
		if needsQuote(a.Condition) {
			wantQuote = true
		} else {
			wantSignal = true
		}
	}

	var quote *providers.Quote
	if wantQuote {
		q, err := c.quotes.GetQuote(ctx, sym)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", sym).Msg("Quote unavailable for alerts")
		} else {
			quote = q
		}
	}

	var signal *models.Signal
	if wantSignal && c.signals != nil {
		s, err := c.signals.LatestStored(ctx, sym)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			c.log.Warn().Err(err).Str("symbol", sym).Msg("Signal unavailable for alerts")
		}
		if err == nil {
			signal = s
		}
	}
	return quote, signal
}

func (c *Checker) trigger(ctx context.Context, a *models.Alert, value decimal.Decimal) error {
	now := c.now().UTC()
	res := c.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND triggered_at IS NULL", a.ID).
		Updates(map[string]any{
			"is_active":    false,
			"triggered_at": now,
			"last_value":   value,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	a.IsActive = false
	a.TriggeredAt = &now
	a.LastValue = value

	event := Event{
		AlertID:     a.ID,
		UserID:      a.UserID,
		Symbol:      models.NormalizeSymbol(a.Symbol),
		Condition:   a.Condition,
		Threshold:   a.Threshold,
		Value:       value,
		TriggeredAt: now,
	}
	if c.pub != nil {
		c.pub.Publish(event.Symbol, "alert", event)
	}

	c.log.Info().
		Uint("alert_id", a.ID).
		Uint("user_id", a.UserID).
		Str("symbol", event.Symbol).
		Str("condition", a.Condition).
		Str("value", value.String()).
		Msg("Alert triggered")
	return nil
}
