// Package providers implements the external market data sources: Yahoo
// Finance, Alpha Vantage, Financial Modeling Prep and the justETF profile
// scraper. Each source implements one or more of the provider interfaces and
// validates what it returns, so callers can fall back on any error.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNotFound    = errors.New("symbol not found")
	ErrRateLimited = errors.New("provider rate limited")
	ErrInvalidData = errors.New("invalid provider data")
	ErrDisabled    = errors.New("provider disabled")
)

// Quote is a latest price snapshot.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Currency      string    `json:"currency,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Stale         bool      `json:"stale"`
}

// Bar is one daily OHLCV candle.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// Profile is static fund information.
type Profile struct {
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name,omitempty"`
	ISIN     string  `json:"isin,omitempty"`
	TER      float64 `json:"ter,omitempty"` // percent per year
	Currency string  `json:"currency,omitempty"`
	Domicile string  `json:"domicile,omitempty"`
	FundSize float64 `json:"fund_size,omitempty"`
	Source   string  `json:"source"`
}

type Provider interface {
	Name() string
	Enabled() bool
}

type QuoteProvider interface {
	Provider
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

type HistoryProvider interface {
	Provider
	History(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
}

type ProfileProvider interface {
	Provider
	Profile(ctx context.Context, symbol string) (*Profile, error)
}

// ValidateQuote rejects quotes without a positive price and fills in the
// change fields when the source only reports a previous close.
func ValidateQuote(q *Quote) error {
	if q == nil || q.Price <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidData)
	}
	if q.Change == 0 && q.PreviousClose > 0 {
		q.Change = q.Price - q.PreviousClose
	}
	if q.ChangePercent == 0 && q.PreviousClose > 0 {
		q.ChangePercent = q.Change / q.PreviousClose * 100
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	return nil
}

// NormalizeBars sorts bars ascending, drops duplicate dates and rejects
// candles with a non-positive close.
func NormalizeBars(bars []Bar) ([]Bar, error) {
	if len(bars) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	out := bars[:0]
	for i, b := range bars {
		if b.Close <= 0 {
			return nil, fmt.Errorf("%w: non-positive close on %s", ErrInvalidData, b.Date.Format("2006-01-02"))
		}
		if b.AdjClose <= 0 {
			b.AdjClose = b.Close
		}
		if i > 0 && b.Date.Equal(out[len(out)-1].Date) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// FilterRange keeps the bars whose date falls inside [from, to].
func FilterRange(bars []Bar, from, to time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !from.IsZero() && b.Date.Before(truncateDay(from)) {
			continue
		}
		if !to.IsZero() && b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
