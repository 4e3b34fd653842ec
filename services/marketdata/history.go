package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/providers"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

func historyKey(sym string, days int) string { return fmt.Sprintf("history:%s:%d", sym, days) }

// GetHistory returns up to days of daily bars, oldest first. Fetched bars
// are persisted; if every provider fails the stored window is returned.
func (s *Service) GetHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error) {
	sym, err := validSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if days < 1 || days > MaxHistoryDays {
		return nil, apperr.Validation("days must be between 1 and %d", MaxHistoryDays)
	}

	key := historyKey(sym, days)
	var cached []providers.Bar
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Str("symbol", sym).Msg("History cache read failed")
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		return s.fetchHistory(ctx, sym, days)
	})
	if err != nil {
		return nil, err
	}
	bars := v.([]providers.Bar)
	out := make([]providers.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// RefreshHistory bypasses the cache read; the scheduler uses it to keep
// stored history current.
func (s *Service) RefreshHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error) {
	sym, err := validSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if days < 1 || days > MaxHistoryDays {
		return nil, apperr.Validation("days must be between 1 and %d", MaxHistoryDays)
	}
	return s.fetchHistory(ctx, sym, days)
}

func (s *Service) fetchHistory(ctx context.Context, sym string, days int) ([]providers.Bar, error) {
	etf, err := s.lookupETF(ctx, sym)
	if err != nil {
		return nil, err
	}

	to := s.now().UTC()
	from := to.AddDate(0, 0, -days)

	var errs []error
	for _, p := range s.providers.Histories {
		if !p.Enabled() {
			continue
		}
		bars, err := p.History(ctx, providerSymbol(etf, p.Name(), sym), from, to)
		if err != nil {
			s.recordFailure(p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			s.log.Debug().Err(err).Str("provider", p.Name()).Str("symbol", sym).Msg("History provider failed, trying next")
			continue
		}
		s.recordSuccess(p.Name())

		if etf != nil {
			if err := s.saveBars(ctx, etf.ID, p.Name(), bars); err != nil {
				s.log.Error().Err(err).Str("symbol", sym).Msg("Failed to store history")
			}
		}
		if err := s.cache.Set(ctx, historyKey(sym, days), bars, s.cfg.HistoryTTL); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("History cache write failed")
		}
		return bars, nil
	}

	if etf != nil {
		stored, err := s.StoredBars(ctx, etf.ID, from)
		if err == nil && len(stored) > 0 {
			s.log.Warn().Str("symbol", sym).Int("bars", len(stored)).Errs("errors", errs).Msg("All history providers failed, serving stored bars")
			return stored, nil
		}
	}
	return nil, upstreamError("history", sym, errs)
}

// saveBars upserts bars on (etf_id, date).
func (s *Service) saveBars(ctx context.Context, etfID uint, source string, bars []providers.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]models.MarketData, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, models.MarketData{
			ETFID:    etfID,
			Date:     b.Date.UTC(),
			Open:     decimal.NewFromFloat(b.Open),
			High:     decimal.NewFromFloat(b.High),
			Low:      decimal.NewFromFloat(b.Low),
			Close:    decimal.NewFromFloat(b.Close),
			AdjClose: decimal.NewFromFloat(b.AdjClose),
			Volume:   b.Volume,
			Source:   source,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "etf_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "adj_close", "volume", "source"}),
	}).CreateInBatches(&rows, 500).Error
}

// StoredBars reads persisted bars from a date on, oldest first.
func (s *Service) StoredBars(ctx context.Context, etfID uint, from time.Time) ([]providers.Bar, error) {
	var rows []models.MarketData
	err := s.db.WithContext(ctx).
		Where("etf_id = ? AND date >= ?", etfID, from.UTC()).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	bars := make([]providers.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, providers.Bar{
			Date:     r.Date.UTC(),
			Open:     r.Open.InexactFloat64(),
			High:     r.High.InexactFloat64(),
			Low:      r.Low.InexactFloat64(),
			Close:    r.Close.InexactFloat64(),
			AdjClose: r.AdjClose.InexactFloat64(),
			Volume:   r.Volume,
		})
	}
	return bars, nil
}

// PurgeBefore deletes stored bars older than cutoff.
func (s *Service) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("date < ?", cutoff.UTC()).Delete(&models.MarketData{})
	return res.RowsAffected, res.Error
}
