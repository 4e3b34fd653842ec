package marketdata

import (
	"context"
	"errors"
	"fmt"

	"etf_dashboard/models"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/providers"
)

func quoteKey(sym string) string { return "quote:" + sym }

// GetQuote returns the latest price. When every provider fails the last
// stored close is returned with Stale set.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*providers.Quote, error) {
	sym, err := validSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var cached providers.Quote
	if err := s.cache.Get(ctx, quoteKey(sym), &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Str("symbol", sym).Msg("Quote cache read failed")
	}

	v, err := s.shared(ctx, quoteKey(sym), func(ctx context.Context) (any, error) {
		return s.fetchQuote(ctx, sym)
	})
	if err != nil {
		return nil, err
	}
	q := *v.(*providers.Quote)
	return &q, nil
}

// RefreshQuote skips the cache read and stores the fresh quote.
func (s *Service) RefreshQuote(ctx context.Context, symbol string) (*providers.Quote, error) {
	sym, err := validSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return s.fetchQuote(ctx, sym)
}

func (s *Service) fetchQuote(ctx context.Context, sym string) (*providers.Quote, error) {
	etf, err := s.lookupETF(ctx, sym)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, p := range s.providers.Quotes {
		if !p.Enabled() {
			continue
		}
		q, err := p.Quote(ctx, providerSymbol(etf, p.Name(), sym))
		if err != nil {
			s.recordFailure(p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			s.log.Debug().Err(err).Str("provider", p.Name()).Str("symbol", sym).Msg("Quote provider failed, trying next")
			continue
		}
		s.recordSuccess(p.Name())

		q.Symbol = sym
		q.Source = p.Name()
		q.Stale = false
		if err := s.cache.Set(ctx, quoteKey(sym), q, s.cfg.QuoteTTL); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("Quote cache write failed")
		}
		return q, nil
	}

	if etf != nil {
		if q, err := s.storedQuote(ctx, etf); err == nil {
			s.log.Warn().Str("symbol", sym).Errs("errors", errs).Msg("All quote providers failed, serving stored close")
			return q, nil
		}
	}
	s.log.Error().Str("symbol", sym).Errs("errors", errs).Msg("All quote providers failed")
	return nil, upstreamError("quote", sym, errs)
}

// storedQuote builds a stale quote from the two most recent stored bars.
func (s *Service) storedQuote(ctx context.Context, etf *models.ETF) (*providers.Quote, error) {
	var rows []models.MarketData
	err := s.db.WithContext(ctx).
		Where("etf_id = ?", etf.ID).
		Order("date DESC").
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, providers.ErrNotFound
	}

	last := rows[0]
	q := &providers.Quote{
		Symbol:    etf.Symbol,
		Price:     last.Close.InexactFloat64(),
		Volume:    last.Volume,
		Currency:  etf.Currency,
		Timestamp: last.Date,
		Source:    SourceDatabase,
		Stale:     true,
	}
	if len(rows) > 1 {
		q.PreviousClose = rows[1].Close.InexactFloat64()
	}
	if err := providers.ValidateQuote(q); err != nil {
		return nil, err
	}
	return q, nil
}
