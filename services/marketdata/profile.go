package marketdata

import (
	"context"
	"errors"
	"fmt"

	"etf_dashboard/models"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/providers"

	"github.com/shopspring/decimal"
)

func profileKey(sym string) string { return "profile:" + sym }

// GetProfile returns fund details. Provider results fill the blanks of the
// catalog row and are written back to it; catalog values win.
func (s *Service) GetProfile(ctx context.Context, symbol string) (*providers.Profile, error) {
	sym, err := validSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var cached providers.Profile
	if err := s.cache.Get(ctx, profileKey(sym), &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Str("symbol", sym).Msg("Profile cache read failed")
	}

	v, err := s.shared(ctx, profileKey(sym), func(ctx context.Context) (any, error) {
		return s.fetchProfile(ctx, sym)
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*providers.Profile)
	return &p, nil
}

func (s *Service) fetchProfile(ctx context.Context, sym string) (*providers.Profile, error) {
	etf, err := s.lookupETF(ctx, sym)
	if err != nil {
		return nil, err
	}

	merged := &providers.Profile{Symbol: sym}
	if etf != nil {
		merged = profileFromETF(etf)
	}

	var errs []error
	found := false
	for _, p := range s.providers.Profiles {
		if !p.Enabled() || complete(merged) {
			continue
		}
		key := providerSymbol(etf, p.Name(), sym)
		if key == "" {
			continue
		}
		prof, err := p.Profile(ctx, key)
		if err != nil {
			s.recordFailure(p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		s.recordSuccess(p.Name())
		found = true
		mergeProfile(merged, prof)
	}

	if !found && etf == nil {
		return nil, upstreamError("profile", sym, errs)
	}
	if etf != nil {
		if found {
			s.applyProfile(ctx, etf, merged)
		} else {
			merged.Source = SourceDatabase
		}
	}

	if err := s.cache.Set(ctx, profileKey(sym), merged, s.cfg.ProfileTTL); err != nil {
		s.log.Warn().Err(err).Str("symbol", sym).Msg("Profile cache write failed")
	}
	return merged, nil
}

func profileFromETF(etf *models.ETF) *providers.Profile {
	return &providers.Profile{
		Symbol:   etf.Symbol,
		Name:     etf.Name,
		ISIN:     etf.ISIN,
		TER:      etf.TER.InexactFloat64(),
		Currency: etf.Currency,
		Domicile: etf.Domicile,
		FundSize: etf.FundSize.InexactFloat64(),
	}
}

func complete(p *providers.Profile) bool {
	return p.Name != "" && p.ISIN != "" && p.TER > 0 && p.Domicile != "" && p.FundSize > 0
}

// mergeProfile copies fields that dst lacks from src.
func mergeProfile(dst, src *providers.Profile) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.ISIN == "" && src.ISIN != "" && models.ValidateISIN(src.ISIN) == nil {
		dst.ISIN = src.ISIN
	}
	if dst.TER == 0 {
		dst.TER = src.TER
	}
	if dst.Currency == "" {
		dst.Currency = src.Currency
	}
	if dst.Domicile == "" {
		dst.Domicile = src.Domicile
	}
	if dst.FundSize == 0 {
		dst.FundSize = src.FundSize
	}
	if dst.Source == "" {
		dst.Source = src.Source
	}
}

func (s *Service) applyProfile(ctx context.Context, etf *models.ETF, p *providers.Profile) {
	updates := map[string]any{}
	if etf.Name == "" && p.Name != "" {
		updates["name"] = p.Name
	}
	if etf.ISIN == "" && p.ISIN != "" {
		updates["isin"] = p.ISIN
	}
	if etf.TER.IsZero() && p.TER > 0 {
		updates["ter"] = decimal.NewFromFloat(p.TER)
	}
	if etf.Currency == "" && p.Currency != "" {
		updates["currency"] = p.Currency
	}
	if etf.Domicile == "" && p.Domicile != "" {
		updates["domicile"] = p.Domicile
	}
	if etf.FundSize.IsZero() && p.FundSize > 0 {
		updates["fund_size"] = decimal.NewFromFloat(p.FundSize)
	}
	if len(updates) == 0 {
		return
	}
	if err := s.db.WithContext(ctx).Model(etf).Updates(updates).Error; err != nil {
		s.log.Error().Err(err).Str("symbol", etf.Symbol).Msg("Failed to store profile fields")
	}
}
