package providers

import (
	"etf_dashboard/logger"
)

// Set is the ordered provider chain for each capability.
type Set struct {
	Quotes    []QuoteProvider
	Histories []HistoryProvider
	Profiles  []ProfileProvider
}

// Keys holds the API keys of the keyed providers.
type Keys struct {
	AlphaVantage string
	FMP          string
}

// Build creates providers in the given order. Unknown names are skipped.
// The justETF scraper is always appended as the last profile source.
func Build(order []string, keys Keys, opts ...Option) *Set {
	log := logger.With("providers")
	set := &Set{}
	seen := map[string]bool{}

	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "yahoo":
			y := NewYahoo(opts...)
			set.Quotes = append(set.Quotes, y)
			set.Histories = append(set.Histories, y)
		case "alphavantage":
			a := NewAlphaVantage(keys.AlphaVantage, opts...)
			set.Quotes = append(set.Quotes, a)
			set.Histories = append(set.Histories, a)
		case "fmp":
			f := NewFMP(keys.FMP, opts...)
			set.Quotes = append(set.Quotes, f)
			set.Histories = append(set.Histories, f)
			set.Profiles = append(set.Profiles, f)
		default:
			log.Warn().Str("provider", name).Msg("Unknown provider in PROVIDER_ORDER, skipping")
		}
	}
	set.Profiles = append(set.Profiles, NewJustETF(opts...))

	for _, q := range set.Quotes {
		log.Info().Str("provider", q.Name()).Bool("enabled", q.Enabled()).Msg("Quote provider registered")
	}
	return set
}

// All returns each distinct provider once, in registration order.
func (s *Set) All() []Provider {
	seen := map[string]bool{}
	var out []Provider
	add := func(p Provider) {
		if !seen[p.Name()] {
			seen[p.Name()] = true
			out = append(out, p)
		}
	}
	for _, p := range s.Quotes {
		add(p)
	}
	for _, p := range s.Histories {
		add(p)
	}
	for _, p := range s.Profiles {
		add(p)
	}
	return out
}
