// Package screener filters the ETF catalog by fund data and by the current
// signal and indicator snapshot of each fund.
package screener

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/analysis"

	"gorm.io/gorm"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Sort fields
const (
	SortSymbol     = "symbol"
	SortTER        = "ter"
	SortConfidence = "confidence"
	SortReturn     = "return_20"
	SortVolatility = "volatility_20"
	SortRSI        = "rsi"
)

// Filter represents screening criteria. Nil pointers are not applied.
type Filter struct {
	Currencies    []string `json:"currencies,omitempty" form:"currency"`
	Domiciles     []string `json:"domiciles,omitempty" form:"domicile"`
	MaxTER        *float64 `json:"max_ter,omitempty" form:"max_ter"`
	SignalType    string   `json:"signal_type,omitempty" form:"signal_type"`
	MinConfidence *float64 `json:"min_confidence,omitempty" form:"min_confidence"`
	MinRSI        *float64 `json:"min_rsi,omitempty" form:"min_rsi"`
	MaxRSI        *float64 `json:"max_rsi,omitempty" form:"max_rsi"`
	AboveSMA50    *bool    `json:"above_sma50,omitempty" form:"above_sma50"`
	AboveSMA200   *bool    `json:"above_sma200,omitempty" form:"above_sma200"`
	GoldenCross   *bool    `json:"golden_cross,omitempty" form:"golden_cross"` // SMA50 above SMA200
	SortBy        string   `json:"sort_by,omitempty" form:"sort_by"`
	SortOrder     string   `json:"sort_order,omitempty" form:"sort_order"`
	Page          int      `json:"page,omitempty" form:"page"`
	Limit         int      `json:"limit,omitempty" form:"limit"`
}

// Result is one matching ETF.
type Result struct {
	ETF             models.ETF           `json:"etf"`
	Signal          *models.Signal       `json:"signal,omitempty"`
	Indicators      *analysis.Indicators `json:"indicators,omitempty"`
	MatchedCriteria []string             `json:"matched_criteria"`
}

// Preset is a named, predefined filter.
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Filter      Filter `json:"filter"`
}

// Screener provides ETF filtering
type Screener struct {
	db  *gorm.DB
	now func() time.Time
}

func NewScreener(db *gorm.DB) *Screener {
	return &Screener{db: db, now: time.Now}
}

// Normalized applies defaults and rejects unsupported values.
func (f Filter) Normalized() (Filter, error) {
	f.Currencies = upperAll(f.Currencies)
	f.Domiciles = upperAll(f.Domiciles)
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	f.SortOrder = strings.ToLower(f.SortOrder)
	if f.SortOrder == "" {
		f.SortOrder = "asc"
	}
	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		return f, apperr.Validation("sort_order must be asc or desc")
	}
	if f.SortBy == "" {
		f.SortBy = SortSymbol
	}
	switch f.SortBy {
	case SortSymbol, SortTER, SortConfidence, SortReturn, SortVolatility, SortRSI:
	default:
		return f, apperr.Validation("unsupported sort_by %q", f.SortBy)
	}
	f.SignalType = strings.ToUpper(f.SignalType)
	if f.SignalType != "" && !models.IsValidSignalType(f.SignalType) {
		return f, apperr.Validation("invalid signal type %q", f.SignalType)
	}
	if f.MinConfidence != nil && (*f.MinConfidence < 0 || *f.MinConfidence > 1) {
		return f, apperr.Validation("min_confidence must be between 0 and 1")
	}
	return f, nil
}

func upperAll(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// needsSignal reports whether any criterion depends on the current signal.
func (f *Filter) needsSignal() bool {
	return f.SignalType != "" || f.MinConfidence != nil || f.MinRSI != nil || f.MaxRSI != nil ||
		f.AboveSMA50 != nil || f.AboveSMA200 != nil || f.GoldenCross != nil
}

// Screen applies f and returns one page of matches plus the total count.
func (s *Screener) Screen(ctx context.Context, f Filter) ([]Result, int64, error) {
	f, err := f.Normalized()
	if err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.ETF{}).Where("is_active = ?", true)
	if len(f.Currencies) > 0 {
		query = query.Where("UPPER(currency) IN ?", f.Currencies)
	}
	if len(f.Domiciles) > 0 {
		query = query.Where("UPPER(domicile) IN ?", f.Domiciles)
	}
	if f.MaxTER != nil {
		query = query.Where("ter <= ?", *f.MaxTER)
	}

	var etfs []models.ETF
	if err := query.Order("symbol").Find(&etfs).Error; err != nil {
		return nil, 0, apperr.Internal("failed to load ETFs", err)
	}

	latest, err := s.currentSignals(ctx, etfs)
	if err != nil {
		return nil, 0, err
	}

	var results []Result
	for _, etf := range etfs {
		r := Result{ETF: etf, MatchedCriteria: []string{}}
		if sig, ok := latest[etf.ID]; ok {
			r.Signal = sig
			r.Indicators = decodeIndicators(sig)
		}
		if f.needsSignal() && r.Signal == nil {
			continue
		}
		if !f.matches(&r) {
			continue
		}
		results = append(results, r)
	}

	sortResults(results, f.SortBy, f.SortOrder)

	total := int64(len(results))
	start := (f.Page - 1) * f.Limit
	if start >= len(results) {
		return []Result{}, total, nil
	}
	end := start + f.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[start:end], total, nil
}

// currentSignals returns the newest unexpired signal per ETF.
func (s *Screener) currentSignals(ctx context.Context, etfs []models.ETF) (map[uint]*models.Signal, error) {
	out := make(map[uint]*models.Signal, len(etfs))
	if len(etfs) == 0 {
		return out, nil
	}
	ids := make([]uint, len(etfs))
	for i, e := range etfs {
		ids[i] = e.ID
	}

	var sigs []models.Signal
	err := s.db.WithContext(ctx).
		Where("etf_id IN ? AND expires_at > ?", ids, s.now().UTC()).
		Order("created_at DESC").Order("id DESC").
		Find(&sigs).Error
	if err != nil {
		return nil, apperr.Internal("failed to load signals", err)
	}
	for i := range sigs {
		if _, seen := out[sigs[i].ETFID]; !seen {
			out[sigs[i].ETFID] = &sigs[i]
		}
	}
	return out, nil
}

func decodeIndicators(sig *models.Signal) *analysis.Indicators {
	if len(sig.Indicators) == 0 {
		return nil
	}
	var ind analysis.Indicators
	if err := json.Unmarshal(sig.Indicators, &ind); err != nil {
		return nil
	}
	return &ind
}

// matches applies the signal and indicator criteria and records the ones
// that matched.
func (f *Filter) matches(r *Result) bool {
	if f.MaxTER != nil {
		r.MatchedCriteria = append(r.MatchedCriteria, "max_ter")
	}
	if f.SignalType != "" {
		if r.Signal.Type != f.SignalType {
			return false
		}
		r.MatchedCriteria = append(r.MatchedCriteria, "signal_type")
	}
	if f.MinConfidence != nil {
		if r.Signal.Confidence.InexactFloat64() < *f.MinConfidence {
			return false
		}
		r.MatchedCriteria = append(r.MatchedCriteria, "min_confidence")
	}

	ind := r.Indicators
	if f.MinRSI != nil || f.MaxRSI != nil {
		if ind == nil || ind.RSI14 == nil {
			return false
		}
		if f.MinRSI != nil && *ind.RSI14 < *f.MinRSI {
			return false
		}
		if f.MaxRSI != nil && *ind.RSI14 > *f.MaxRSI {
			return false
		}
		r.MatchedCriteria = append(r.MatchedCriteria, "rsi")
	}
	if f.AboveSMA50 != nil {
		if ind == nil || ind.SMA50 == nil || (ind.Close > *ind.SMA50) != *f.AboveSMA50 {
			return false
		}
		r.MatchedCriteria = append(r.MatchedCriteria, "above_sma50")
	}
	if f.AboveSMA200 != nil {
		if ind == nil || ind.SMA200 == nil || (ind.Close > *ind.SMA200) != *f.AboveSMA200 {
			return false
		}
		r.MatchedCriteria = append(r.MatchedCriteria, "above_sma200")
	}
	if f.GoldenCross != nil {
		if ind == nil || ind.SMA50 == nil || ind.SMA200 == nil || (*ind.SMA50 > *ind.SMA200) != *f.GoldenCross {
			return false
		}
		r.MatchedCriteria = append(r.MatchedCriteria, "golden_cross")
	}
	return true
}

// sortKey returns the value to sort by and whether the result has one.
func sortKey(r *Result, sortBy string) (float64, bool) {
	switch sortBy {
	case SortTER:
		return r.ETF.TER.InexactFloat64(), true
	case SortConfidence:
		if r.Signal == nil {
			return 0, false
		}
		return r.Signal.Confidence.InexactFloat64(), true
	}
	if r.Indicators == nil {
		return 0, false
	}
	var v *float64
	switch sortBy {
	case SortReturn:
		v = r.Indicators.Return20
	case SortVolatility:
		v = r.Indicators.Volatility20
	case SortRSI:
		v = r.Indicators.RSI14
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// sortResults orders by the requested field. Results missing the field
// always sort last; ties fall back to the symbol.
func sortResults(results []Result, sortBy, sortOrder string) {
	desc := sortOrder == "desc"
	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if sortBy == SortSymbol {
			if desc {
				return a.ETF.Symbol > b.ETF.Symbol
			}
			return a.ETF.Symbol < b.ETF.Symbol
		}

		va, okA := sortKey(a, sortBy)
		vb, okB := sortKey(b, sortBy)
		switch {
		case okA != okB:
			return okA
		case !okA || va == vb:
			return a.ETF.Symbol < b.ETF.Symbol
		case desc:
			return va > vb
		default:
			return va < vb
		}
	})
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

// Presets returns predefined screens.
func Presets() []Preset {
	return []Preset{
		{
			ID:          "oversold",
			Name:        "Oversold (RSI < 30)",
			Description: "Funds with RSI below 30",
			Filter:      Filter{MaxRSI: floatPtr(30), SortBy: SortRSI, SortOrder: "asc"},
		},
		{
			ID:          "overbought",
			Name:        "Overbought (RSI > 70)",
			Description: "Funds with RSI above 70",
			Filter:      Filter{MinRSI: floatPtr(70), SortBy: SortRSI, SortOrder: "desc"},
		},
		{
			ID:          "confident_buy",
			Name:        "Confident Buy",
			Description: "Current BUY signals with confidence of at least 0.7",
			Filter:      Filter{SignalType: models.SignalBuy, MinConfidence: floatPtr(0.7), SortBy: SortConfidence, SortOrder: "desc"},
		},
		{
			ID:          "bullish_trend",
			Name:        "Bullish Trend",
			Description: "Price above SMA50 and SMA200",
			Filter:      Filter{AboveSMA50: boolPtr(true), AboveSMA200: boolPtr(true), SortBy: SortReturn, SortOrder: "desc"},
		},
		{
			ID:          "golden_cross",
			Name:        "Golden Cross",
			Description: "SMA50 above SMA200",
			Filter:      Filter{GoldenCross: boolPtr(true)},
		},
		{
			ID:          "low_cost",
			Name:        "Low Cost",
			Description: "TER of 0.20% or less",
			Filter:      Filter{MaxTER: floatPtr(0.20), SortBy: SortTER, SortOrder: "asc"},
		},
	}
}
