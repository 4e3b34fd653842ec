package screener

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/analysis"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/marketdata"
	"etf_dashboard/services/providers"
	"etf_dashboard/services/signals"
	"etf_dashboard/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func seedFund(t *testing.T, db *gorm.DB, symbol, currency string, ter float64) models.ETF {
	t.Helper()
	etf := testutil.SeedETF(t, db, symbol, "")
	etf.Currency = currency
	etf.TER = decimal.NewFromFloat(ter)
	require.NoError(t, db.Save(&etf).Error)
	return etf
}

func seedSignal(t *testing.T, db *gorm.DB, etf models.ETF, typ string, conf float64, ind analysis.Indicators, created time.Time) {
	t.Helper()
	raw, err := json.Marshal(ind)
	require.NoError(t, err)
	sig := models.Signal{
		ETFID:      etf.ID,
		Symbol:     etf.Symbol,
		Type:       typ,
		Confidence: decimal.NewFromFloat(conf),
		Indicators: raw,
		CreatedAt:  created,
		ExpiresAt:  created.Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(&sig).Error)
}

func f(v float64) *float64 { return &v }

func newTestScreener(t *testing.T) (*Screener, *gorm.DB) {
	db := testutil.NewDB(t)
	s := NewScreener(db)
	s.now = func() time.Time { return now }
	return s, db
}

func symbols(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ETF.Symbol
	}
	return out
}

func TestScreenFiltersByFundData(t *testing.T) {
	s, db := newTestScreener(t)
	seedFund(t, db, "VWCE.DE", "EUR", 0.22)
	seedFund(t, db, "CSPX.L", "USD", 0.07)
	seedFund(t, db, "SPY", "USD", 0.0945)

	results, total, err := s.Screen(context.Background(), Filter{Currencies: []string{"usd"}, MaxTER: f(0.08)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, []string{"CSPX.L"}, symbols(results))
	assert.Contains(t, results[0].MatchedCriteria, "max_ter")
}

func TestScreenUsesLatestUnexpiredSignal(t *testing.T) {
	s, db := newTestScreener(t)
	etf := seedFund(t, db, "SPY", "USD", 0.09)

	seedSignal(t, db, etf, models.SignalSell, 0.9, analysis.Indicators{RSI14: f(75)}, now.Add(-2*time.Hour))
	seedSignal(t, db, etf, models.SignalBuy, 0.8, analysis.Indicators{RSI14: f(28)}, now.Add(-time.Hour))
	// expired
	seedSignal(t, db, etf, models.SignalHold, 0.5, analysis.Indicators{}, now.Add(-48*time.Hour))

	results, _, err := s.Screen(context.Background(), Filter{SignalType: "buy"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SignalBuy, results[0].Signal.Type)
	require.NotNil(t, results[0].Indicators)
	assert.InDelta(t, 28, *results[0].Indicators.RSI14, 1e-9)

	results, _, err = s.Screen(context.Background(), Filter{SignalType: models.SignalSell})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScreenIndicatorCriteria(t *testing.T) {
	s, db := newTestScreener(t)
	a := seedFund(t, db, "AAA", "USD", 0.1)
	b := seedFund(t, db, "BBB", "USD", 0.1)
	seedFund(t, db, "CCC", "USD", 0.1) // no signal

	seedSignal(t, db, a, models.SignalBuy, 0.8, analysis.Indicators{Close: 110, SMA50: f(105), SMA200: f(100), RSI14: f(25)}, now.Add(-time.Hour))
	seedSignal(t, db, b, models.SignalSell, 0.6, analysis.Indicators{Close: 90, SMA50: f(95), SMA200: f(100), RSI14: f(72)}, now.Add(-time.Hour))

	results, _, err := s.Screen(context.Background(), Filter{MaxRSI: f(30)})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, symbols(results))

	results, _, err = s.Screen(context.Background(), Filter{GoldenCross: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB"}, symbols(results))

	results, _, err = s.Screen(context.Background(), Filter{AboveSMA50: boolPtr(true), AboveSMA200: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, symbols(results))
	assert.ElementsMatch(t, []string{"above_sma50", "above_sma200"}, results[0].MatchedCriteria)

	results, _, err = s.Screen(context.Background(), Filter{MinConfidence: f(0.7)})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, symbols(results))
}

func TestScreenSortAndPaginate(t *testing.T) {
	s, db := newTestScreener(t)
	seedFund(t, db, "AAA", "USD", 0.30)
	seedFund(t, db, "BBB", "USD", 0.10)
	seedFund(t, db, "CCC", "USD", 0.20)

	results, total, err := s.Screen(context.Background(), Filter{SortBy: SortTER, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []string{"BBB", "CCC"}, symbols(results))

	results, _, err = s.Screen(context.Background(), Filter{SortBy: SortTER, Limit: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, symbols(results))

	results, _, err = s.Screen(context.Background(), Filter{SortBy: SortSymbol, SortOrder: "desc", Page: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSortMissingValuesLast(t *testing.T) {
	results := []Result{
		{ETF: models.ETF{Symbol: "NONE"}},
		{ETF: models.ETF{Symbol: "LOW"}, Indicators: &analysis.Indicators{Return20: f(-0.02)}},
		{ETF: models.ETF{Symbol: "HIGH"}, Indicators: &analysis.Indicators{Return20: f(0.05)}},
	}
	sortResults(results, SortReturn, "desc")
	assert.Equal(t, []string{"HIGH", "LOW", "NONE"}, symbols(results))

	sortResults(results, SortReturn, "asc")
	assert.Equal(t, []string{"LOW", "HIGH", "NONE"}, symbols(results))
}

func TestScreenRejectsInvalidFilter(t *testing.T) {
	s, _ := newTestScreener(t)

	for _, flt := range []Filter{
		{SortBy: "name"},
		{SortOrder: "up"},
		{SignalType: "STRONG"},
		{MinConfidence: f(1.5)},
	} {
		_, _, err := s.Screen(context.Background(), flt)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%+v", flt)
	}
}

func TestPresetsAreValid(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range Presets() {
		assert.False(t, seen[p.ID], "duplicate preset %s", p.ID)
		seen[p.ID] = true
		_, err := p.Filter.Normalized()
		assert.NoError(t, err, p.ID)
	}
	assert.True(t, seen["oversold"])
	assert.True(t, seen["low_cost"])
}

// weekdayHistory returns one bar per weekday in the requested window on a
// steady uptrend.
type weekdayHistory struct{}

func (weekdayHistory) Name() string  { return "weekdays" }
func (weekdayHistory) Enabled() bool { return true }

func (weekdayHistory) History(_ context.Context, _ string, from, to time.Time) ([]providers.Bar, error) {
	var bars []providers.Bar
	i := 0
	for day := from.Truncate(24 * time.Hour); !day.After(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		c := 100 + 0.2*float64(i) + 2*math.Sin(float64(i)/3)
		bars = append(bars, providers.Bar{Date: day, Open: c, High: c + 1, Low: c - 1, Close: c, AdjClose: c, Volume: 1000})
		i++
	}
	return bars, nil
}

func TestGeneratedSignalsFeedTrendScreens(t *testing.T) {
	db := testutil.NewDB(t)
	seedFund(t, db, "SPY", "USD", 0.09)

	set := &providers.Set{Histories: []providers.HistoryProvider{weekdayHistory{}}}
	market := marketdata.NewService(db, cache.NewMemoryCache(), set, marketdata.DefaultConfig())
	sig, err := signals.NewSignalService(db, market, nil).GenerateForSymbol(context.Background(), "SPY")
	require.NoError(t, err)

	var ind analysis.Indicators
	require.NoError(t, json.Unmarshal(sig.Indicators, &ind))
	assert.Equal(t, signals.WindowBars, ind.Bars)
	require.NotNil(t, ind.SMA200)
	require.NotNil(t, ind.SMA50)

	s := NewScreener(db)
	for _, p := range Presets() {
		if p.ID != "golden_cross" && p.ID != "bullish_trend" {
			continue
		}
		results, total, err := s.Screen(context.Background(), p.Filter)
		require.NoError(t, err, p.ID)
		assert.Equal(t, int64(1), total, p.ID)
		assert.Equal(t, []string{"SPY"}, symbols(results), p.ID)
	}
}
