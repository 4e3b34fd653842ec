package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/providers"
	"etf_dashboard/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeProvider struct {
	name     string
	disabled bool
	price    float64
	bars     []providers.Bar
	profile  *providers.Profile
	err      error
	hold     chan struct{}

	calls   atomic.Int32
	mu      sync.Mutex
	symbols []string
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Enabled() bool { return !f.disabled }

func (f *fakeProvider) record(ctx context.Context, symbol string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.symbols = append(f.symbols, symbol)
	f.mu.Unlock()
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeProvider) Quote(ctx context.Context, symbol string) (*providers.Quote, error) {
	if err := f.record(ctx, symbol); err != nil {
		return nil, err
	}
	return &providers.Quote{Symbol: symbol, Price: f.price, PreviousClose: f.price - 1}, nil
}

func (f *fakeProvider) History(ctx context.Context, symbol string, _, _ time.Time) ([]providers.Bar, error) {
	if err := f.record(ctx, symbol); err != nil {
		return nil, err
	}
	out := make([]providers.Bar, len(f.bars))
	copy(out, f.bars)
	return out, nil
}

func (f *fakeProvider) Profile(ctx context.Context, symbol string) (*providers.Profile, error) {
	if err := f.record(ctx, symbol); err != nil {
		return nil, err
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeProvider) lastSymbol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.symbols) == 0 {
		return ""
	}
	return f.symbols[len(f.symbols)-1]
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func newService(t *testing.T, db *gorm.DB, fakes ...*fakeProvider) *Service {
	t.Helper()
	set := &providers.Set{}
	for _, f := range fakes {
		set.Quotes = append(set.Quotes, f)
		set.Histories = append(set.Histories, f)
		if f.profile != nil {
			set.Profiles = append(set.Profiles, f)
		}
	}
	s := NewService(db, cache.NewMemoryCache(), set, DefaultConfig())
	s.now = func() time.Time { return now }
	return s
}

func TestGetQuoteFallsBackInOrder(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedETF(t, db, "SPY", "US78462F1030")

	first := &fakeProvider{name: "yahoo", err: providers.ErrRateLimited}
	disabled := &fakeProvider{name: "alphavantage", disabled: true, price: 1}
	second := &fakeProvider{name: "fmp", price: 501}
	s := newService(t, db, first, disabled, second)

	q, err := s.GetQuote(context.Background(), "spy")
	require.NoError(t, err)
	assert.Equal(t, "SPY", q.Symbol)
	assert.Equal(t, 501.0, q.Price)
	assert.Equal(t, "fmp", q.Source)
	assert.False(t, q.Stale)
	assert.Equal(t, int32(0), disabled.calls.Load())

	// served from cache
	_, err = s.GetQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(1), second.calls.Load())

	status := s.ProviderStatus()
	require.Len(t, status, 3)
	assert.Equal(t, "alphavantage", status[0].Name)
	assert.False(t, status[0].Enabled)
	assert.Equal(t, int64(1), status[2].Failures)
	assert.Contains(t, status[2].LastError, "rate limited")
}

func TestGetQuoteServesStoredCloseWhenAllFail(t *testing.T) {
	db := testutil.NewDB(t)
	etf := testutil.SeedETF(t, db, "SPY", "US78462F1030")
	for i, c := range []int64{98, 100} {
		require.NoError(t, db.Create(&models.MarketData{
			ETFID: etf.ID, Date: day(i - 2), Close: decimal.NewFromInt(c), Source: "yahoo",
		}).Error)
	}

	s := newService(t, db, &fakeProvider{name: "yahoo", err: errors.New("boom")})
	q, err := s.GetQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.True(t, q.Stale)
	assert.Equal(t, SourceDatabase, q.Source)
	assert.Equal(t, 100.0, q.Price)
	assert.Equal(t, 98.0, q.PreviousClose)
	assert.InDelta(t, 2.0408, q.ChangePercent, 1e-3)
}

func TestGetQuoteUpstreamErrorJoinsCauses(t *testing.T) {
	db := testutil.NewDB(t)
	s := newService(t, db,
		&fakeProvider{name: "yahoo", err: providers.ErrNotFound},
		&fakeProvider{name: "fmp", err: providers.ErrRateLimited},
	)

	_, err := s.GetQuote(context.Background(), "XYZ")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.ErrorIs(t, err, providers.ErrNotFound)
	assert.ErrorIs(t, err, providers.ErrRateLimited)
}

func TestGetQuoteWithoutEnabledProviders(t *testing.T) {
	s := newService(t, testutil.NewDB(t), &fakeProvider{name: "fmp", disabled: true})
	_, err := s.GetQuote(context.Background(), "SPY")
	assert.ErrorIs(t, err, providers.ErrDisabled)
}

func TestGetQuoteRejectsBadSymbol(t *testing.T) {
	s := newService(t, testutil.NewDB(t))
	_, err := s.GetQuote(context.Background(), "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestProviderSymbolOverride(t *testing.T) {
	db := testutil.NewDB(t)
	etf := models.ETF{Symbol: "EUNL.DE", ISIN: "IE00B4L5Y983", IsActive: true,
		ProviderSymbols: datatypes.JSON(`{"fmp":"EUNL.XETRA"}`)}
	require.NoError(t, db.Create(&etf).Error)

	fmp := &fakeProvider{name: "fmp", price: 90}
	s := newService(t, db, fmp)
	_, err := s.GetQuote(context.Background(), "EUNL.DE")
	require.NoError(t, err)
	assert.Equal(t, "EUNL.XETRA", fmp.lastSymbol())

	assert.Equal(t, "IE00B4L5Y983", providerSymbol(&etf, "justetf", "EUNL.DE"))
	assert.Equal(t, "", providerSymbol(nil, "justetf", "EUNL.DE"))
	assert.Equal(t, "EUNL.DE", providerSymbol(&etf, "yahoo", "EUNL.DE"))
}

func TestGetQuoteCoalescesConcurrentRequests(t *testing.T) {
	slow := &fakeProvider{name: "yahoo", price: 10, hold: make(chan struct{})}
	s := newService(t, testutil.NewDB(t), slow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := s.GetQuote(context.Background(), "SPY")
			assert.NoError(t, err)
			assert.Equal(t, 10.0, q.Price)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(slow.hold)
	wg.Wait()

	assert.Equal(t, int32(1), slow.calls.Load())
}

func TestCancelledCallerDoesNotFailCoalescedCallers(t *testing.T) {
	slow := &fakeProvider{name: "yahoo", price: 10, hold: make(chan struct{})}
	s := newService(t, testutil.NewDB(t), slow)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.GetQuote(firstCtx, "SPY")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		q   *providers.Quote
		err error
	}
	second := make(chan result, 1)
	go func() {
		q, err := s.GetQuote(context.Background(), "SPY")
		second <- result{q, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(slow.hold)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, 10.0, res.q.Price)
	assert.Equal(t, int32(1), slow.calls.Load())
}

func TestGetHistoryValidatesDays(t *testing.T) {
	s := newService(t, testutil.NewDB(t))
	for _, days := range []int{0, -1, MaxHistoryDays + 1} {
		_, err := s.GetHistory(context.Background(), "SPY", days)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "days=%d", days)
	}
}

func TestGetHistoryPersistsAndFallsBack(t *testing.T) {
	db := testutil.NewDB(t)
	etf := testutil.SeedETF(t, db, "SPY", "US78462F1030")

	bars := []providers.Bar{
		{Date: day(-2), Open: 1, High: 2, Low: 1, Close: 1.5, AdjClose: 1.5, Volume: 10},
		{Date: day(-1), Open: 1.5, High: 2.5, Low: 1.4, Close: 2, AdjClose: 2, Volume: 20},
	}
	good := &fakeProvider{name: "yahoo", bars: bars}
	s := newService(t, db, good)

	got, err := s.GetHistory(context.Background(), "SPY", 30)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// refreshing the same window upserts instead of duplicating
	_, err = s.RefreshHistory(context.Background(), "SPY", 30)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&models.MarketData{}).Where("etf_id = ?", etf.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	good.err = errors.New("down")
	stored, err := s.RefreshHistory(context.Background(), "SPY", 30)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 2.0, stored[1].Close)
	assert.True(t, stored[0].Date.Before(stored[1].Date))
}

func TestGetHistoryUnknownSymbolIsNotPersisted(t *testing.T) {
	db := testutil.NewDB(t)
	s := newService(t, db, &fakeProvider{name: "yahoo", bars: []providers.Bar{{Date: day(-1), Close: 3}}})

	got, err := s.GetHistory(context.Background(), "NEW", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	var count int64
	require.NoError(t, db.Model(&models.MarketData{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPurgeBefore(t *testing.T) {
	db := testutil.NewDB(t)
	etf := testutil.SeedETF(t, db, "SPY", "")
	for _, d := range []time.Time{day(-4000), day(-1)} {
		require.NoError(t, db.Create(&models.MarketData{ETFID: etf.ID, Date: d, Close: decimal.NewFromInt(1)}).Error)
	}

	s := newService(t, db)
	n, err := s.PurgeBefore(context.Background(), now.AddDate(-10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetProfileMergesIntoCatalogRow(t *testing.T) {
	db := testutil.NewDB(t)
	etf := models.ETF{Symbol: "VWCE.DE", Name: "Catalog name", ISIN: "IE00BK5BQT80", IsActive: true}
	require.NoError(t, db.Create(&etf).Error)

	scraper := &fakeProvider{name: "justetf", profile: &providers.Profile{
		Name: "Scraped name", TER: 0.19, Domicile: "Ireland", FundSize: 1e9, Currency: "USD", Source: "justetf",
	}}
	s := newService(t, db, scraper)

	p, err := s.GetProfile(context.Background(), "vwce.de")
	require.NoError(t, err)
	assert.Equal(t, "Catalog name", p.Name)
	assert.Equal(t, 0.19, p.TER)
	assert.Equal(t, "justetf", p.Source)
	assert.Equal(t, "IE00BK5BQT80", scraper.lastSymbol())

	var stored models.ETF
	require.NoError(t, db.First(&stored, etf.ID).Error)
	assert.Equal(t, "Catalog name", stored.Name)
	assert.Equal(t, "0.19", stored.TER.String())
	assert.Equal(t, "Ireland", stored.Domicile)
}

func TestGetProfileFallsBackToCatalog(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedETF(t, db, "SPY", "US78462F1030")
	s := newService(t, db, &fakeProvider{name: "fmp", err: errors.New("down"), profile: &providers.Profile{}})

	p, err := s.GetProfile(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, p.Source)
	assert.Equal(t, "US78462F1030", p.ISIN)

	_, err = s.GetProfile(context.Background(), "UNKNOWN")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestResolveETF(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedETF(t, db, "SPY", "")
	s := newService(t, db)

	etf, err := s.ResolveETF(context.Background(), " spy ")
	require.NoError(t, err)
	assert.Equal(t, "SPY", etf.Symbol)

	_, err = s.ResolveETF(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	etfs, err := s.ActiveETFs(context.Background())
	require.NoError(t, err)
	assert.Len(t, etfs, 1)
}
