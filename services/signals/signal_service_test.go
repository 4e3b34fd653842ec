package signals

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/providers"
	"etf_dashboard/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeMarket struct {
	db      *gorm.DB
	bars    map[string][]providers.Bar
	errs    map[string]error
	mu      sync.Mutex
	history int
}

func (m *fakeMarket) ResolveETF(ctx context.Context, symbol string) (*models.ETF, error) {
	var etf models.ETF
	if err := m.db.Where("symbol = ?", models.NormalizeSymbol(symbol)).First(&etf).Error; err != nil {
		return nil, apperr.NotFound("unknown ETF %s", symbol)
	}
	return &etf, nil
}

func (m *fakeMarket) ActiveETFs(ctx context.Context) ([]models.ETF, error) {
	var etfs []models.ETF
	err := m.db.Where("is_active = ?", true).Order("symbol").Find(&etfs).Error
	return etfs, err
}

func (m *fakeMarket) GetHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error) {
	m.mu.Lock()
	m.history = days
	m.mu.Unlock()
	if err := m.errs[symbol]; err != nil {
		return nil, err
	}
	return m.bars[symbol], nil
}

type fakeArchive struct {
	saved []string
	err   error
}

func (a *fakeArchive) SaveSignal(_ context.Context, s *models.Signal) error {
	a.saved = append(a.saved, s.Symbol)
	return a.err
}

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newSignalService(t *testing.T) (*SignalService, *fakeMarket, *fakeArchive, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	r := rand.New(rand.NewSource(11))
	market := &fakeMarket{
		db: db,
		bars: map[string][]providers.Bar{
			"SPY":  makeBars(randomWalk(r, 140, 0.001, 0.01)),
			"QQQ":  makeBars(randomWalk(r, 140, -0.002, 0.015)),
			"TINY": makeBars(randomWalk(r, 10, 0, 0.01)),
		},
		errs: map[string]error{},
	}
	archive := &fakeArchive{}
	s := NewSignalService(db, market, archive)
	s.now = func() time.Time { return fixedNow }
	s.generator.now = s.now
	return s, market, archive, db
}

func TestGenerateForSymbolPersists(t *testing.T) {
	s, market, archive, db := newSignalService(t)
	etf := testutil.SeedETF(t, db, "SPY", "US78462F1030")

	sig, err := s.GenerateForSymbol(context.Background(), "spy")
	require.NoError(t, err)
	assert.Equal(t, HistoryDays, market.history)
	assert.Equal(t, etf.ID, sig.ETFID)
	assert.Equal(t, fixedNow.Add(SignalTTL), sig.ExpiresAt)
	assert.True(t, sig.Confidence.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, sig.Confidence.LessThanOrEqual(decimal.NewFromInt(1)))
	assert.Equal(t, []string{"SPY"}, archive.saved)

	var reasons []string
	require.NoError(t, json.Unmarshal(sig.Reasons, &reasons))
	assert.NotEmpty(t, reasons)

	var stored models.Signal
	require.NoError(t, db.First(&stored, sig.ID).Error)
	assert.Equal(t, sig.Type, stored.Type)
}

func TestGenerateForSymbolErrors(t *testing.T) {
	s, market, archive, db := newSignalService(t)
	testutil.SeedETF(t, db, "TINY", "")
	testutil.SeedETF(t, db, "DOWN", "")
	market.errs["DOWN"] = apperr.Upstream("no provider", errors.New("boom"))

	_, err := s.GenerateForSymbol(context.Background(), "NOPE")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = s.GenerateForSymbol(context.Background(), "TINY")
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	_, err = s.GenerateForSymbol(context.Background(), "DOWN")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	assert.Empty(t, archive.saved)
}

func TestArchiveFailureDoesNotFailGeneration(t *testing.T) {
	s, _, archive, db := newSignalService(t)
	testutil.SeedETF(t, db, "SPY", "")
	archive.err = errors.New("mongo down")

	_, err := s.GenerateForSymbol(context.Background(), "SPY")
	assert.NoError(t, err)
}

func TestLatestReusesUnexpiredSignal(t *testing.T) {
	s, _, archive, db := newSignalService(t)
	testutil.SeedETF(t, db, "SPY", "")

	first, err := s.Latest(context.Background(), "SPY")
	require.NoError(t, err)
	second, err := s.Latest(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, archive.saved, 1)

	// after expiry a new one is generated
	s.now = func() time.Time { return fixedNow.Add(SignalTTL + time.Minute) }
	third, err := s.Latest(context.Background(), "SPY")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	_, err = s.LatestStored(context.Background(), "QQQ")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListFiltersAndPages(t *testing.T) {
	s, _, _, db := newSignalService(t)
	etf := testutil.SeedETF(t, db, "SPY", "")
	for i, typ := range []string{models.SignalBuy, models.SignalSell, models.SignalBuy, models.SignalHold} {
		require.NoError(t, db.Create(&models.Signal{
			ETFID: etf.ID, Symbol: "SPY", Type: typ,
			CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute),
			ExpiresAt: fixedNow.Add(time.Duration(i-2) * time.Hour),
		}).Error)
	}
	ctx := context.Background()

	all, total, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, models.SignalHold, all[0].Type, "newest first")

	buys, total, err := s.List(ctx, Filter{Type: models.SignalBuy})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, buys, 2)

	active, _, err := s.List(ctx, Filter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	page, total, err := s.List(ctx, Filter{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, page, 1)

	_, _, err = s.List(ctx, Filter{Type: "STRONG_BUY"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGenerateAllContinuesPastFailures(t *testing.T) {
	s, _, _, db := newSignalService(t)
	for _, sym := range []string{"SPY", "QQQ", "TINY"} {
		testutil.SeedETF(t, db, sym, "")
	}

	sum, err := s.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Generated)
	assert.Equal(t, 1, sum.Failed)

	total := 0
	for _, n := range sum.ByType {
		total += n
	}
	assert.Equal(t, 2, total)
}

func TestGenerateAllStopsOnCancel(t *testing.T) {
	s, _, _, db := newSignalService(t)
	testutil.SeedETF(t, db, "SPY", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GenerateAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPurgeExpired(t *testing.T) {
	s, _, _, db := newSignalService(t)
	etf := testutil.SeedETF(t, db, "SPY", "")
	require.NoError(t, db.Create(&models.Signal{ETFID: etf.ID, Symbol: "SPY", Type: models.SignalHold, CreatedAt: fixedNow.AddDate(0, 0, -100)}).Error)
	require.NoError(t, db.Create(&models.Signal{ETFID: etf.ID, Symbol: "SPY", Type: models.SignalHold, CreatedAt: fixedNow.AddDate(0, 0, -10)}).Error)

	n, err := s.PurgeExpired(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
