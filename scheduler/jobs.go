package scheduler

import (
	"context"
	"time"

	"etf_dashboard/logger"
	"etf_dashboard/models"
	"etf_dashboard/services/alerts"
	"etf_dashboard/services/providers"
	"etf_dashboard/services/signals"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	HistoryRefreshDays = 400
	SignalRetention    = 90 * 24 * time.Hour
	MarketDataYears    = 10
)

// Market is the market data surface the jobs drive.
type Market interface {
	ActiveETFs(ctx context.Context) ([]models.ETF, error)
	RefreshQuote(ctx context.Context, symbol string) (*providers.Quote, error)
	RefreshHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SignalGenerator interface {
	GenerateAll(ctx context.Context) (signals.Summary, error)
	PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

type AlertChecker interface {
	Run(ctx context.Context) (alerts.Result, error)
}

// HistoryArchive mirrors refreshed history.
type HistoryArchive interface {
	Enabled() bool
	SaveHistory(ctx context.Context, symbol string, bars []providers.Bar) error
}

// Jobs holds the work behind each scheduled job. Every method is also safe
// to call on demand.
type Jobs struct {
	db      *gorm.DB
	market  Market
	signals SignalGenerator
	alerts  AlertChecker
	archive HistoryArchive
	hours   *MarketHours
	log     zerolog.Logger
	now     func() time.Time
}

func NewJobs(db *gorm.DB, market Market, sigs SignalGenerator, checker AlertChecker, archive HistoryArchive) *Jobs {
	return &Jobs{
		db:      db,
		market:  market,
		signals: sigs,
		alerts:  checker,
		archive: archive,
		hours:   NewMarketHours(),
		log:     logger.With("scheduler"),
		now:     time.Now,
	}
}

// trackedSymbols are the active catalog plus every ETF on a watchlist or
// held in a portfolio.
func (j *Jobs) trackedSymbols(ctx context.Context) ([]string, error) {
	db := j.db.WithContext(ctx)
	var symbols []string
	err := db.Model(&models.ETF{}).
		Where("is_active = ?", true).
		Or("id IN (?)", db.Model(&models.WatchlistItem{}).Select("etf_id")).
		Or("id IN (?)", db.Model(&models.Position{}).Select("etf_id")).
		Order("symbol").
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// RefreshQuotes refreshes quotes of tracked ETFs whose exchange is open.
func (j *Jobs) RefreshQuotes(ctx context.Context) (int, error) {
	symbols, err := j.trackedSymbols(ctx)
	if err != nil {
		return 0, err
	}
	open := j.hours.OpenSymbols(symbols, j.now())
	if len(open) == 0 {
		j.log.Debug().Int("tracked", len(symbols)).Msg("All markets closed, skipping quote refresh")
		return 0, nil
	}

	refreshed := 0
	for _, sym := range open {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := j.market.RefreshQuote(ctx, sym); err != nil {
			j.log.Warn().Err(err).Str("symbol", sym).Msg("Quote refresh failed")
			continue
		}
		refreshed++
	}
	j.log.Info().Int("refreshed", refreshed).Int("open", len(open)).Msg("Quotes refreshed")
	return refreshed, nil
}

// RefreshHistory refreshes one symbol and mirrors it to the archive.
func (j *Jobs) RefreshHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error) {
	bars, err := j.market.RefreshHistory(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	if j.archive != nil && j.archive.Enabled() {
		if err := j.archive.SaveHistory(ctx, models.NormalizeSymbol(symbol), bars); err != nil {
			j.log.Warn().Err(err).Str("symbol", symbol).Msg("Archive write failed")
		}
	}
	return bars, nil
}

// RefreshAllHistory refreshes HistoryRefreshDays of history for every
// active ETF.
func (j *Jobs) RefreshAllHistory(ctx context.Context) (int, error) {
	etfs, err := j.market.ActiveETFs(ctx)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, etf := range etfs {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := j.RefreshHistory(ctx, etf.Symbol, HistoryRefreshDays); err != nil {
			j.log.Warn().Err(err).Str("symbol", etf.Symbol).Msg("History refresh failed")
			continue
		}
		refreshed++
	}
	j.log.Info().Int("refreshed", refreshed).Int("total", len(etfs)).Msg("History refreshed")
	return refreshed, nil
}

// GenerateAll regenerates signals for the catalog.
func (j *Jobs) GenerateAll(ctx context.Context) (signals.Summary, error) {
	return j.signals.GenerateAll(ctx)
}

// CheckAlerts evaluates active alerts.
func (j *Jobs) CheckAlerts(ctx context.Context) (alerts.Result, error) {
	res, err := j.alerts.Run(ctx)
	if err != nil {
		return res, err
	}
	if res.Triggered > 0 {
		j.log.Info().Int("checked", res.Checked).Int("triggered", res.Triggered).Msg("Alerts triggered")
	}
	return res, nil
}

// Cleanup purges old signals and market data.
func (j *Jobs) Cleanup(ctx context.Context) error {
	n, err := j.signals.PurgeExpired(ctx, SignalRetention)
	if err != nil {
		return err
	}
	cutoff := j.now().UTC().AddDate(-MarketDataYears, 0, 0)
	m, err := j.market.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	j.log.Info().Int64("signals", n).Int64("bars", m).Msg("Cleanup completed")
	return nil
}
