package signals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/metrics"
	"etf_dashboard/models"
	"etf_dashboard/services/analysis"
	"etf_dashboard/services/providers"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// HistoryDays is the calendar window fetched for generation. It spans
	// more than WindowBars trading days so SMA200 is always computable.
	HistoryDays = 400
	// WindowBars is the trailing bar count a signal is computed on.
	WindowBars = 250
	SignalTTL  = 24 * time.Hour

	defaultPageSize = 20
	maxPageSize     = 100
)

// MarketData is the subset of the market data service signals depend on.
type MarketData interface {
	ResolveETF(ctx context.Context, symbol string) (*models.ETF, error)
	ActiveETFs(ctx context.Context) ([]models.ETF, error)
	GetHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error)
}

// Archiver mirrors generated signals to secondary storage.
type Archiver interface {
	SaveSignal(ctx context.Context, signal *models.Signal) error
}

// Filter selects stored signals.
type Filter struct {
	Type       string
	Symbol     string
	ActiveOnly bool
	Page       int
	Limit      int
}

// Summary reports a batch generation run.
type Summary struct {
	Generated int            `json:"generated"`
	Failed    int            `json:"failed"`
	ByType    map[string]int `json:"by_type"`
}

// SignalService generates, stores and serves signals.
type SignalService struct {
	db        *gorm.DB
	market    MarketData
	generator *Generator
	archive   Archiver
	log       zerolog.Logger
	now       func() time.Time
}

func NewSignalService(db *gorm.DB, market MarketData, archive Archiver) *SignalService {
	return &SignalService{
		db:        db,
		market:    market,
		generator: NewGenerator(),
		archive:   archive,
		log:       logger.With("signals"),
		now:       time.Now,
	}
}

// TrailingWindow returns the last WindowBars bars.
func TrailingWindow(bars []providers.Bar) []providers.Bar {
	if len(bars) > WindowBars {
		return bars[len(bars)-WindowBars:]
	}
	return bars
}

// Preview computes a signal without storing it.
func (s *SignalService) Preview(symbol string, bars []providers.Bar) (*Result, error) {
	return s.generator.Generate(models.NormalizeSymbol(symbol), bars)
}

// GenerateForSymbol computes a fresh signal from recent history and stores it.
func (s *SignalService) GenerateForSymbol(ctx context.Context, symbol string) (*models.Signal, error) {
	etf, err := s.market.ResolveETF(ctx, symbol)
	if err != nil {
		return nil, err
	}
	bars, err := s.market.GetHistory(ctx, etf.Symbol, HistoryDays)
	if err != nil {
		return nil, err
	}

	res, err := s.generator.Generate(etf.Symbol, TrailingWindow(bars))
	if errors.Is(err, analysis.ErrInsufficientData) {
		return nil, apperr.Unavailable("not enough price history for "+etf.Symbol, err)
	}
	if err != nil {
		return nil, apperr.Internal("signal generation failed", err)
	}

	sig, err := s.toModel(etf, res)
	if err != nil {
		return nil, apperr.Internal("failed to encode signal", err)
	}
	if err := s.db.WithContext(ctx).Create(sig).Error; err != nil {
		return nil, apperr.Internal("failed to store signal", err)
	}
	metrics.SignalGenerated(sig.Type)

	s.log.Info().
		Str("symbol", sig.Symbol).
		Str("type", sig.Type).
		Str("confidence", sig.Confidence.StringFixed(2)).
		Msg("Signal generated")

	if s.archive != nil {
		if err := s.archive.SaveSignal(ctx, sig); err != nil {
			s.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Failed to archive signal")
		}
	}
	return sig, nil
}

func (s *SignalService) toModel(etf *models.ETF, res *Result) (*models.Signal, error) {
	reasons, err := json.Marshal(res.Reasons)
	if err != nil {
		return nil, err
	}
	indicators, err := json.Marshal(res.Indicators)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &models.Signal{
		ETFID:       etf.ID,
		Symbol:      etf.Symbol,
		Type:        res.Type,
		Score:       decimal.NewFromFloat(res.Score).Round(4),
		Confidence:  decimal.NewFromFloat(res.Confidence).Round(4),
		Price:       decimal.NewFromFloat(res.Price).Round(4),
		TargetPrice: decimal.NewFromFloat(res.TargetPrice).Round(4),
		StopLoss:    decimal.NewFromFloat(res.StopLoss).Round(4),
		Reasons:     datatypes.JSON(reasons),
		Indicators:  datatypes.JSON(indicators),
		ExpiresAt:   now.Add(SignalTTL),
		CreatedAt:   now,
	}, nil
}

// Latest returns the newest unexpired signal, generating one when none is
// stored.
func (s *SignalService) Latest(ctx context.Context, symbol string) (*models.Signal, error) {
	sym := models.NormalizeSymbol(symbol)
	var sig models.Signal
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND expires_at > ?", sym, s.now().UTC()).
		Order("created_at DESC").
		First(&sig).Error
	if err == nil {
		return &sig, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("failed to load signal", err)
	}
	return s.GenerateForSymbol(ctx, sym)
}

// LatestStored returns the newest unexpired signal without generating.
func (s *SignalService) LatestStored(ctx context.Context, symbol string) (*models.Signal, error) {
	var sig models.Signal
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND expires_at > ?", models.NormalizeSymbol(symbol), s.now().UTC()).
		Order("created_at DESC").
		First(&sig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("no current signal for %s", symbol)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load signal", err)
	}
	return &sig, nil
}

// Normalized clamps the page and page size.
func (f Filter) Normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	return f
}

// List pages through stored signals, newest first.
func (s *SignalService) List(ctx context.Context, f Filter) ([]models.Signal, int64, error) {
	if f.Type != "" && !models.IsValidSignalType(f.Type) {
		return nil, 0, apperr.Validation("invalid signal type %q", f.Type)
	}
	f = f.Normalized()

	q := s.db.WithContext(ctx).Model(&models.Signal{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", models.NormalizeSymbol(f.Symbol))
	}
	if f.ActiveOnly {
		q = q.Where("expires_at > ?", s.now().UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Internal("failed to count signals", err)
	}
	var out []models.Signal
	err := q.Order("created_at DESC").Order("id DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, apperr.Internal("failed to list signals", err)
	}
	return out, total, nil
}

// GenerateAll refreshes the signal of every active ETF. Symbols are
// processed one at a time to stay within provider rate limits; a failing
// symbol is logged and skipped.
func (s *SignalService) GenerateAll(ctx context.Context) (Summary, error) {
	sum := Summary{ByType: map[string]int{}}
	etfs, err := s.market.ActiveETFs(ctx)
	if err != nil {
		return sum, err
	}
	for _, etf := range etfs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sig, err := s.GenerateForSymbol(ctx, etf.Symbol)
		if err != nil {
			sum.Failed++
			s.log.Warn().Err(err).Str("symbol", etf.Symbol).Msg("Signal generation failed")
			continue
		}
		sum.Generated++
		sum.ByType[sig.Type]++
	}
	s.log.Info().Int("generated", sum.Generated).Int("failed", sum.Failed).Msg("Signal batch complete")
	return sum, nil
}

// PurgeExpired deletes signals created more than olderThan ago.
func (s *SignalService) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Signal{})
	if res.Error != nil {
		return 0, apperr.Internal("failed to purge signals", res.Error)
	}
	return res.RowsAffected, nil
}
