// Package marketdata serves quotes, daily history and fund profiles. Every
// read goes cache first, then through the configured providers in order, and
// finally falls back to what is stored in PostgreSQL.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/models"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/providers"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	MaxHistoryDays = 3650
	SourceDatabase = "database"

	defaultFetchTimeout = 30 * time.Second
)

// Config holds the cache lifetimes per data kind.
type Config struct {
	QuoteTTL   time.Duration
	HistoryTTL time.Duration
	ProfileTTL time.Duration
}

// DefaultConfig matches the configuration defaults.
func DefaultConfig() Config {
	return Config{
		QuoteTTL:   time.Minute,
		HistoryTTL: time.Hour,
		ProfileTTL: 24 * time.Hour,
	}
}

type Service struct {
	db        *gorm.DB
	cache     cache.Cache
	providers *providers.Set
	cfg       Config
	group     singleflight.Group
	fetchTTL  time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	status map[string]*ProviderStatus
}

func NewService(db *gorm.DB, c cache.Cache, set *providers.Set, cfg Config) *Service {
	s := &Service{
		db:        db,
		cache:     c,
		providers: set,
		cfg:       cfg,
		fetchTTL:  defaultFetchTimeout,
		log:       logger.With("marketdata"),
		now:       time.Now,
		status:    make(map[string]*ProviderStatus),
	}
	for _, p := range set.All() {
		s.status[p.Name()] = &ProviderStatus{Name: p.Name(), Enabled: p.Enabled()}
	}
	return s
}

// shared runs fn once for all concurrent callers of key. The fetch is
// detached from the first caller's cancellation and bounded by its own
// timeout; each caller still stops waiting when its ctx ends.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTTL)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveETF loads the catalog row for a symbol.
func (s *Service) ResolveETF(ctx context.Context, symbol string) (*models.ETF, error) {
	sym := models.NormalizeSymbol(symbol)
	var etf models.ETF
	err := s.db.WithContext(ctx).Where("symbol = ?", sym).First(&etf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("unknown ETF %s", sym)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load ETF", err)
	}
	return &etf, nil
}

// lookupETF is ResolveETF for paths that also serve symbols outside the
// catalog. A missing row yields nil without error.
func (s *Service) lookupETF(ctx context.Context, sym string) (*models.ETF, error) {
	etf, err := s.ResolveETF(ctx, sym)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return etf, err
}

// ActiveETFs lists the tracked catalog.
func (s *Service) ActiveETFs(ctx context.Context) ([]models.ETF, error) {
	var etfs []models.ETF
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("symbol").Find(&etfs).Error; err != nil {
		return nil, apperr.Internal("failed to list ETFs", err)
	}
	return etfs, nil
}

// providerSymbol returns the ticker a provider knows the ETF by. The
// catalog may override it per provider; justETF is keyed by ISIN.
func providerSymbol(etf *models.ETF, provider, sym string) string {
	if etf != nil && len(etf.ProviderSymbols) > 0 {
		var overrides map[string]string
		if json.Unmarshal(etf.ProviderSymbols, &overrides) == nil {
			if o := overrides[provider]; o != "" {
				return o
			}
		}
	}
	if provider == "justetf" {
		if etf == nil {
			return ""
		}
		return etf.ISIN
	}
	return sym
}

func validSymbol(symbol string) (string, error) {
	sym := models.NormalizeSymbol(symbol)
	if !models.ValidTicker(sym) {
		return "", apperr.Validation("invalid symbol %q", symbol)
	}
	return sym, nil
}

// upstreamError aggregates provider failures.
func upstreamError(what, sym string, errs []error) error {
	if len(errs) == 0 {
		errs = append(errs, providers.ErrDisabled)
	}
	return apperr.Upstream(fmt.Sprintf("no provider could serve %s for %s", what, sym), errors.Join(errs...))
}
