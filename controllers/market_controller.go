package controllers

import (
	"context"
	"errors"
	"net/http"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/analysis"
	"etf_dashboard/services/marketdata"
	"etf_dashboard/services/providers"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryDays    = 365
	defaultIndicatorsDays = 300
)

// MarketService is the market data surface used by the HTTP API.
type MarketService interface {
	ActiveETFs(ctx context.Context) ([]models.ETF, error)
	GetQuote(ctx context.Context, symbol string) (*providers.Quote, error)
	GetHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error)
	GetProfile(ctx context.Context, symbol string) (*providers.Profile, error)
	ProviderStatus() []marketdata.ProviderStatus
}

// StatusReporter describes an optional backend such as the archive.
type StatusReporter interface {
	Status() map[string]any
}

// MarketController serves the ETF catalog, quotes, history and indicators
type MarketController struct {
	market  MarketService
	archive StatusReporter
}

func NewMarketController(market MarketService, archive StatusReporter) *MarketController {
	return &MarketController{market: market, archive: archive}
}

// ListETFs returns the active catalog
// GET /api/v1/etfs
func (ctrl *MarketController) ListETFs(c *gin.Context) {
	etfs, err := ctrl.market.ActiveETFs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, etfs)
}

// GetQuote returns the latest quote
// GET /api/v1/market/:symbol/quote
func (ctrl *MarketController) GetQuote(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	q, err := ctrl.market.GetQuote(c.Request.Context(), sym)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, q)
}

// GetHistory returns daily bars, oldest first
// GET /api/v1/market/:symbol/history?days=
func (ctrl *MarketController) GetHistory(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	days, err := queryInt(c, "days", defaultHistoryDays)
	if err != nil {
		respondError(c, err)
		return
	}

	bars, err := ctrl.market.GetHistory(c.Request.Context(), sym, days)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"symbol": sym,
		"days":   days,
		"count":  len(bars),
		"bars":   bars,
	})
}

// GetProfile returns static fund information
// GET /api/v1/market/:symbol/profile
func (ctrl *MarketController) GetProfile(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	p, err := ctrl.market.GetProfile(c.Request.Context(), sym)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

// GetIndicators computes the indicator snapshot over the requested window
// GET /api/v1/market/:symbol/indicators?days=
func (ctrl *MarketController) GetIndicators(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	days, err := queryInt(c, "days", defaultIndicatorsDays)
	if err != nil {
		respondError(c, err)
		return
	}

	bars, err := ctrl.market.GetHistory(c.Request.Context(), sym, days)
	if err != nil {
		respondError(c, err)
		return
	}
	ind, err := analysis.Snapshot(bars)
	if errors.Is(err, analysis.ErrInsufficientData) {
		respondError(c, apperr.Unavailable("not enough price history for "+sym, err))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"symbol": sym, "indicators": ind})
}

// GetProviders reports provider and archive health
// GET /api/v1/market/providers
func (ctrl *MarketController) GetProviders(c *gin.Context) {
	out := gin.H{"providers": ctrl.market.ProviderStatus()}
	if ctrl.archive != nil {
		out["archive"] = ctrl.archive.Status()
	}
	respond(c, http.StatusOK, out)
}
