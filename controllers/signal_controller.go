package controllers

import (
	"context"
	"net/http"
	"strings"

	"etf_dashboard/models"
	"etf_dashboard/services/signals"

	"github.com/gin-gonic/gin"
)

// SignalService is the signal surface used by the HTTP API.
type SignalService interface {
	List(ctx context.Context, f signals.Filter) ([]models.Signal, int64, error)
	Latest(ctx context.Context, symbol string) (*models.Signal, error)
	GenerateForSymbol(ctx context.Context, symbol string) (*models.Signal, error)
}

// SignalController handles trading signal endpoints
type SignalController struct {
	signals SignalService
}

func NewSignalController(s SignalService) *SignalController {
	return &SignalController{signals: s}
}

// ListSignals pages through stored signals
// GET /api/v1/signals?type=&symbol=&active=&page=&limit=
func (ctrl *SignalController) ListSignals(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		respondError(c, err)
		return
	}

	f := signals.Filter{
		Type:       strings.ToUpper(c.Query("type")),
		Symbol:     c.Query("symbol"),
		ActiveOnly: c.Query("active") == "true",
		Page:       page,
		Limit:      limit,
	}
	list, total, err := ctrl.signals.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	f = f.Normalized()
	respondPage(c, list, newPagination(f.Page, f.Limit, total))
}

// GetSignal returns the current signal, generating one if none is stored
// GET /api/v1/signals/:symbol
func (ctrl *SignalController) GetSignal(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	sig, err := ctrl.signals.Latest(c.Request.Context(), sym)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, sig)
}

// GenerateSignal forces a fresh signal
// POST /api/v1/signals/:symbol/generate
func (ctrl *SignalController) GenerateSignal(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	sig, err := ctrl.signals.GenerateForSymbol(c.Request.Context(), sym)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, sig)
}
