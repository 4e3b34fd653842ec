package controllers

import (
	"context"
	"net/http"

	"etf_dashboard/services/alerts"
	"etf_dashboard/services/providers"
	"etf_dashboard/services/signals"

	"github.com/gin-gonic/gin"
)

// AdminOps are the batch jobs an admin may trigger outside the schedule.
type AdminOps interface {
	GenerateAll(ctx context.Context) (signals.Summary, error)
	CheckAlerts(ctx context.Context) (alerts.Result, error)
	RefreshHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error)
}

// AdminController runs maintenance actions on demand
type AdminController struct {
	ops AdminOps
}

func NewAdminController(ops AdminOps) *AdminController {
	return &AdminController{ops: ops}
}

// GenerateSignals regenerates signals for the whole catalog
// POST /api/v1/admin/signals/generate
func (ctrl *AdminController) GenerateSignals(c *gin.Context) {
	summary, err := ctrl.ops.GenerateAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, summary)
}

// CheckAlerts evaluates active alerts now
// POST /api/v1/admin/alerts/check
func (ctrl *AdminController) CheckAlerts(c *gin.Context) {
	res, err := ctrl.ops.CheckAlerts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// RefreshHistory refetches and stores history for one symbol
// POST /api/v1/admin/market/:symbol/refresh?days=
func (ctrl *AdminController) RefreshHistory(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	days, err := queryInt(c, "days", 400)
	if err != nil {
		respondError(c, err)
		return
	}
	bars, err := ctrl.ops.RefreshHistory(c.Request.Context(), sym, days)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"symbol": sym, "bars": len(bars)})
}
