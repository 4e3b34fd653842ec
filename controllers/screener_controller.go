package controllers

import (
	"context"
	"net/http"

	"etf_dashboard/apperr"
	"etf_dashboard/services/screener"

	"github.com/gin-gonic/gin"
)

// ScreenerService filters the ETF catalog.
type ScreenerService interface {
	Screen(ctx context.Context, f screener.Filter) ([]screener.Result, int64, error)
}

// ScreenerController handles screening endpoints
type ScreenerController struct {
	screener ScreenerService
}

func NewScreenerController(s ScreenerService) *ScreenerController {
	return &ScreenerController{screener: s}
}

// Screen runs a screen built from query parameters. With ?preset=<id> the
// preset filter is the starting point and other parameters override it.
// GET /api/v1/etfs/screen
func (ctrl *ScreenerController) Screen(c *gin.Context) {
	var f screener.Filter
	if id := c.Query("preset"); id != "" {
		preset, ok := findPreset(id)
		if !ok {
			respondError(c, apperr.NotFound("preset %q not found", id))
			return
		}
		f = preset.Filter
	}
	if err := c.ShouldBindQuery(&f); err != nil {
		respondError(c, apperr.Validation("invalid screen parameters"))
		return
	}

	results, total, err := ctrl.screener.Screen(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	f, _ = f.Normalized()
	respondPage(c, results, newPagination(f.Page, f.Limit, total))
}

// GetPresets lists the predefined screens
// GET /api/v1/etfs/screen/presets
func (ctrl *ScreenerController) GetPresets(c *gin.Context) {
	respond(c, http.StatusOK, screener.Presets())
}

func findPreset(id string) (screener.Preset, bool) {
	for _, p := range screener.Presets() {
		if p.ID == id {
			return p, true
		}
	}
	return screener.Preset{}, false
}
