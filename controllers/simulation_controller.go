package controllers

import (
	"context"
	"net/http"

	"etf_dashboard/models"
	"etf_dashboard/services/simulation"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// SimulationService is the simulation surface used by the HTTP API.
type SimulationService interface {
	Create(ctx context.Context, userID uint, req simulation.CreateRequest) (*models.TradingSimulation, error)
	List(ctx context.Context, userID uint) ([]models.TradingSimulation, error)
	Start(ctx context.Context, userID uint, id string) (*models.TradingSimulation, error)
	Stop(ctx context.Context, userID uint, id string) (*models.TradingSimulation, error)
	Status(ctx context.Context, userID uint, id string) (*simulation.StatusView, error)
	Backtest(ctx context.Context, req simulation.BacktestRequest) (*simulation.BacktestResult, error)
}

// SimulationController drives paper-trading simulations and backtests
type SimulationController struct {
	sims SimulationService
}

func NewSimulationController(s SimulationService) *SimulationController {
	return &SimulationController{sims: s}
}

// strategyParams are shared by live simulations and backtests. Omitted
// values take the engine defaults.
type strategyParams struct {
	InitialCapital  *decimal.Decimal `json:"initial_capital"`
	CommissionRate  *decimal.Decimal `json:"commission_rate"`
	PositionSizePct *decimal.Decimal `json:"position_size_pct"`
	MinConfidence   *decimal.Decimal `json:"min_confidence"`
	StopLossPct     *decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct   *decimal.Decimal `json:"take_profit_pct"`
}

type createSimulationRequest struct {
	Name            string   `json:"name" binding:"required,max=100"`
	Symbols         []string `json:"symbols" binding:"required,min=1,dive,ticker"`
	IntervalSeconds int      `json:"interval_seconds" binding:"omitempty,min=0"`
	MaxTicks        int      `json:"max_ticks" binding:"omitempty,min=0"`
	strategyParams
}

type backtestRequest struct {
	Symbols []string `json:"symbols" binding:"required,min=1,dive,ticker"`
	Days    int      `json:"days"`
	strategyParams
}

// CreateSimulation stores a pending simulation
// POST /api/v1/simulations
func (ctrl *SimulationController) CreateSimulation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req createSimulationRequest
	if !bindJSON(c, &req) {
		return
	}

	sim, err := ctrl.sims.Create(c.Request.Context(), userID, simulation.CreateRequest{
		Name:            req.Name,
		Symbols:         req.Symbols,
		InitialCapital:  decimalOrZero(req.InitialCapital),
		CommissionRate:  decimalOrZero(req.CommissionRate),
		PositionSizePct: decimalOrZero(req.PositionSizePct),
		MinConfidence:   decimalOrZero(req.MinConfidence),
		StopLossPct:     decimalOrZero(req.StopLossPct),
		TakeProfitPct:   decimalOrZero(req.TakeProfitPct),
		IntervalSeconds: req.IntervalSeconds,
		MaxTicks:        req.MaxTicks,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, sim)
}

// ListSimulations returns the user's simulations
// GET /api/v1/simulations
func (ctrl *SimulationController) ListSimulations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := ctrl.sims.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

// GetSimulation returns status, positions and recent trades
// GET /api/v1/simulations/:id
func (ctrl *SimulationController) GetSimulation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	view, err := ctrl.sims.Status(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, view)
}

// StartSimulation begins polling
// POST /api/v1/simulations/:id/start
func (ctrl *SimulationController) StartSimulation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sim, err := ctrl.sims.Start(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, sim)
}

// StopSimulation halts polling; stopping twice is not an error
// POST /api/v1/simulations/:id/stop
func (ctrl *SimulationController) StopSimulation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sim, err := ctrl.sims.Stop(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, sim)
}

// RunBacktest replays the strategy over daily history
// POST /api/v1/simulations/backtest
func (ctrl *SimulationController) RunBacktest(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	var req backtestRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := ctrl.sims.Backtest(c.Request.Context(), simulation.BacktestRequest{
		Symbols:         req.Symbols,
		Days:            req.Days,
		InitialCapital:  decimalOrZero(req.InitialCapital),
		CommissionRate:  decimalOrZero(req.CommissionRate),
		PositionSizePct: decimalOrZero(req.PositionSizePct),
		MinConfidence:   decimalOrZero(req.MinConfidence),
		StopLossPct:     decimalOrZero(req.StopLossPct),
		TakeProfitPct:   decimalOrZero(req.TakeProfitPct),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}
