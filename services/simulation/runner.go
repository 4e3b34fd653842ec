package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/metrics"
	"etf_dashboard/models"
	"etf_dashboard/services/providers"
	"etf_dashboard/services/signals"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	// MaxConsecutiveFailures fails a simulation after this many bad ticks in a row.
	MaxConsecutiveFailures = 5
	MaxSymbols             = 10
)

// Market is what a simulation needs from the market data service.
type Market interface {
	ResolveETF(ctx context.Context, symbol string) (*models.ETF, error)
	GetQuote(ctx context.Context, symbol string) (*providers.Quote, error)
	GetHistory(ctx context.Context, symbol string, days int) ([]providers.Bar, error)
}

// SignalGenerator scores bars, oldest first.
type SignalGenerator interface {
	Generate(symbol string, bars []providers.Bar) (*signals.Result, error)
}

// CreateRequest describes a new simulation. Zero values take defaults.
type CreateRequest struct {
	Name            string
	Symbols         []string
	InitialCapital  decimal.Decimal
	CommissionRate  decimal.Decimal
	PositionSizePct decimal.Decimal
	MinConfidence   decimal.Decimal
	StopLossPct     decimal.Decimal
	TakeProfitPct   decimal.Decimal
	IntervalSeconds int
	MaxTicks        int
}

// Defaults
var (
	DefaultCommissionRate  = decimal.RequireFromString("0.0015")
	DefaultPositionSizePct = decimal.RequireFromString("0.2")
	DefaultMinConfidence   = decimal.RequireFromString("0.6")
	DefaultStopLossPct     = decimal.RequireFromString("0.03")
	DefaultTakeProfitPct   = decimal.RequireFromString("0.05")
	DefaultIntervalSeconds = 60
)

// StatusView is a simulation with its book marked to last seen prices.
type StatusView struct {
	Simulation   *models.TradingSimulation   `json:"simulation"`
	Running      bool                        `json:"running"`
	Positions    []models.SimulationPosition `json:"positions"`
	RecentTrades []models.SimulationTrade    `json:"recent_trades"`
	Equity       decimal.Decimal             `json:"equity"`
	ReturnPct    decimal.Decimal             `json:"return_pct"`
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner owns the polling loops of running simulations.
type Runner struct {
	db         *gorm.DB
	market     Market
	generator  SignalGenerator
	maxRunning int
	log        zerolog.Logger
	now        func() time.Time
	tickUnit   time.Duration

	mu      sync.Mutex
	running map[uint]*loop
	wg      sync.WaitGroup
	baseCtx context.Context
	stopAll context.CancelFunc
	closed  bool
}

func NewRunner(db *gorm.DB, market Market, maxRunning int) *Runner {
	if maxRunning <= 0 {
		maxRunning = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		db:         db,
		market:     market,
		generator:  signals.NewGenerator(),
		maxRunning: maxRunning,
		log:        logger.With("simulation"),
		now:        time.Now,
		tickUnit:   time.Second,
		running:    make(map[uint]*loop),
		baseCtx:    ctx,
		stopAll:    cancel,
	}
}

// Create validates req, applies defaults and stores a pending simulation.
func (r *Runner) Create(ctx context.Context, userID uint, req CreateRequest) (*models.TradingSimulation, error) {
	symbols, err := r.resolveSymbols(ctx, req.Symbols)
	if err != nil {
		return nil, err
	}
	applyDefaults(&req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, apperr.Internal("failed to encode symbols", err)
	}

	sim := &models.TradingSimulation{
		UUID:            uuid.NewString(),
		UserID:          userID,
		Name:            req.Name,
		Symbols:         encoded,
		InitialCapital:  req.InitialCapital,
		Cash:            req.InitialCapital,
		CommissionRate:  req.CommissionRate,
		PositionSizePct: req.PositionSizePct,
		MinConfidence:   req.MinConfidence,
		StopLossPct:     req.StopLossPct,
		TakeProfitPct:   req.TakeProfitPct,
		IntervalSeconds: req.IntervalSeconds,
		MaxTicks:        req.MaxTicks,
		Status:          models.SimulationPending,
	}
	if err := r.db.WithContext(ctx).Create(sim).Error; err != nil {
		return nil, apperr.Internal("failed to create simulation", err)
	}

	r.log.Info().Str("uuid", sim.UUID).Strs("symbols", symbols).Msg("Simulation created")
	return sim, nil
}

func (r *Runner) resolveSymbols(ctx context.Context, raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, apperr.Validation("at least one symbol is required")
	}
	if len(raw) > MaxSymbols {
		return nil, apperr.Validation("at most %d symbols per simulation", MaxSymbols)
	}
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, s := range raw {
		etf, err := r.market.ResolveETF(ctx, s)
		if err != nil {
			return nil, err
		}
		if !seen[etf.Symbol] {
			seen[etf.Symbol] = true
			out = append(out, etf.Symbol)
		}
	}
	return out, nil
}

func applyDefaults(req *CreateRequest) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = "Simulation " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	if req.CommissionRate.IsZero() {
		req.CommissionRate = DefaultCommissionRate
	}
	if req.PositionSizePct.IsZero() {
		req.PositionSizePct = DefaultPositionSizePct
	}
	if req.MinConfidence.IsZero() {
		req.MinConfidence = DefaultMinConfidence
	}
	if req.StopLossPct.IsZero() {
		req.StopLossPct = DefaultStopLossPct
	}
	if req.TakeProfitPct.IsZero() {
		req.TakeProfitPct = DefaultTakeProfitPct
	}
	if req.IntervalSeconds == 0 {
		req.IntervalSeconds = DefaultIntervalSeconds
	}
}

func validateRequest(req CreateRequest) error {
	one := decimal.NewFromInt(1)
	switch {
	case !req.InitialCapital.IsPositive():
		return apperr.Validation("initial capital must be positive")
	case req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThanOrEqual(decimal.RequireFromString("0.1")):
		return apperr.Validation("commission rate must be in [0, 0.1)")
	case !req.PositionSizePct.IsPositive() || req.PositionSizePct.GreaterThan(one):
		return apperr.Validation("position size must be in (0, 1]")
	case req.MinConfidence.IsNegative() || req.MinConfidence.GreaterThan(one):
		return apperr.Validation("min confidence must be in [0, 1]")
	case req.StopLossPct.IsNegative() || req.StopLossPct.GreaterThanOrEqual(one):
		return apperr.Validation("stop loss must be in [0, 1)")
	case req.TakeProfitPct.IsNegative():
		return apperr.Validation("take profit cannot be negative")
	case req.IntervalSeconds < 1 || req.IntervalSeconds > 86400:
		return apperr.Validation("interval must be between 1 and 86400 seconds")
	case req.MaxTicks < 0:
		return apperr.Validation("max ticks cannot be negative")
	}
	return nil
}

// List returns the user's simulations, newest first.
func (r *Runner) List(ctx context.Context, userID uint) ([]models.TradingSimulation, error) {
	var out []models.TradingSimulation
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to list simulations", err)
	}
	return out, nil
}

// load finds a simulation by numeric id or UUID owned by userID.
func (r *Runner) load(ctx context.Context, userID uint, id string) (*models.TradingSimulation, error) {
	var sim models.TradingSimulation
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if _, err := uuid.Parse(id); err == nil {
		q = q.Where("uuid = ?", id)
	} else if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		q = q.Where("id = ?", n)
	} else {
		return nil, apperr.NotFound("simulation %s not found", id)
	}
	err := q.First(&sim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("simulation %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load simulation", err)
	}
	return &sim, nil
}

// Start launches the polling loop of a pending or stopped simulation.
func (r *Runner) Start(ctx context.Context, userID uint, id string) (*models.TradingSimulation, error) {
	sim, err := r.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	switch sim.Status {
	case models.SimulationPending, models.SimulationStopped:
	case models.SimulationRunning:
		return nil, apperr.Conflict("simulation %s is already running", sim.UUID)
	default:
		return nil, apperr.Conflict("simulation %s is %s", sim.UUID, sim.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.Unavailable("simulation runner is shutting down", nil)
	}
	if _, ok := r.running[sim.ID]; ok {
		return nil, apperr.Conflict("simulation %s is already running", sim.UUID)
	}
	if len(r.running) >= r.maxRunning {
		return nil, apperr.Conflict("too many running simulations (max %d)", r.maxRunning)
	}

	now := r.now().UTC()
	updates := map[string]any{"status": models.SimulationRunning, "failed_ticks": 0, "last_error": "", "stopped_at": nil}
	if sim.StartedAt == nil {
		updates["started_at"] = now
	}
	res := r.db.WithContext(ctx).Model(&models.TradingSimulation{}).
		Where("id = ? AND status IN ?", sim.ID, []string{models.SimulationPending, models.SimulationStopped}).
		Updates(updates)
	if res.Error != nil {
		return nil, apperr.Internal("failed to start simulation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict("simulation %s changed state, retry", sim.UUID)
	}
	sim.Status = models.SimulationRunning
	sim.FailedTicks = 0
	sim.LastError = ""
	sim.StoppedAt = nil
	if sim.StartedAt == nil {
		sim.StartedAt = &now
	}

	r.launchLocked(sim.ID, sim.IntervalSeconds)
	r.log.Info().Str("uuid", sim.UUID).Int("interval_seconds", sim.IntervalSeconds).Msg("Simulation started")
	return sim, nil
}

// Stop cancels a running loop, waits for it to exit and marks the
// simulation stopped. Stopping a stopped simulation is a no-op.
func (r *Runner) Stop(ctx context.Context, userID uint, id string) (*models.TradingSimulation, error) {
	sim, err := r.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	switch sim.Status {
	case models.SimulationStopped:
		return sim, nil
	case models.SimulationCompleted, models.SimulationFailed:
		return nil, apperr.Conflict("simulation %s is already %s", sim.UUID, sim.Status)
	}

	r.halt(sim.ID)

	now := r.now().UTC()
	err = r.db.WithContext(ctx).Model(&models.TradingSimulation{}).
		Where("id = ? AND status IN ?", sim.ID, []string{models.SimulationPending, models.SimulationRunning}).
		Updates(map[string]any{"status": models.SimulationStopped, "stopped_at": now}).Error
	if err != nil {
		return nil, apperr.Internal("failed to stop simulation", err)
	}

	r.log.Info().Str("uuid", sim.UUID).Msg("Simulation stopped")
	return r.load(ctx, userID, id)
}

// halt cancels the loop for id, if any, and waits for it to exit.
func (r *Runner) halt(id uint) {
	r.mu.Lock()
	l, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// IsRunning reports whether a loop is active for the simulation.
func (r *Runner) IsRunning(id uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// RunningCount returns the number of active loops.
func (r *Runner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Status returns the simulation with positions, recent trades and equity
// at last seen prices.
func (r *Runner) Status(ctx context.Context, userID uint, id string) (*StatusView, error) {
	sim, err := r.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Simulation: sim, Running: r.IsRunning(sim.ID)}
	db := r.db.WithContext(ctx)
	if err := db.Where("simulation_id = ?", sim.ID).Order("symbol").Find(&view.Positions).Error; err != nil {
		return nil, apperr.Internal("failed to load positions", err)
	}
	if err := db.Where("simulation_id = ?", sim.ID).Order("executed_at DESC").Order("id DESC").Limit(50).Find(&view.RecentTrades).Error; err != nil {
		return nil, apperr.Internal("failed to load trades", err)
	}

	view.Equity = Equity(stateOf(sim, view.Positions), nil)
	if sim.InitialCapital.IsPositive() {
		view.ReturnPct = view.Equity.Sub(sim.InitialCapital).Div(sim.InitialCapital).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return view, nil
}

// Resume restarts loops for simulations left running by a previous process.
// Rows beyond the concurrency limit are marked stopped.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	var sims []models.TradingSimulation
	if err := r.db.WithContext(ctx).Where("status = ?", models.SimulationRunning).Order("id").Find(&sims).Error; err != nil {
		return 0, fmt.Errorf("load running simulations: %w", err)
	}

	resumed := 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sim := range sims {
		if _, ok := r.running[sim.ID]; ok {
			continue
		}
		if r.closed || len(r.running) >= r.maxRunning {
			r.db.WithContext(ctx).Model(&models.TradingSimulation{}).Where("id = ?", sim.ID).
				Updates(map[string]any{"status": models.SimulationStopped, "stopped_at": r.now().UTC(), "last_error": "not resumed: runner at capacity"})
			r.log.Warn().Str("uuid", sim.UUID).Msg("Simulation not resumed, runner at capacity")
			continue
		}
		r.launchLocked(sim.ID, sim.IntervalSeconds)
		resumed++
	}
	if resumed > 0 {
		r.log.Info().Int("count", resumed).Msg("Simulations resumed")
	}
	return resumed, nil
}

// Shutdown cancels every loop and waits for them to exit. Rows stay
// running so Resume picks them up on the next start.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launchLocked starts the loop goroutine. r.mu must be held.
func (r *Runner) launchLocked(id uint, intervalSeconds int) {
	ctx, cancel := context.WithCancel(r.baseCtx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	r.running[id] = l
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(l.done)
		defer func() {
			r.mu.Lock()
			if r.running[id] == l {
				delete(r.running, id)
			}
			r.mu.Unlock()
			cancel()
		}()
		r.run(ctx, id, time.Duration(intervalSeconds)*r.tickUnit)
	}()
}

// run is the polling loop of one simulation.
func (r *Runner) run(ctx context.Context, id uint, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			finished, err := r.tick(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Error().Err(err).Uint("simulation_id", id).Msg("Simulation tick failed")
			}
			if finished {
				return
			}
		}
	}
}

// tick prices every symbol, steps the engine and persists the result in a
// single transaction. finished reports that the loop should exit.
func (r *Runner) tick(ctx context.Context, id uint) (finished bool, err error) {
	var sim models.TradingSimulation
	if err := r.db.WithContext(ctx).First(&sim, id).Error; err != nil {
		return errors.Is(err, gorm.ErrRecordNotFound), fmt.Errorf("load simulation: %w", err)
	}
	if sim.Status != models.SimulationRunning {
		return true, nil
	}
	var positions []models.SimulationPosition
	if err := r.db.WithContext(ctx).Where("simulation_id = ?", id).Find(&positions).Error; err != nil {
		return false, fmt.Errorf("load positions: %w", err)
	}

	st := stateOf(&sim, positions)
	engine := Engine{Params: paramsOf(&sim)}
	now := r.now().UTC()

	var trades []Trade
	var errs []error
	priced := 0
	symbols := sim.SymbolList()
	for _, sym := range symbols {
		q, err := r.market.GetQuote(ctx, sym)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s quote: %w", sym, err))
			continue
		}
		priced++

		var sig *signals.Result
		bars, err := r.market.GetHistory(ctx, sym, signals.HistoryDays)
		if err == nil {
			sig, err = r.generator.Generate(sym, signals.TrailingWindow(bars))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s signal: %w", sym, err))
			sig = nil
		}

		trades = append(trades, engine.Step(st, sym, decimal.NewFromFloat(q.Price), sig, now)...)
	}

	sim.Ticks++
	sim.LastTickAt = &now
	outcome := "ok"
	if priced == 0 && len(symbols) > 0 {
		sim.FailedTicks++
		outcome = "failed"
	} else {
		sim.FailedTicks = 0
	}
	sim.LastError = ""
	if tickErr := errors.Join(errs...); tickErr != nil {
		sim.LastError = tickErr.Error()
	}
	switch {
	case sim.FailedTicks >= MaxConsecutiveFailures:
		sim.Status = models.SimulationFailed
		sim.StoppedAt = &now
	case sim.MaxTicks > 0 && sim.Ticks >= sim.MaxTicks:
		sim.Status = models.SimulationCompleted
		sim.StoppedAt = &now
	}
	sim.Cash = st.Cash

	if err := r.persist(ctx, &sim, st, trades); err != nil {
		metrics.SimulationTick("error")
		return false, err
	}
	metrics.SimulationTick(outcome)

	for _, t := range trades {
		r.log.Info().
			Str("uuid", sim.UUID).
			Str("symbol", t.Symbol).
			Str("side", t.Side).
			Int64("quantity", t.Quantity).
			Str("price", t.Price.StringFixed(4)).
			Str("reason", t.Reason).
			Msg("Simulated trade")
	}
	if sim.Status != models.SimulationRunning {
		r.log.Info().Str("uuid", sim.UUID).Str("status", sim.Status).Int("ticks", sim.Ticks).Msg("Simulation finished")
		return true, nil
	}
	return false, nil
}

func (r *Runner) persist(ctx context.Context, sim *models.TradingSimulation, st *State, trades []Trade) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TradingSimulation{}).
			Where("id = ? AND status = ?", sim.ID, models.SimulationRunning).
			Updates(map[string]any{
				"cash":         sim.Cash,
				"ticks":        sim.Ticks,
				"failed_ticks": sim.FailedTicks,
				"last_error":   sim.LastError,
				"last_tick_at": sim.LastTickAt,
				"status":       sim.Status,
				"stopped_at":   sim.StoppedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("simulation %d is no longer running", sim.ID)
		}

		if err := tx.Where("simulation_id = ?", sim.ID).Delete(&models.SimulationPosition{}).Error; err != nil {
			return err
		}
		if len(st.Positions) > 0 {
			rows := make([]models.SimulationPosition, 0, len(st.Positions))
			for _, p := range st.Positions {
				rows = append(rows, models.SimulationPosition{
					SimulationID: sim.ID,
					Symbol:       p.Symbol,
					Quantity:     p.Quantity,
					AvgPrice:     p.AvgPrice,
					LastPrice:    p.LastPrice,
					OpenedAt:     p.OpenedAt,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		if len(trades) > 0 {
			rows := make([]models.SimulationTrade, 0, len(trades))
			for _, t := range trades {
				rows = append(rows, models.SimulationTrade{
					SimulationID: sim.ID,
					Symbol:       t.Symbol,
					Side:         t.Side,
					Quantity:     t.Quantity,
					Price:        t.Price,
					Commission:   t.Commission,
					PnL:          t.PnL,
					Reason:       t.Reason,
					ExecutedAt:   t.ExecutedAt,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func stateOf(sim *models.TradingSimulation, positions []models.SimulationPosition) *State {
	st := NewState(sim.Cash)
	for _, p := range positions {
		st.Positions[p.Symbol] = &Position{
			Symbol:    p.Symbol,
			Quantity:  p.Quantity,
			AvgPrice:  p.AvgPrice,
			LastPrice: p.LastPrice,
			OpenedAt:  p.OpenedAt,
		}
	}
	return st
}

func paramsOf(sim *models.TradingSimulation) Params {
	return Params{
		CommissionRate:  sim.CommissionRate,
		PositionSizePct: sim.PositionSizePct,
		MinConfidence:   sim.MinConfidence,
		StopLossPct:     sim.StopLossPct,
		TakeProfitPct:   sim.TakeProfitPct,
	}
}
