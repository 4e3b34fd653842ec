package simulation

import (
	"context"
	"math"
	"sort"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/services/providers"
	"etf_dashboard/services/signals"

	"github.com/shopspring/decimal"
)

const (
	DefaultBacktestDays = 365
	MinBacktestDays     = 60
	MaxBacktestDays     = 3650
)

// BacktestRequest replays the live trading rules over daily history.
type BacktestRequest struct {
	Symbols         []string
	Days            int
	InitialCapital  decimal.Decimal
	CommissionRate  decimal.Decimal
	PositionSizePct decimal.Decimal
	MinConfidence   decimal.Decimal
	StopLossPct     decimal.Decimal
	TakeProfitPct   decimal.Decimal
}

// EquityPoint is end-of-day equity.
type EquityPoint struct {
	Date   time.Time       `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}

// BacktestResult summarizes a backtest.
type BacktestResult struct {
	Symbols         []string        `json:"symbols"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	FinalEquity     decimal.Decimal `json:"final_equity"`
	TotalReturnPct  decimal.Decimal `json:"total_return_pct"`
	AnnualReturnPct decimal.Decimal `json:"annual_return_pct"`
	MaxDrawdownPct  decimal.Decimal `json:"max_drawdown_pct"`
	TotalTrades     int             `json:"total_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	WinRate         decimal.Decimal `json:"win_rate"`
	AvgWin          decimal.Decimal `json:"avg_win"`
	AvgLoss         decimal.Decimal `json:"avg_loss"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
	OpenPositions   int             `json:"open_positions"`
	Trades          []Trade         `json:"trades"`
	EquityCurve     []EquityPoint   `json:"equity_curve"`
}

// Backtest loads history for each symbol and replays it.
func (r *Runner) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	symbols, err := r.resolveSymbols(ctx, req.Symbols)
	if err != nil {
		return nil, err
	}
	if req.Days == 0 {
		req.Days = DefaultBacktestDays
	}
	if req.Days < MinBacktestDays || req.Days > MaxBacktestDays {
		return nil, apperr.Validation("days must be between %d and %d", MinBacktestDays, MaxBacktestDays)
	}

	cr := CreateRequest{
		Name:            "backtest",
		InitialCapital:  req.InitialCapital,
		CommissionRate:  req.CommissionRate,
		PositionSizePct: req.PositionSizePct,
		MinConfidence:   req.MinConfidence,
		StopLossPct:     req.StopLossPct,
		TakeProfitPct:   req.TakeProfitPct,
	}
	applyDefaults(&cr)
	if err := validateRequest(cr); err != nil {
		return nil, err
	}

	series := make(map[string][]providers.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := r.market.GetHistory(ctx, sym, req.Days)
		if err != nil {
			return nil, err
		}
		series[sym] = bars
	}

	engine := Engine{Params: Params{
		CommissionRate:  cr.CommissionRate,
		PositionSizePct: cr.PositionSizePct,
		MinConfidence:   cr.MinConfidence,
		StopLossPct:     cr.StopLossPct,
		TakeProfitPct:   cr.TakeProfitPct,
	}}
	res := RunBacktest(engine, cr.InitialCapital, series, r.generator)
	res.Symbols = symbols

	r.log.Info().
		Strs("symbols", symbols).
		Int("days", req.Days).
		Int("trades", res.TotalTrades).
		Str("return_pct", res.TotalReturnPct.StringFixed(2)).
		Msg("Backtest completed")
	return res, nil
}

// RunBacktest steps the engine day by day over the union of all dates.
// Signals are computed on the trailing window ending at each day.
func RunBacktest(engine Engine, initial decimal.Decimal, series map[string][]providers.Bar, gen SignalGenerator) *BacktestResult {
	type cursor struct {
		bars []providers.Bar
		idx  map[string]int
	}
	cursors := make(map[string]*cursor, len(series))
	days := map[string]time.Time{}
	for sym, bars := range series {
		c := &cursor{bars: bars, idx: make(map[string]int, len(bars))}
		for i, b := range bars {
			key := b.Date.Format("2006-01-02")
			c.idx[key] = i
			days[key] = b.Date
		}
		cursors[sym] = c
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	symbols := make([]string, 0, len(cursors))
	for sym := range cursors {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	st := NewState(initial)
	res := &BacktestResult{InitialCapital: initial, Trades: []Trade{}, EquityCurve: make([]EquityPoint, 0, len(keys))}
	peak := initial
	maxDD := decimal.Zero

	for _, key := range keys {
		day := days[key]
		for _, sym := range symbols {
			c := cursors[sym]
			i, ok := c.idx[key]
			if !ok {
				continue
			}
			start := i + 1 - signals.WindowBars
			if start < 0 {
				start = 0
			}
			var sig *signals.Result
			if i+1 >= signals.MinBars {
				sig, _ = gen.Generate(sym, c.bars[start:i+1])
			}
			price := decimal.NewFromFloat(c.bars[i].Close)
			res.Trades = append(res.Trades, engine.Step(st, sym, price, sig, day)...)
		}

		equity := Equity(st, nil)
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Date: day, Equity: equity.Round(2)})
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.IsPositive() {
			if dd := peak.Sub(equity).Div(peak); dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	if len(keys) > 0 {
		res.From = days[keys[0]]
		res.To = days[keys[len(keys)-1]]
	}
	res.FinalEquity = Equity(st, nil).Round(2)
	res.OpenPositions = len(st.Positions)
	res.MaxDrawdownPct = maxDD.Mul(decimal.NewFromInt(100)).Round(4)
	calculateMetrics(res)
	return res
}

// calculateMetrics derives return and trade statistics. Only closing
// trades count towards win rate.
func calculateMetrics(res *BacktestResult) {
	hundred := decimal.NewFromInt(100)
	if res.InitialCapital.IsPositive() {
		totalReturn := res.FinalEquity.Sub(res.InitialCapital).Div(res.InitialCapital)
		res.TotalReturnPct = totalReturn.Mul(hundred).Round(4)

		years := res.To.Sub(res.From).Hours() / 24 / 365
		if years > 0 {
			annual := math.Pow(1+totalReturn.InexactFloat64(), 1/years) - 1
			if !math.IsNaN(annual) && !math.IsInf(annual, 0) {
				res.AnnualReturnPct = decimal.NewFromFloat(annual * 100).Round(4)
			}
		}
	}

	totalWin, totalLoss := decimal.Zero, decimal.Zero
	for _, t := range res.Trades {
		if t.Side != models.SignalSell {
			continue
		}
		res.TotalTrades++
		if t.PnL.IsPositive() {
			res.WinningTrades++
			totalWin = totalWin.Add(t.PnL)
		} else {
			res.LosingTrades++
			totalLoss = totalLoss.Add(t.PnL.Abs())
		}
	}

	if res.TotalTrades > 0 {
		res.WinRate = decimal.NewFromInt(int64(res.WinningTrades)).Div(decimal.NewFromInt(int64(res.TotalTrades))).Round(4)
	}
	if res.WinningTrades > 0 {
		res.AvgWin = totalWin.Div(decimal.NewFromInt(int64(res.WinningTrades))).Round(4)
	}
	if res.LosingTrades > 0 {
		res.AvgLoss = totalLoss.Div(decimal.NewFromInt(int64(res.LosingTrades))).Round(4)
	}
	if totalLoss.IsPositive() {
		res.ProfitFactor = totalWin.Div(totalLoss).Round(4)
	}
}
