// Package simulation runs paper-trading simulations driven by generated
// signals, both live on a polling loop and as backtests over history.
package simulation

import (
	"time"

	"etf_dashboard/models"
	"etf_dashboard/services/signals"

	"github.com/shopspring/decimal"
)

// Trade exit reasons
const (
	ReasonSignal     = "signal"
	ReasonStopLoss   = "stop-loss"
	ReasonTakeProfit = "take-profit"
)

// Params are the trading rules of one simulation.
type Params struct {
	CommissionRate  decimal.Decimal // e.g. 0.0015 = 0.15% of notional
	PositionSizePct decimal.Decimal // share of cash committed per buy
	MinConfidence   decimal.Decimal
	StopLossPct     decimal.Decimal // 0 disables
	TakeProfitPct   decimal.Decimal // 0 disables
}

// Position is an open paper position. AvgPrice includes the buy commission.
type Position struct {
	Symbol    string
	Quantity  int64
	AvgPrice  decimal.Decimal
	LastPrice decimal.Decimal
	OpenedAt  time.Time
}

// State is the mutable book a simulation trades against.
type State struct {
	Cash      decimal.Decimal
	Positions map[string]*Position
}

func NewState(cash decimal.Decimal) *State {
	return &State{Cash: cash, Positions: make(map[string]*Position)}
}

// Trade is an executed paper trade.
type Trade struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	PnL        decimal.Decimal `json:"pnl"`
	Reason     string          `json:"reason"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Engine applies Params to a State one price observation at a time.
type Engine struct {
	Params Params
}

// Step processes one price for symbol. Open positions are checked against
// stop-loss and take-profit before the signal is considered. sig may be nil.
func (e Engine) Step(st *State, symbol string, price decimal.Decimal, sig *signals.Result, now time.Time) []Trade {
	if !price.IsPositive() {
		return nil
	}

	if pos, ok := st.Positions[symbol]; ok {
		pos.LastPrice = price

		if reason := e.exitReason(pos, price, sig); reason != "" {
			return []Trade{e.executeSell(st, pos, price, reason, now)}
		}
		return nil
	}

	if sig != nil && sig.Type == models.SignalBuy && e.confident(sig) {
		if t, ok := e.executeBuy(st, symbol, price, now); ok {
			return []Trade{t}
		}
	}
	return nil
}

func (e Engine) exitReason(pos *Position, price decimal.Decimal, sig *signals.Result) string {
	one := decimal.NewFromInt(1)
	if e.Params.StopLossPct.IsPositive() && price.LessThanOrEqual(pos.AvgPrice.Mul(one.Sub(e.Params.StopLossPct))) {
		return ReasonStopLoss
	}
	if e.Params.TakeProfitPct.IsPositive() && price.GreaterThanOrEqual(pos.AvgPrice.Mul(one.Add(e.Params.TakeProfitPct))) {
		return ReasonTakeProfit
	}
	if sig != nil && sig.Type == models.SignalSell && e.confident(sig) {
		return ReasonSignal
	}
	return ""
}

func (e Engine) confident(sig *signals.Result) bool {
	return decimal.NewFromFloat(sig.Confidence).GreaterThanOrEqual(e.Params.MinConfidence)
}

// executeBuy sizes the order so notional plus commission fits the budget.
func (e Engine) executeBuy(st *State, symbol string, price decimal.Decimal, now time.Time) (Trade, bool) {
	budget := st.Cash.Mul(e.Params.PositionSizePct)
	unitCost := price.Mul(decimal.NewFromInt(1).Add(e.Params.CommissionRate))
	qty := budget.Div(unitCost).Floor().IntPart()

	var notional, commission, cost decimal.Decimal
	for ; qty >= 1; qty-- {
		notional = price.Mul(decimal.NewFromInt(qty))
		commission = notional.Mul(e.Params.CommissionRate).Round(4)
		cost = notional.Add(commission)
		if cost.LessThanOrEqual(st.Cash) {
			break
		}
	}
	if qty < 1 {
		return Trade{}, false
	}

	st.Cash = st.Cash.Sub(cost)
	st.Positions[symbol] = &Position{
		Symbol:    symbol,
		Quantity:  qty,
		AvgPrice:  cost.Div(decimal.NewFromInt(qty)).Round(4),
		LastPrice: price,
		OpenedAt:  now,
	}

	return Trade{
		Symbol:     symbol,
		Side:       models.SignalBuy,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Reason:     ReasonSignal,
		ExecutedAt: now,
	}, true
}

// executeSell closes the whole position.
func (e Engine) executeSell(st *State, pos *Position, price decimal.Decimal, reason string, now time.Time) Trade {
	qty := decimal.NewFromInt(pos.Quantity)
	notional := price.Mul(qty)
	commission := notional.Mul(e.Params.CommissionRate).Round(4)
	proceeds := notional.Sub(commission)
	pnl := proceeds.Sub(pos.AvgPrice.Mul(qty)).Round(4)

	st.Cash = st.Cash.Add(proceeds)
	delete(st.Positions, pos.Symbol)

	return Trade{
		Symbol:     pos.Symbol,
		Side:       models.SignalSell,
		Quantity:   pos.Quantity,
		Price:      price,
		Commission: commission,
		PnL:        pnl,
		Reason:     reason,
		ExecutedAt: now,
	}
}

// Equity is cash plus open positions marked at prices, falling back to each
// position's last seen price.
func Equity(st *State, prices map[string]decimal.Decimal) decimal.Decimal {
	total := st.Cash
	for sym, pos := range st.Positions {
		price, ok := prices[sym]
		if !ok || !price.IsPositive() {
			price = pos.LastPrice
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}
