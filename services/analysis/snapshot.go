package analysis

import (
	"time"

	"etf_dashboard/services/providers"
)

// Indicators is every indicator that the available history supports.
// Fields without enough data stay nil.
type Indicators struct {
	Date         time.Time       `json:"date"`
	Close        float64         `json:"close"`
	Bars         int             `json:"bars"`
	SMA20        *float64        `json:"sma_20,omitempty"`
	SMA50        *float64        `json:"sma_50,omitempty"`
	SMA200       *float64        `json:"sma_200,omitempty"`
	EMA12        *float64        `json:"ema_12,omitempty"`
	EMA26        *float64        `json:"ema_26,omitempty"`
	RSI14        *float64        `json:"rsi_14,omitempty"`
	MACD         *MACDResult     `json:"macd,omitempty"`
	Bollinger    *BollingerBands `json:"bollinger,omitempty"`
	Stochastic   *Stochastic     `json:"stochastic,omitempty"`
	ATR14        *float64        `json:"atr_14,omitempty"`
	Return20     *float64        `json:"return_20,omitempty"`
	Volatility20 *float64        `json:"volatility_20,omitempty"`
}

// Snapshot computes the standard indicator set on the latest bar.
func Snapshot(bars []providers.Bar) (*Indicators, error) {
	if len(bars) == 0 {
		return nil, insufficient("snapshot", 1, 0)
	}
	closes := Closes(bars)
	last := bars[len(bars)-1]

	ind := &Indicators{Date: last.Date, Close: last.Close, Bars: len(bars)}

	lastOf := func(series []float64, err error) *float64 {
		if err != nil {
			return nil
		}
		v := Last(series)
		return &v
	}
	value := func(v float64, err error) *float64 {
		if err != nil {
			return nil
		}
		return &v
	}

	ind.SMA20 = lastOf(SMA(closes, 20))
	ind.SMA50 = lastOf(SMA(closes, 50))
	ind.SMA200 = lastOf(SMA(closes, 200))
	ind.EMA12 = lastOf(EMA(closes, 12))
	ind.EMA26 = lastOf(EMA(closes, 26))
	ind.RSI14 = value(RSI(closes, 14))
	ind.ATR14 = value(ATR(bars, 14))
	ind.Return20 = value(Returns(closes, 20))
	ind.Volatility20 = value(Volatility(closes, 20))

	if m, err := MACD(closes, 12, 26, 9); err == nil {
		ind.MACD = m
	}
	if bb, err := Bollinger(closes, 20, 2); err == nil {
		ind.Bollinger = bb
	}
	if st, err := StochasticOscillator(bars, 14, 3); err == nil {
		ind.Stochastic = st
	}
	return ind, nil
}
