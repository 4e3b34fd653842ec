package signals

import (
	"fmt"

	"etf_dashboard/services/analysis"
)

// trendRule compares the 20 and 50 day averages.
type trendRule struct{}

func (trendRule) Name() string    { return "trend" }
func (trendRule) Weight() float64 { return 0.25 }

func (trendRule) Evaluate(ind *analysis.Indicators) (float64, string, bool) {
	if ind.SMA20 == nil || ind.SMA50 == nil {
		return 0, "", false
	}
	fast, slow := *ind.SMA20, *ind.SMA50
	switch {
	case fast > slow && ind.Close > fast:
		return 1, fmt.Sprintf("Uptrend: price %.2f above SMA20 %.2f above SMA50 %.2f", ind.Close, fast, slow), true
	case fast > slow:
		return 0.5, fmt.Sprintf("SMA20 %.2f above SMA50 %.2f", fast, slow), true
	case fast < slow && ind.Close < fast:
		return -1, fmt.Sprintf("Downtrend: price %.2f below SMA20 %.2f below SMA50 %.2f", ind.Close, fast, slow), true
	case fast < slow:
		return -0.5, fmt.Sprintf("SMA20 %.2f below SMA50 %.2f", fast, slow), true
	}
	return 0, "SMA20 equals SMA50", true
}

type rsiRule struct{}

func (rsiRule) Name() string    { return "rsi" }
func (rsiRule) Weight() float64 { return 0.25 }

func (rsiRule) Evaluate(ind *analysis.Indicators) (float64, string, bool) {
	if ind.RSI14 == nil {
		return 0, "", false
	}
	rsi := *ind.RSI14
	switch {
	case rsi <= 30:
		return 1, fmt.Sprintf("RSI %.1f oversold", rsi), true
	case rsi >= 70:
		return -1, fmt.Sprintf("RSI %.1f overbought", rsi), true
	}
	return clamp((50-rsi)/20, -1, 1) * 0.5, fmt.Sprintf("RSI %.1f neutral", rsi), true
}

// macdRule scores the histogram sign, fully when it just crossed zero.
type macdRule struct{}

func (macdRule) Name() string    { return "macd" }
func (macdRule) Weight() float64 { return 0.20 }

func (macdRule) Evaluate(ind *analysis.Indicators) (float64, string, bool) {
	if ind.MACD == nil {
		return 0, "", false
	}
	h := ind.MACD.Histogram
	crossed := ind.MACD.PrevHistogram != nil && ((h > 0 && *ind.MACD.PrevHistogram <= 0) || (h < 0 && *ind.MACD.PrevHistogram >= 0))
	switch {
	case h > 0 && crossed:
		return 1, "MACD crossed above signal line", true
	case h > 0:
		return 0.5, fmt.Sprintf("MACD above signal line (histogram %.3f)", h), true
	case h < 0 && crossed:
		return -1, "MACD crossed below signal line", true
	case h < 0:
		return -0.5, fmt.Sprintf("MACD below signal line (histogram %.3f)", h), true
	}
	return 0, "MACD on signal line", true
}

type bollingerRule struct{}

func (bollingerRule) Name() string    { return "bollinger" }
func (bollingerRule) Weight() float64 { return 0.15 }

func (bollingerRule) Evaluate(ind *analysis.Indicators) (float64, string, bool) {
	if ind.Bollinger == nil {
		return 0, "", false
	}
	pb := ind.Bollinger.PercentB
	switch {
	case pb < 0:
		return 1, fmt.Sprintf("Price below lower Bollinger band %.2f", ind.Bollinger.Lower), true
	case pb > 1:
		return -1, fmt.Sprintf("Price above upper Bollinger band %.2f", ind.Bollinger.Upper), true
	}
	return 0.5 - pb, fmt.Sprintf("Bollinger %%B %.2f", pb), true
}

// momentumRule scales the 20 day return so that +-10% saturates.
type momentumRule struct{}

func (momentumRule) Name() string    { return "momentum" }
func (momentumRule) Weight() float64 { return 0.15 }

func (momentumRule) Evaluate(ind *analysis.Indicators) (float64, string, bool) {
	if ind.Return20 == nil {
		return 0, "", false
	}
	ret := *ind.Return20
	return clamp(ret/0.10, -1, 1), fmt.Sprintf("20-day return %+.1f%%", ret*100), true
}
