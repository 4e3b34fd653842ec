// Package analysis computes technical indicators over chronological price
// series. All functions are pure; the last element of a series is the most
// recent observation.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"etf_dashboard/services/providers"
)

// ErrInsufficientData is returned when a series is shorter than the
// indicator's lookback.
var ErrInsufficientData = errors.New("insufficient data")

const TradingDaysPerYear = 252

func insufficient(name string, need, have int) error {
	return fmt.Errorf("%w for %s: need %d points, have %d", ErrInsufficientData, name, need, have)
}

// Closes extracts close prices from bars.
func Closes(bars []providers.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA returns the trailing simple moving average series. Element i
// averages values[i : i+n].
func SMA(values []float64, n int) ([]float64, error) {
	if n <= 0 || len(values) < n {
		return nil, insufficient(fmt.Sprintf("SMA%d", n), n, len(values))
	}
	out := make([]float64, 0, len(values)-n+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out = append(out, sum/float64(n))
		}
	}
	return out, nil
}

// EMA returns the exponential moving average series, seeded with the SMA
// of the first n values.
func EMA(values []float64, n int) ([]float64, error) {
	if n <= 0 || len(values) < n {
		return nil, insufficient(fmt.Sprintf("EMA%d", n), n, len(values))
	}
	k := 2.0 / float64(n+1)

	seed := 0.0
	for _, v := range values[:n] {
		seed += v
	}
	ema := seed / float64(n)

	out := make([]float64, 0, len(values)-n+1)
	out = append(out, ema)
	for _, v := range values[n:] {
		ema = (v-ema)*k + ema
		out = append(out, ema)
	}
	return out, nil
}

// RSI is the Relative Strength Index with Wilder smoothing. A series with
// only gains reads 100, a flat series 50.
func RSI(values []float64, n int) (float64, error) {
	if n <= 0 || len(values) < n+1 {
		return 0, insufficient(fmt.Sprintf("RSI%d", n), n+1, len(values))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)

	for i := n + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50, nil
	case avgLoss == 0:
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACDResult holds the latest MACD values. PrevHistogram is set when the
// series is long enough to detect a crossover on the last bar.
type MACDResult struct {
	MACD          float64  `json:"macd"`
	Signal        float64  `json:"signal"`
	Histogram     float64  `json:"histogram"`
	PrevHistogram *float64 `json:"prev_histogram,omitempty"`
}

// MACD computes the fast/slow EMA difference and its signal-line EMA.
func MACD(values []float64, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return nil, fmt.Errorf("invalid MACD periods %d/%d/%d", fast, slow, signal)
	}
	need := slow + signal - 1
	if len(values) < need {
		return nil, insufficient("MACD", need, len(values))
	}

	fastEMA, err := EMA(values, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := EMA(values, slow)
	if err != nil {
		return nil, err
	}

	// align the fast series to the slow one
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signalLine, err := EMA(line, signal)
	if err != nil {
		return nil, err
	}

	last := len(line) - 1
	lastSig := len(signalLine) - 1
	res := &MACDResult{
		MACD:      line[last],
		Signal:    signalLine[lastSig],
		Histogram: line[last] - signalLine[lastSig],
	}
	if lastSig > 0 {
		prev := line[last-1] - signalLine[lastSig-1]
		res.PrevHistogram = &prev
	}
	return res, nil
}

// BollingerBands around an n-period SMA at k standard deviations.
// PercentB locates the last close: 0 at the lower band, 1 at the upper.
type BollingerBands struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	PercentB  float64 `json:"percent_b"`
	Bandwidth float64 `json:"bandwidth"`
}

func Bollinger(values []float64, n int, k float64) (*BollingerBands, error) {
	if n <= 0 || len(values) < n {
		return nil, insufficient("Bollinger", n, len(values))
	}
	window := values[len(values)-n:]

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(n))

	bb := &BollingerBands{
		Upper:  mean + k*std,
		Middle: mean,
		Lower:  mean - k*std,
	}
	last := values[len(values)-1]
	if width := bb.Upper - bb.Lower; width > 0 {
		bb.PercentB = (last - bb.Lower) / width
	} else {
		bb.PercentB = 0.5
	}
	if mean != 0 {
		bb.Bandwidth = (bb.Upper - bb.Lower) / mean
	}
	return bb, nil
}

// Stochastic oscillator: %K over kPeriod bars, %D the mean of the last
// dPeriod %K values.
type Stochastic struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

func StochasticOscillator(bars []providers.Bar, kPeriod, dPeriod int) (*Stochastic, error) {
	if kPeriod <= 0 || dPeriod <= 0 {
		return nil, fmt.Errorf("invalid stochastic periods %d/%d", kPeriod, dPeriod)
	}
	need := kPeriod + dPeriod - 1
	if len(bars) < need {
		return nil, insufficient("Stochastic", need, len(bars))
	}

	ks := make([]float64, 0, dPeriod)
	for end := len(bars) - dPeriod + 1; end <= len(bars); end++ {
		window := bars[end-kPeriod : end]
		high, low := window[0].High, window[0].Low
		for _, b := range window {
			high = math.Max(high, b.High)
			low = math.Min(low, b.Low)
		}
		closePrice := window[len(window)-1].Close
		k := 50.0
		if high > low {
			k = (closePrice - low) / (high - low) * 100
		}
		ks = append(ks, k)
	}

	d := 0.0
	for _, k := range ks {
		d += k
	}
	return &Stochastic{K: ks[len(ks)-1], D: d / float64(len(ks))}, nil
}

// ATR is the Average True Range with Wilder smoothing.
func ATR(bars []providers.Bar, n int) (float64, error) {
	if n <= 0 || len(bars) < n+1 {
		return 0, insufficient(fmt.Sprintf("ATR%d", n), n+1, len(bars))
	}

	trueRange := func(i int) float64 {
		b, prev := bars[i], bars[i-1].Close
		high, low := b.High, b.Low
		// daily sources without intraday range only report the close
		if high == 0 && low == 0 {
			high, low = b.Close, b.Close
		}
		return math.Max(high-low, math.Max(math.Abs(high-prev), math.Abs(low-prev)))
	}

	atr := 0.0
	for i := 1; i <= n; i++ {
		atr += trueRange(i)
	}
	atr /= float64(n)
	for i := n + 1; i < len(bars); i++ {
		atr = (atr*float64(n-1) + trueRange(i)) / float64(n)
	}
	return atr, nil
}

// Returns is the simple return over the last n periods.
func Returns(values []float64, n int) (float64, error) {
	if n <= 0 || len(values) < n+1 {
		return 0, insufficient(fmt.Sprintf("return%d", n), n+1, len(values))
	}
	base := values[len(values)-1-n]
	if base == 0 {
		return 0, fmt.Errorf("%w: zero base price", ErrInsufficientData)
	}
	return values[len(values)-1]/base - 1, nil
}

// Volatility is the annualized sample standard deviation of the last n
// daily log returns.
func Volatility(values []float64, n int) (float64, error) {
	if n < 2 || len(values) < n+1 {
		return 0, insufficient(fmt.Sprintf("volatility%d", n), n+1, len(values))
	}
	window := values[len(values)-n-1:]

	rets := make([]float64, 0, n)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0, fmt.Errorf("%w: non-positive price", ErrInsufficientData)
		}
		rets = append(rets, math.Log(window[i]/window[i-1]))
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	variance := 0.0
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets) - 1)
	return math.Sqrt(variance) * math.Sqrt(TradingDaysPerYear), nil
}

// Last returns the final element of a series.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
