package analysis

import (
	"math"
	"testing"
	"time"

	"etf_dashboard/services/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func barsFrom(closes []float64, spread float64) []providers.Bar {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]providers.Bar, len(closes))
	for i, c := range closes {
		bars[i] = providers.Bar{
			Date:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c + spread/2,
			Low:   c - spread/2,
			Close: c,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	got, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, got)

	_, err = SMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEMASeededWithSMA(t *testing.T) {
	got, err := EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, got)
}

func TestRSI(t *testing.T) {
	rsi, err := RSI([]float64{1, 2, 1, 2}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, rsi, 1e-9)

	rsi, err = RSI(series(20, func(i int) float64 { return float64(i + 1) }), 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)

	rsi, err = RSI(series(20, func(int) float64 { return 7 }), 14)
	require.NoError(t, err)
	assert.Equal(t, 50.0, rsi)

	rsi, err = RSI(series(20, func(i int) float64 { return float64(100 - i) }), 14)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rsi)

	_, err = RSI(series(14, func(int) float64 { return 1 }), 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestMACD(t *testing.T) {
	_, err := MACD(series(33, func(int) float64 { return 1 }), 12, 26, 9)
	assert.ErrorIs(t, err, ErrInsufficientData)

	flat, err := MACD(series(40, func(int) float64 { return 10 }), 12, 26, 9)
	require.NoError(t, err)
	assert.InDelta(t, 0, flat.MACD, 1e-12)
	assert.InDelta(t, 0, flat.Histogram, 1e-12)

	up, err := MACD(series(60, func(i int) float64 { return 100 + float64(i) }), 12, 26, 9)
	require.NoError(t, err)
	assert.Greater(t, up.MACD, 0.0)
	assert.Greater(t, up.Signal, 0.0)
	assert.InDelta(t, up.MACD-up.Signal, up.Histogram, 1e-12)
	require.NotNil(t, up.PrevHistogram)

	exact, err := MACD(series(34, func(i int) float64 { return float64(i) }), 12, 26, 9)
	require.NoError(t, err)
	assert.Nil(t, exact.PrevHistogram)

	_, err = MACD(series(60, func(int) float64 { return 1 }), 26, 12, 9)
	assert.Error(t, err)
}

func TestMACDDetectsCrossover(t *testing.T) {
	// long decline then a sharp rally pushes the MACD line through its signal
	values := series(60, func(i int) float64 { return 200 - float64(i) })
	for i := 0; i < 6; i++ {
		values = append(values, values[len(values)-1]+8)
	}

	crossed := false
	for n := 50; n <= len(values); n++ {
		m, err := MACD(values[:n], 12, 26, 9)
		require.NoError(t, err)
		if m.PrevHistogram != nil && *m.PrevHistogram <= 0 && m.Histogram > 0 {
			crossed = true
		}
	}
	assert.True(t, crossed)
}

func TestBollinger(t *testing.T) {
	bb, err := Bollinger(series(20, func(i int) float64 { return float64(i + 1) }), 20, 2)
	require.NoError(t, err)
	std := math.Sqrt(399.0 / 12.0)
	assert.InDelta(t, 10.5, bb.Middle, 1e-9)
	assert.InDelta(t, 10.5+2*std, bb.Upper, 1e-9)
	assert.InDelta(t, 10.5-2*std, bb.Lower, 1e-9)
	assert.InDelta(t, (20-(10.5-2*std))/(4*std), bb.PercentB, 1e-9)

	flat, err := Bollinger(series(25, func(int) float64 { return 3 }), 20, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, flat.PercentB)
	assert.Equal(t, 0.0, flat.Bandwidth)
}

func TestStochastic(t *testing.T) {
	bars := barsFrom(series(20, func(i int) float64 { return float64(10 + i) }), 0)
	st, err := StochasticOscillator(bars, 14, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.K)
	assert.Equal(t, 100.0, st.D)

	flat := barsFrom(series(20, func(int) float64 { return 5 }), 0)
	st, err = StochasticOscillator(flat, 14, 3)
	require.NoError(t, err)
	assert.Equal(t, 50.0, st.K)

	_, err = StochasticOscillator(bars[:15], 14, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestATR(t *testing.T) {
	atr, err := ATR(barsFrom(series(30, func(int) float64 { return 50 }), 2), 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)

	// gaps widen the true range beyond high-low
	gappy := barsFrom([]float64{10, 20, 10, 20, 10, 20}, 0)
	atr, err = ATR(gappy, 3)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, atr, 1e-9)

	_, err = ATR(gappy, 6)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestReturnsAndVolatility(t *testing.T) {
	r, err := Returns([]float64{100, 105, 110}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, r, 1e-12)

	steady := series(30, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) })
	vol, err := Volatility(steady, 20)
	require.NoError(t, err)
	assert.InDelta(t, 0, vol, 1e-9)

	zigzag := series(30, func(i int) float64 {
		if i%2 == 0 {
			return 100
		}
		return 101
	})
	vol, err = Volatility(zigzag, 20)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.1)

	_, err = Volatility(steady[:5], 20)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestSnapshotSkipsIndicatorsWithoutData(t *testing.T) {
	bars := barsFrom(series(30, func(i int) float64 { return 100 + float64(i%5) }), 1)
	ind, err := Snapshot(bars)
	require.NoError(t, err)

	assert.Equal(t, 30, ind.Bars)
	assert.Equal(t, bars[29].Close, ind.Close)
	assert.NotNil(t, ind.SMA20)
	assert.Nil(t, ind.SMA50)
	assert.Nil(t, ind.MACD)
	assert.NotNil(t, ind.RSI14)
	assert.NotNil(t, ind.Bollinger)
	assert.NotNil(t, ind.ATR14)
	assert.NotNil(t, ind.Return20)

	full, err := Snapshot(barsFrom(series(220, func(i int) float64 { return 50 + float64(i)/10 }), 1))
	require.NoError(t, err)
	assert.NotNil(t, full.SMA200)
	assert.NotNil(t, full.MACD)
	assert.NotNil(t, full.Stochastic)

	_, err = Snapshot(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
