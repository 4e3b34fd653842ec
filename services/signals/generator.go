// Package signals turns price history into BUY/SELL/HOLD recommendations.
package signals

import (
	"fmt"
	"math"
	"time"

	"etf_dashboard/models"
	"etf_dashboard/services/analysis"
	"etf_dashboard/services/providers"
)

const (
	MinBars = 30

	BuyThreshold  = 0.2
	SellThreshold = -0.2

	// Fallback levels when no ATR is available.
	fallbackTargetPct = 0.05
	fallbackStopPct   = 0.03

	atrTargetMultiple = 2.0
	atrStopMultiple   = 1.5
)

// RuleScore is one rule's contribution to a signal.
type RuleScore struct {
	Rule   string  `json:"rule"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"` // -1..1, positive is bullish
	Reason string  `json:"reason"`
}

// Result is a generated, not yet persisted, signal.
type Result struct {
	Symbol      string               `json:"symbol"`
	Type        string               `json:"type"`
	Score       float64              `json:"score"`
	Confidence  float64              `json:"confidence"`
	Price       float64              `json:"price"`
	TargetPrice float64              `json:"target_price,omitempty"`
	StopLoss    float64              `json:"stop_loss,omitempty"`
	Reasons     []string             `json:"reasons"`
	Rules       []RuleScore          `json:"rules"`
	Indicators  *analysis.Indicators `json:"indicators"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Rule scores one aspect of the indicator snapshot. ok is false when the
// snapshot lacks the data the rule needs.
type Rule interface {
	Name() string
	Weight() float64
	Evaluate(ind *analysis.Indicators) (score float64, reason string, ok bool)
}

// Generator combines weighted rules into a single score.
type Generator struct {
	rules []Rule
	now   func() time.Time
}

// NewGenerator returns a generator with the default rule set.
func NewGenerator() *Generator {
	return &Generator{
		rules: []Rule{
			trendRule{},
			rsiRule{},
			macdRule{},
			bollingerRule{},
			momentumRule{},
		},
		now: time.Now,
	}
}

// Generate scores bars, oldest first. Rules without enough data are
// skipped and the remaining weights renormalized.
func (g *Generator) Generate(symbol string, bars []providers.Bar) (*Result, error) {
	if len(bars) < MinBars {
		return nil, fmt.Errorf("%w: signal needs %d bars, have %d", analysis.ErrInsufficientData, MinBars, len(bars))
	}
	ind, err := analysis.Snapshot(bars)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Symbol:      symbol,
		Price:       ind.Close,
		Indicators:  ind,
		Reasons:     []string{},
		GeneratedAt: g.now().UTC(),
	}

	var weighted, totalWeight float64
	for _, r := range g.rules {
		score, reason, ok := r.Evaluate(ind)
		if !ok {
			continue
		}
		score = clamp(score, -1, 1)
		weighted += r.Weight() * score
		totalWeight += r.Weight()
		res.Rules = append(res.Rules, RuleScore{Rule: r.Name(), Weight: r.Weight(), Score: score, Reason: reason})
		res.Reasons = append(res.Reasons, reason)
	}
	if totalWeight == 0 {
		return nil, fmt.Errorf("%w: no rule could be evaluated", analysis.ErrInsufficientData)
	}

	res.Score = clamp(weighted/totalWeight, -1, 1)
	res.Type = classify(res.Score)
	res.Confidence = confidence(res.Type, res.Score)
	res.TargetPrice, res.StopLoss = levels(res.Type, ind.Close, ind.ATR14)
	return res, nil
}

func classify(score float64) string {
	switch {
	case score >= BuyThreshold:
		return models.SignalBuy
	case score <= SellThreshold:
		return models.SignalSell
	default:
		return models.SignalHold
	}
}

// confidence maps a score into [0,1]. Directional signals start at 0.5 at
// the threshold; HOLD is most confident at a neutral score.
func confidence(signalType string, score float64) float64 {
	abs := math.Abs(score)
	var c float64
	if signalType == models.SignalHold {
		c = 1 - abs/BuyThreshold*0.5
	} else {
		c = math.Min(1, 0.5+abs/2)
	}
	return clamp(c, 0, 1)
}

func levels(signalType string, price float64, atr *float64) (target, stop float64) {
	switch signalType {
	case models.SignalBuy:
		if atr != nil && *atr > 0 && price-atrStopMultiple**atr > 0 {
			return price + atrTargetMultiple**atr, price - atrStopMultiple**atr
		}
		return price * (1 + fallbackTargetPct), price * (1 - fallbackStopPct)
	case models.SignalSell:
		if atr != nil && *atr > 0 && price-atrTargetMultiple**atr > 0 {
			return price - atrTargetMultiple**atr, price + atrStopMultiple**atr
		}
		return price * (1 - fallbackTargetPct), price * (1 + fallbackStopPct)
	}
	return 0, 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
