package portfolio

import (
	"context"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"

	"github.com/shopspring/decimal"
)

// Holding is one valued position.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Price         decimal.Decimal `json:"price"`
	PriceSource   string          `json:"price_source"`
	Stale         bool            `json:"stale"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
	Weight        decimal.Decimal `json:"weight"`
	TER           decimal.Decimal `json:"ter"`
}

// Valuation is a portfolio marked to market.
type Valuation struct {
	PortfolioID   uint            `json:"portfolio_id"`
	Name          string          `json:"name"`
	BaseCurrency  string          `json:"base_currency"`
	Cash          decimal.Decimal `json:"cash"`
	Holdings      []Holding       `json:"holdings"`
	MarketValue   decimal.Decimal `json:"market_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	WeightedTER   decimal.Decimal `json:"weighted_ter"`
	ValuedAt      time.Time       `json:"valued_at"`
}

var hundred = decimal.NewFromInt(100)

// Valuation prices every position. A position whose quote cannot be fetched
// is valued at cost and flagged stale.
func (s *Service) Valuation(ctx context.Context, userID, portfolioID uint) (*Valuation, error) {
	p, err := s.Get(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}

	var positions []models.Position
	if err := s.db.WithContext(ctx).Preload("ETF").Where("portfolio_id = ?", p.ID).Order("symbol").Find(&positions).Error; err != nil {
		return nil, apperr.Internal("failed to load positions", err)
	}

	v := &Valuation{
		PortfolioID:  p.ID,
		Name:         p.Name,
		BaseCurrency: p.BaseCurrency,
		Cash:         p.Cash,
		Holdings:     make([]Holding, 0, len(positions)),
		ValuedAt:     s.now().UTC(),
	}

	for _, pos := range positions {
		h := Holding{
			Symbol:    pos.Symbol,
			Name:      pos.ETF.Name,
			Quantity:  pos.Quantity,
			AvgCost:   pos.AvgCost,
			CostBasis: pos.Quantity.Mul(pos.AvgCost),
			TER:       pos.ETF.TER,
		}

		q, err := s.quotes.GetQuote(ctx, pos.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Quote unavailable, valuing at cost")
			h.Price = pos.AvgCost
			h.PriceSource = "cost"
			h.Stale = true
		} else {
			h.Price = decimal.NewFromFloat(q.Price)
			h.PriceSource = q.Source
			h.Stale = q.Stale
		}

		h.MarketValue = h.Quantity.Mul(h.Price).Round(4)
		h.UnrealizedPnL = h.MarketValue.Sub(h.CostBasis).Round(4)
		if h.CostBasis.IsPositive() {
			h.UnrealizedPct = h.UnrealizedPnL.Div(h.CostBasis).Mul(hundred).Round(4)
		}

		v.MarketValue = v.MarketValue.Add(h.MarketValue)
		v.CostBasis = v.CostBasis.Add(h.CostBasis)
		v.Holdings = append(v.Holdings, h)
	}

	weightedTER := decimal.Zero
	if v.MarketValue.IsPositive() {
		for i := range v.Holdings {
			h := &v.Holdings[i]
			h.Weight = h.MarketValue.Div(v.MarketValue).Round(6)
			weightedTER = weightedTER.Add(h.Weight.Mul(h.TER))
		}
	}
	v.WeightedTER = weightedTER.Round(4)

	v.UnrealizedPnL = v.MarketValue.Sub(v.CostBasis).Round(4)
	if v.CostBasis.IsPositive() {
		v.UnrealizedPct = v.UnrealizedPnL.Div(v.CostBasis).Mul(hundred).Round(4)
	}
	v.TotalValue = v.MarketValue.Add(v.Cash)

	var realized struct{ Total decimal.NullDecimal }
	err = s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("SUM(realized_pnl) AS total").
		Where("portfolio_id = ?", p.ID).
		Scan(&realized).Error
	if err != nil {
		return nil, apperr.Internal("failed to sum realized PnL", err)
	}
	if realized.Total.Valid {
		v.RealizedPnL = realized.Total.Decimal.Round(4)
	}
	return v, nil
}

// Transactions lists a portfolio's transactions, newest first.
func (s *Service) Transactions(ctx context.Context, userID, portfolioID uint, limit int) ([]models.Transaction, error) {
	if _, err := s.Get(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.Transaction
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("executed_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, apperr.Internal("failed to list transactions", err)
	}
	return out, nil
}
