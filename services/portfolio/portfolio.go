// Package portfolio records user transactions and values holdings at
// current market prices.
package portfolio

import (
	"context"
	"errors"
	"strings"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/models"
	"etf_dashboard/services/providers"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuoteSource provides current prices.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*providers.Quote, error)
}

// TransactionInput is a transaction to apply. Quantity, Price and Fee apply
// to BUY and SELL, Amount to DEPOSIT and WITHDRAW.
type TransactionInput struct {
	Type       string
	Symbol     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	Amount     decimal.Decimal
	ExecutedAt time.Time
}

type Service struct {
	db     *gorm.DB
	quotes QuoteSource
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, quotes QuoteSource) *Service {
	return &Service{
		db:     db,
		quotes: quotes,
		log:    logger.With("portfolio"),
		now:    time.Now,
	}
}

// CreatePortfolio opens a portfolio. A positive initial cash amount is
// booked as a deposit and turns on cash tracking.
func (s *Service) CreatePortfolio(ctx context.Context, userID uint, name, currency string, initialCash decimal.Decimal) (*models.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("portfolio name is required")
	}
	if currency == "" {
		currency = "EUR"
	}
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return nil, apperr.Validation("currency must be a 3-letter code")
	}
	if initialCash.IsNegative() {
		return nil, apperr.Validation("initial cash cannot be negative")
	}

	p := &models.Portfolio{UserID: userID, Name: name, BaseCurrency: currency, Cash: decimal.Zero}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		if initialCash.IsPositive() {
			_, err := s.apply(tx, p, TransactionInput{Type: models.TxDeposit, Amount: initialCash})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, wrapDB("failed to create portfolio", err)
	}
	return p, nil
}

// List returns the user's portfolios.
func (s *Service) List(ctx context.Context, userID uint) ([]models.Portfolio, error) {
	var out []models.Portfolio
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to list portfolios", err)
	}
	return out, nil
}

// Get loads a portfolio owned by userID. Another user's portfolio reads as
// not found.
func (s *Service) Get(ctx context.Context, userID, portfolioID uint) (*models.Portfolio, error) {
	return s.load(s.db.WithContext(ctx), userID, portfolioID)
}

func (s *Service) load(db *gorm.DB, userID, portfolioID uint) (*models.Portfolio, error) {
	var p models.Portfolio
	err := db.Where("id = ? AND user_id = ?", portfolioID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("portfolio %d not found", portfolioID)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load portfolio", err)
	}
	return &p, nil
}

// forUpdate locks the selected rows until the transaction ends. SQLite
// ignores the clause and serializes writers instead.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ApplyTransaction books a transaction and updates positions and cash in a
// single database transaction.
func (s *Service) ApplyTransaction(ctx context.Context, userID, portfolioID uint, in TransactionInput) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.load(forUpdate(tx), userID, portfolioID)
		if err != nil {
			return err
		}
		out, err = s.apply(tx, p, in)
		return err
	})
	if err != nil {
		return nil, wrapDB("failed to apply transaction", err)
	}

	s.log.Info().
		Uint("portfolio_id", portfolioID).
		Str("type", out.Type).
		Str("symbol", out.Symbol).
		Str("amount", out.Amount.StringFixed(2)).
		Msg("Transaction applied")
	return out, nil
}

func (s *Service) apply(tx *gorm.DB, p *models.Portfolio, in TransactionInput) (*models.Transaction, error) {
	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	if !models.IsValidTransactionType(in.Type) {
		return nil, apperr.Validation("invalid transaction type %q", in.Type)
	}
	if in.ExecutedAt.IsZero() {
		in.ExecutedAt = s.now().UTC()
	}

	record := &models.Transaction{
		PortfolioID: p.ID,
		Type:        in.Type,
		Quantity:    in.Quantity,
		Price:       in.Price,
		Fee:         in.Fee,
		ExecutedAt:  in.ExecutedAt,
	}

	switch in.Type {
	case models.TxDeposit:
		if !in.Amount.IsPositive() {
			return nil, apperr.Validation("deposit amount must be positive")
		}
		p.Cash = p.Cash.Add(in.Amount)
		p.TrackCash = true
		record.Amount = in.Amount

	case models.TxWithdraw:
		if !in.Amount.IsPositive() {
			return nil, apperr.Validation("withdrawal amount must be positive")
		}
		if in.Amount.GreaterThan(p.Cash) {
			return nil, apperr.Validation("insufficient cash: have %s, need %s", p.Cash.StringFixed(2), in.Amount.StringFixed(2))
		}
		p.Cash = p.Cash.Sub(in.Amount)
		record.Amount = in.Amount

	case models.TxBuy, models.TxSell:
		if err := validateTrade(in); err != nil {
			return nil, err
		}
		etf, err := findETF(tx, in.Symbol)
		if err != nil {
			return nil, err
		}
		record.ETFID = &etf.ID
		record.Symbol = etf.Symbol

		if in.Type == models.TxBuy {
			err = buy(tx, p, etf, in, record)
		} else {
			err = sell(tx, p, etf, in, record)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Model(p).Updates(map[string]any{"cash": p.Cash, "track_cash": p.TrackCash}).Error; err != nil {
		return nil, err
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func validateTrade(in TransactionInput) error {
	if strings.TrimSpace(in.Symbol) == "" {
		return apperr.Validation("symbol is required for %s", in.Type)
	}
	if !in.Quantity.IsPositive() {
		return apperr.Validation("quantity must be positive")
	}
	if !in.Price.IsPositive() {
		return apperr.Validation("price must be positive")
	}
	if in.Fee.IsNegative() {
		return apperr.Validation("fee cannot be negative")
	}
	return nil
}

func findETF(tx *gorm.DB, symbol string) (*models.ETF, error) {
	var etf models.ETF
	err := tx.Where("symbol = ?", models.NormalizeSymbol(symbol)).First(&etf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("unknown ETF %s", models.NormalizeSymbol(symbol))
	}
	return &etf, err
}

func findPosition(tx *gorm.DB, portfolioID, etfID uint) (*models.Position, error) {
	var pos models.Position
	err := forUpdate(tx).Where("portfolio_id = ? AND etf_id = ?", portfolioID, etfID).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &pos, err
}

// buy adds to a position. The fee is capitalized into the average cost.
func buy(tx *gorm.DB, p *models.Portfolio, etf *models.ETF, in TransactionInput, record *models.Transaction) error {
	cost := in.Quantity.Mul(in.Price).Add(in.Fee)
	if p.TrackCash && cost.GreaterThan(p.Cash) {
		return apperr.Validation("insufficient cash: have %s, need %s", p.Cash.StringFixed(2), cost.StringFixed(2))
	}

	pos, err := findPosition(tx, p.ID, etf.ID)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &models.Position{PortfolioID: p.ID, ETFID: etf.ID, Symbol: etf.Symbol, Quantity: decimal.Zero, AvgCost: decimal.Zero}
	}

	newQty := pos.Quantity.Add(in.Quantity)
	pos.AvgCost = pos.Quantity.Mul(pos.AvgCost).Add(cost).Div(newQty)
	pos.Quantity = newQty
	if err := tx.Save(pos).Error; err != nil {
		return err
	}

	if p.TrackCash {
		p.Cash = p.Cash.Sub(cost)
	}
	record.Amount = cost
	return nil
}

// sell reduces a position and realizes PnL against the average cost.
func sell(tx *gorm.DB, p *models.Portfolio, etf *models.ETF, in TransactionInput, record *models.Transaction) error {
	pos, err := findPosition(tx, p.ID, etf.ID)
	if err != nil {
		return err
	}
	if pos == nil || in.Quantity.GreaterThan(pos.Quantity) {
		held := decimal.Zero
		if pos != nil {
			held = pos.Quantity
		}
		return apperr.Validation("cannot sell %s %s: holding %s", in.Quantity.String(), etf.Symbol, held.String())
	}

	notional := in.Quantity.Mul(in.Price)
	if in.Fee.GreaterThan(notional) {
		return apperr.Validation("fee %s exceeds sale value %s", in.Fee.StringFixed(2), notional.StringFixed(2))
	}
	proceeds := notional.Sub(in.Fee)
	record.RealizedPnL = in.Price.Sub(pos.AvgCost).Mul(in.Quantity).Sub(in.Fee)
	record.Amount = proceeds

	pos.Quantity = pos.Quantity.Sub(in.Quantity)
	if pos.Quantity.IsZero() {
		if err := tx.Delete(pos).Error; err != nil {
			return err
		}
	} else if err := tx.Save(pos).Error; err != nil {
		return err
	}

	if p.TrackCash {
		p.Cash = p.Cash.Add(proceeds)
	}
	return nil
}

// wrapDB passes typed errors through and marks the rest internal.
func wrapDB(msg string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(msg, err)
}
