package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"etf_dashboard/models"
	"etf_dashboard/services/portfolio"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// PortfolioService is the portfolio surface used by the HTTP API.
type PortfolioService interface {
	CreatePortfolio(ctx context.Context, userID uint, name, currency string, initialCash decimal.Decimal) (*models.Portfolio, error)
	List(ctx context.Context, userID uint) ([]models.Portfolio, error)
	Get(ctx context.Context, userID, portfolioID uint) (*models.Portfolio, error)
	ApplyTransaction(ctx context.Context, userID, portfolioID uint, in portfolio.TransactionInput) (*models.Transaction, error)
	Valuation(ctx context.Context, userID, portfolioID uint) (*portfolio.Valuation, error)
	Transactions(ctx context.Context, userID, portfolioID uint, limit int) ([]models.Transaction, error)
}

// PortfolioController manages a user's portfolios and their transactions
type PortfolioController struct {
	portfolios PortfolioService
}

func NewPortfolioController(p PortfolioService) *PortfolioController {
	return &PortfolioController{portfolios: p}
}

type createPortfolioRequest struct {
	Name        string           `json:"name" binding:"required,max=100"`
	Currency    string           `json:"currency" binding:"omitempty,len=3,alpha"`
	InitialCash *decimal.Decimal `json:"initial_cash"`
}

type transactionRequest struct {
	Type       string           `json:"type" binding:"required,oneof=BUY SELL DEPOSIT WITHDRAW buy sell deposit withdraw"`
	Symbol     string           `json:"symbol" binding:"omitempty,ticker"`
	Quantity   *decimal.Decimal `json:"quantity"`
	Price      *decimal.Decimal `json:"price"`
	Fee        *decimal.Decimal `json:"fee"`
	Amount     *decimal.Decimal `json:"amount"`
	ExecutedAt *time.Time       `json:"executed_at"`
}

// CreatePortfolio opens a portfolio for the current user
// POST /api/v1/portfolios
func (ctrl *PortfolioController) CreatePortfolio(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req createPortfolioRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := ctrl.portfolios.CreatePortfolio(c.Request.Context(), userID, req.Name, strings.ToUpper(req.Currency), decimalOrZero(req.InitialCash))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, p)
}

// ListPortfolios returns the current user's portfolios
// GET /api/v1/portfolios
func (ctrl *PortfolioController) ListPortfolios(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := ctrl.portfolios.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

// GetPortfolio returns one portfolio
// GET /api/v1/portfolios/:id
func (ctrl *PortfolioController) GetPortfolio(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	p, err := ctrl.portfolios.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

// GetValuation marks the portfolio to market
// GET /api/v1/portfolios/:id/valuation
func (ctrl *PortfolioController) GetValuation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	v, err := ctrl.portfolios.Valuation(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, v)
}

// AddTransaction books a buy, sell, deposit or withdrawal
// POST /api/v1/portfolios/:id/transactions
func (ctrl *PortfolioController) AddTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req transactionRequest
	if !bindJSON(c, &req) {
		return
	}

	in := portfolio.TransactionInput{
		Type:     strings.ToUpper(req.Type),
		Symbol:   req.Symbol,
		Quantity: decimalOrZero(req.Quantity),
		Price:    decimalOrZero(req.Price),
		Fee:      decimalOrZero(req.Fee),
		Amount:   decimalOrZero(req.Amount),
	}
	if req.ExecutedAt != nil {
		in.ExecutedAt = *req.ExecutedAt
	}

	tx, err := ctrl.portfolios.ApplyTransaction(c.Request.Context(), userID, id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, tx)
}

// ListTransactions returns recent transactions, newest first
// GET /api/v1/portfolios/:id/transactions?limit=
func (ctrl *PortfolioController) ListTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := ctrl.portfolios.Transactions(c.Request.Context(), userID, id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}
