package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/httpx"
	"github.com/papertrade/engine/internal/model"
)

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"` // "buy" or "sell"
	Qty    int64  `json:"qty"`
}

// DepositRequest is the JSON body for POST /api/v1/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ExecuteTrade handles POST /api/v1/trade.
func (e *Engine) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		receipt *Receipt
		err     error
	)
	switch strings.ToLower(req.Side) {
	case model.SideBuy:
		receipt, err = e.Buy(r.Context(), userID, req.Symbol, req.Qty)
	case model.SideSell:
		receipt, err = e.Sell(r.Context(), userID, req.Symbol, req.Qty)
	default:
		httpx.WriteError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeTradeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, receipt)
}

// HandleDeposit handles POST /api/v1/deposit.
func (e *Engine) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acc, err := e.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, acc)
}

// GetPortfolio handles GET /api/v1/portfolio.
func (e *Engine) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	p, err := e.Portfolio(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, p)
}

// ListOrders handles GET /api/v1/orders?limit=N.
func (e *Engine) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	orders, err := e.store.ListOrders(r.Context(), userID, limit)
	if err != nil {
		httpx.WriteError(w, "failed to load orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	httpx.WriteJSON(w, http.StatusOK, orders)
}

// GetQuote handles GET /api/v1/quote?symbol=AAPL.
func (e *Engine) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		httpx.WriteError(w, "Missing symbol.", http.StatusBadRequest)
		return
	}

	q, err := e.quotes.Quote(r.Context(), symbol)
	if err != nil {
		httpx.WriteError(w, "Quote unavailable, try again.", http.StatusBadGateway)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, q)
}

// SearchSymbols handles GET /api/v1/search?q=apple.
func (e *Engine) SearchSymbols(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpx.WriteError(w, "Missing search text.", http.StatusBadRequest)
		return
	}

	res, err := e.quotes.Search(r.Context(), query)
	if err != nil {
		httpx.WriteError(w, "Search unavailable, try again.", http.StatusBadGateway)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}

// writeTradeError maps engine errors to HTTP responses. Business rejections
// carry a human-readable message; upstream and store failures get a generic
// one, never internal error text.
func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidSymbol):
		httpx.WriteError(w, "Missing symbol.", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidQty):
		httpx.WriteError(w, "Enter a valid quantity.", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidAmount):
		httpx.WriteError(w, "Enter a valid amount.", http.StatusBadRequest)
	case errors.Is(err, ErrInsufficientFunds):
		httpx.WriteError(w, "Not enough cash.", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrNoPosition):
		httpx.WriteError(w, "You have no position to sell.", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrInsufficientShares):
		httpx.WriteError(w, "You don't have that many shares.", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrQuoteUnavailable):
		httpx.WriteError(w, "Quote unavailable, try again.", http.StatusBadGateway)
	default:
		httpx.WriteError(w, "Something went wrong, try again.", http.StatusInternalServerError)
	}
}
