// Package httpapi exposes the trading engine's internal/market.Service
// over HTTP, in the same handler-methods-on-a-service style the rest of
// this codebase's HTTP surface uses: each handler decodes a request body
// (or URL params), calls straight into the service, and writes a JSON
// response or a mapped error.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/market"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// Handlers wraps a market.Service with its HTTP bindings.
type Handlers struct {
	Service *market.Service
}

// New builds an HTTP handler set over the given service.
func New(svc *market.Service) *Handlers {
	return &Handlers{Service: svc}
}

// --- Request/response DTOs. A market's last-trade prices cross the wire
// as dollar-scale decimal.Decimal values; order prices cross as integer
// cents. Internally everything stays integer cents. ---

type createMarketRequest struct {
	Title   string `json:"title"`
	EventID string `json:"event_id"`
}

type placeOrderRequest struct {
	UserID   string `json:"user_id"`
	MarketID string `json:"market_id"`
	Side     string `json:"side"`     // "BUY" or "SELL"
	Contract string `json:"contract"` // "YES" or "NO"
	Type     string `json:"type"`     // "LIMIT" or "MARKET"
	Price    int    `json:"price"`    // cents, 1-99; ignored for MARKET
	Quantity int    `json:"quantity"`
}

type mintRedeemRequest struct {
	UserID   string `json:"user_id"`
	Quantity int    `json:"quantity"`
}

type settleRequest struct {
	Resolution string `json:"resolution"` // "YES" or "NO"
}

type orderView struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	MarketID       string `json:"market_id"`
	Side           string `json:"side"`
	Contract       string `json:"contract"`
	Type           string `json:"type"`
	Price          int    `json:"price"`
	Quantity       int    `json:"quantity"`
	FilledQuantity int    `json:"filled_quantity"`
	Status         string `json:"status"`
}

func newOrderView(o *model.Order) orderView {
	return orderView{
		ID:             o.ID,
		UserID:         o.UserID,
		MarketID:       o.MarketID,
		Side:           string(o.Side),
		Contract:       string(o.Contract),
		Type:           string(o.Type),
		Price:          o.LimitPrice,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Status:         string(o.Status),
	}
}

type marketView struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	Resolution string          `json:"resolution,omitempty"`
	LastYes    decimal.Decimal `json:"last_yes_price"`
	LastNo     decimal.Decimal `json:"last_no_price"`
}

func newMarketView(m *model.Market) marketView {
	return marketView{
		ID:         m.ID,
		EventID:    m.EventID,
		Title:      m.Title,
		Status:     string(m.Status),
		Resolution: string(m.Resolution),
		LastYes:    centsToDollars(m.LastYesPrice),
		LastNo:     centsToDollars(m.LastNoPrice),
	}
}

func centsToDollars(priceCents int) decimal.Decimal {
	return decimal.New(int64(priceCents), -2)
}

// --- Markets ---

// CreateMarket handles POST /api/v1/markets
func (h *Handlers) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	m, err := h.Service.CreateMarket(r.Context(), req.Title, req.EventID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, newMarketView(m))
}

// ListMarkets handles GET /api/v1/markets
func (h *Handlers) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.Service.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	views := make([]marketView, 0, len(markets))
	for i := range markets {
		views = append(views, newMarketView(&markets[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handlers) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	m, err := h.Service.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m))
}

// GetBook handles GET /api/v1/markets/{marketID}/book
func (h *Handlers) GetBook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	snap, err := h.Service.BookSnapshot(marketID)
	if err != nil {
		writeError(w, "market not found or not currently trading", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades
func (h *Handlers) GetTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	trades, err := h.Service.RecentTrades(r.Context(), marketID, 100)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetHistory handles GET /api/v1/markets/{marketID}/history
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	history, err := h.Service.PriceHistory(r.Context(), marketID, time.Time{})
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle
func (h *Handlers) SettleMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.SettleMarket(r.Context(), marketID, model.Resolution(req.Resolution)); err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// MintSet handles POST /api/v1/markets/{marketID}/mint
func (h *Handlers) MintSet(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req mintRedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Service.MintSet(r.Context(), req.UserID, marketID, req.Quantity); err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

// RedeemSet handles POST /api/v1/markets/{marketID}/redeem
func (h *Handlers) RedeemSet(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req mintRedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Service.RedeemSet(r.Context(), req.UserID, marketID, req.Quantity); err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

// --- Orders ---

// PlaceOrder handles POST /api/v1/orders
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	contract, err := parseContract(req.Contract)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	otype, err := parseOrderType(req.Type)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}

	o, err := h.Service.PlaceOrder(r.Context(), req.UserID, req.MarketID, side, contract, otype, req.Price, req.Quantity)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(o))
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}

	o, err := h.Service.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

// --- Positions ---

// GetPositions handles GET /api/v1/users/{userID}/positions
func (h *Handlers) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	positions, err := h.Service.UserPositions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// --- helpers ---

func parseSide(s string) (model.OrderSide, error) {
	switch model.OrderSide(s) {
	case model.Buy, model.Sell:
		return model.OrderSide(s), nil
	default:
		return "", errors.New("side must be BUY or SELL")
	}
}

func parseContract(s string) (model.ContractType, error) {
	switch model.ContractType(s) {
	case model.Yes, model.No:
		return model.ContractType(s), nil
	default:
		return "", errors.New("contract must be YES or NO")
	}
}

func parseOrderType(s string) (model.OrderType, error) {
	if s == "" {
		return model.Limit, nil
	}
	switch model.OrderType(s) {
	case model.Limit, model.MarketOrder:
		return model.OrderType(s), nil
	default:
		return "", errors.New("type must be LIMIT or MARKET")
	}
}

// writeBusinessError maps the closed set of tradeerr business errors to
// HTTP status codes; anything unrecognized is a 500.
func writeBusinessError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tradeerr.ErrInvalidPrice),
		errors.Is(err, tradeerr.ErrInvalidQuantity):
		status = http.StatusBadRequest
	case errors.Is(err, tradeerr.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tradeerr.ErrInsufficientFunds),
		errors.Is(err, tradeerr.ErrInsufficientPosition),
		errors.Is(err, tradeerr.ErrPerMarketLimitExceeded),
		errors.Is(err, tradeerr.ErrEventLimitExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, tradeerr.ErrMarketNotActive),
		errors.Is(err, tradeerr.ErrOrderNotCancellable),
		errors.Is(err, tradeerr.ErrMarketAlreadySettled):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
