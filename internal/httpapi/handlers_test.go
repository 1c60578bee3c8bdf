package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/predictionmkt/engine/internal/httpapi"
	"github.com/predictionmkt/engine/internal/market"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/store"
)

// newTestEnv creates a test Handlers over an in-memory store and chi
// router wired the same way cmd/server/main.go wires the real one.
func newTestEnv(t *testing.T) (*market.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := market.NewService(ms, nil, nil)
	h := httpapi.New(svc)

	r := chi.NewRouter()
	r.Post("/api/v1/markets", h.CreateMarket)
	r.Get("/api/v1/markets", h.ListMarkets)
	r.Get("/api/v1/markets/{marketID}", h.GetMarket)
	r.Get("/api/v1/markets/{marketID}/book", h.GetBook)
	r.Get("/api/v1/markets/{marketID}/trades", h.GetTrades)
	r.Post("/api/v1/markets/{marketID}/mint", h.MintSet)
	r.Post("/api/v1/markets/{marketID}/redeem", h.RedeemSet)
	r.Post("/api/v1/markets/{marketID}/settle", h.SettleMarket)
	r.Post("/api/v1/orders", h.PlaceOrder)
	r.Delete("/api/v1/orders/{orderID}", h.CancelOrder)
	r.Get("/api/v1/users/{userID}/positions", h.GetPositions)

	return svc, ms, r
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance money.Cents) {
	t.Helper()
	if err := ms.CreateUser(context.Background(), &model.User{ID: id, Balance: balance}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetMarket(t *testing.T) {
	_, _, r := newTestEnv(t)

	w := doJSON(t, r, "POST", "/api/v1/markets", map[string]string{"title": "will it rain", "event_id": "weather-2026"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market status = %d, body = %s", w.Code, w.Body.String())
	}
	var created map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected market id in response, got %v", created)
	}

	w = doJSON(t, r, "GET", "/api/v1/markets/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get market status = %d", w.Code)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	_, _, r := newTestEnv(t)
	w := doJSON(t, r, "GET", "/api/v1/markets/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPlaceOrderEndToEnd(t *testing.T) {
	svc, ms, r := newTestEnv(t)
	m, err := svc.CreateMarket(context.Background(), "market", "")
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	seedUser(t, ms, "alice", money.FromDollars(100))

	w := doJSON(t, r, "POST", "/api/v1/orders", map[string]interface{}{
		"user_id":  "alice",
		"market_id": m.ID,
		"side":     "BUY",
		"contract": "YES",
		"type":     "LIMIT",
		"price":    50,
		"quantity": 10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("place order status = %d, body = %s", w.Code, w.Body.String())
	}

	var order map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order["status"] != "OPEN" {
		t.Fatalf("expected OPEN order, got %v", order)
	}

	orderID, _ := order["id"].(string)
	w = doJSON(t, r, "DELETE", fmt.Sprintf("/api/v1/orders/%s?user_id=alice", orderID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel order status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPlaceOrderInsufficientFundsReturns422(t *testing.T) {
	svc, ms, r := newTestEnv(t)
	m, _ := svc.CreateMarket(context.Background(), "market", "")
	seedUser(t, ms, "alice", money.FromDollars(1))

	w := doJSON(t, r, "POST", "/api/v1/orders", map[string]interface{}{
		"user_id":  "alice",
		"market_id": m.ID,
		"side":     "BUY",
		"contract": "YES",
		"type":     "LIMIT",
		"price":    50,
		"quantity": 10,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d, body = %s", w.Code, w.Body.String())
	}
}

func TestMintRedeemAndSettle(t *testing.T) {
	svc, ms, r := newTestEnv(t)
	m, _ := svc.CreateMarket(context.Background(), "market", "")
	seedUser(t, ms, "alice", money.FromDollars(100))

	w := doJSON(t, r, "POST", fmt.Sprintf("/api/v1/markets/%s/mint", m.ID), map[string]interface{}{"user_id": "alice", "quantity": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("mint status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/markets/%s/redeem", m.ID), map[string]interface{}{"user_id": "alice", "quantity": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("redeem status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/markets/%s/settle", m.ID), map[string]string{"resolution": "YES"})
	if w.Code != http.StatusOK {
		t.Fatalf("settle status = %d, body = %s", w.Code, w.Body.String())
	}

	// A second settle attempt must be rejected (idempotency).
	w = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/markets/%s/settle", m.ID), map[string]string{"resolution": "YES"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double settle, got %d", w.Code)
	}
}

func TestGetPositionsEmpty(t *testing.T) {
	_, _, r := newTestEnv(t)
	w := doJSON(t, r, "GET", "/api/v1/users/nobody/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
