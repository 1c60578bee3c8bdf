// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/predictionmkt/engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer over the read-heavy
// projections (market snapshot, user positions).
type Store interface {
	// --- Users ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	SaveUser(ctx context.Context, u *model.User) error

	// --- Markets ---

	CreateMarket(ctx context.Context, m *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)
	SaveMarket(ctx context.Context, m *model.Market) error

	// --- Positions ---

	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)
	SavePosition(ctx context.Context, p *model.Position) error
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
	ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// --- Orders ---

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	SaveOrder(ctx context.Context, o *model.Order) error
	// ListOpenOrdersByMarket returns OPEN/PARTIALLY_FILLED orders ordered
	// by (price, sequence) so the matcher can rebuild its in-memory book
	// after a restart per the crash-recovery policy.
	ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)

	// --- Trades ---

	InsertTrade(ctx context.Context, t *model.Trade) error
	ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error)
	PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.Trade, error)

	// --- Transactions (ledger) ---

	InsertTransaction(ctx context.Context, tx *model.Transaction) error
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
}
