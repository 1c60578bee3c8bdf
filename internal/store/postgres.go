package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary columns are BIGINT cents — no NUMERIC, no float — matching the
// engine's fixed-point money type all the way down to the wire.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, reserved_balance) VALUES ($1, $2, $3)`,
		u.ID, int64(u.Balance), int64(u.ReservedBalance),
	)
	return err
}

// GetUser selects the row FOR UPDATE. The query runs directly on the
// pool, outside any transaction, so the row lock ends with the statement
// and does not span a matching event; serialization of fills comes from
// the single-writer matcher alone.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance, reserved int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance, reserved_balance FROM users WHERE id = $1 FOR UPDATE`, id).
		Scan(&u.ID, &balance, &reserved)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Balance, u.ReservedBalance = money.Cents(balance), money.Cents(reserved)
	return &u, nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = $2, reserved_balance = $3 WHERE id = $1`,
		u.ID, int64(u.Balance), int64(u.ReservedBalance),
	)
	return err
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, event_id, title, status, resolution, last_yes_price, last_no_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.EventID, m.Title, m.Status, m.Resolution, m.LastYesPrice, m.LastNoPrice, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id, title, status, resolution, last_yes_price, last_no_price, created_at, resolved_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.EventID, &m.Title, &m.Status, &m.Resolution, &m.LastYesPrice, &m.LastNoPrice, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, title, status, resolution, last_yes_price, last_no_price, created_at, resolved_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.EventID, &m.Title, &m.Status, &m.Resolution, &m.LastYesPrice, &m.LastNoPrice, &m.CreatedAt, &m.ResolvedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SaveMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, resolution = $3, last_yes_price = $4, last_no_price = $5, resolved_at = $6
		 WHERE id = $1`,
		m.ID, m.Status, m.Resolution, m.LastYesPrice, m.LastNoPrice, m.ResolvedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	var p model.Position
	var yesCost, noCost int64
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, market_id, yes_qty, no_qty, reserved_yes_qty, reserved_no_qty, yes_cost_basis, no_cost_basis
		 FROM positions WHERE user_id = $1 AND market_id = $2 FOR UPDATE`, userID, marketID).
		Scan(&p.UserID, &p.MarketID, &p.YesQty, &p.NoQty, &p.ReservedYesQty, &p.ReservedNoQty, &yesCost, &noCost)
	if err != nil {
		return &model.Position{UserID: userID, MarketID: marketID}, nil
	}
	p.YesCostBasis, p.NoCostBasis = money.Cents(yesCost), money.Cents(noCost)
	return &p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_qty, no_qty, reserved_yes_qty, reserved_no_qty, yes_cost_basis, no_cost_basis)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, market_id) DO UPDATE SET
		   yes_qty = EXCLUDED.yes_qty, no_qty = EXCLUDED.no_qty,
		   reserved_yes_qty = EXCLUDED.reserved_yes_qty, reserved_no_qty = EXCLUDED.reserved_no_qty,
		   yes_cost_basis = EXCLUDED.yes_cost_basis, no_cost_basis = EXCLUDED.no_cost_basis`,
		p.UserID, p.MarketID, p.YesQty, p.NoQty, p.ReservedYesQty, p.ReservedNoQty, int64(p.YesCostBasis), int64(p.NoCostBasis),
	)
	return err
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	return s.queryPositions(ctx, `WHERE user_id = $1`, userID)
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.queryPositions(ctx, `WHERE market_id = $1`, marketID)
}

func (s *PostgresStore) queryPositions(ctx context.Context, where string, arg string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, yes_qty, no_qty, reserved_yes_qty, reserved_no_qty, yes_cost_basis, no_cost_basis
		 FROM positions `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var yesCost, noCost int64
		if err := rows.Scan(&p.UserID, &p.MarketID, &p.YesQty, &p.NoQty, &p.ReservedYesQty, &p.ReservedNoQty, &yesCost, &noCost); err != nil {
			return nil, err
		}
		p.YesCostBasis, p.NoCostBasis = money.Cents(yesCost), money.Cents(noCost)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, market_id, side, contract, type, limit_price, quantity, filled_quantity, status, reserved_cents, created_at, sequence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.UserID, o.MarketID, o.Side, o.Contract, o.Type, o.LimitPrice, o.Quantity, o.FilledQuantity, o.Status,
		int64(o.ReservedCents), o.CreatedAt, o.Sequence,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	var reserved int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, market_id, side, contract, type, limit_price, quantity, filled_quantity, status, reserved_cents, created_at, sequence
		 FROM orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&o.ID, &o.UserID, &o.MarketID, &o.Side, &o.Contract, &o.Type, &o.LimitPrice, &o.Quantity, &o.FilledQuantity, &o.Status,
			&reserved, &o.CreatedAt, &o.Sequence)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	o.ReservedCents = money.Cents(reserved)
	return &o, nil
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET filled_quantity = $2, status = $3, reserved_cents = $4, sequence = $5 WHERE id = $1`,
		o.ID, o.FilledQuantity, o.Status, int64(o.ReservedCents), o.Sequence,
	)
	return err
}

func (s *PostgresStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, side, contract, type, limit_price, quantity, filled_quantity, status, reserved_cents, created_at, sequence
		 FROM orders WHERE market_id = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED')
		 ORDER BY limit_price, sequence`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var reserved int64
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &o.Side, &o.Contract, &o.Type, &o.LimitPrice, &o.Quantity, &o.FilledQuantity, &o.Status,
			&reserved, &o.CreatedAt, &o.Sequence); err != nil {
			return nil, err
		}
		o.ReservedCents = money.Cents(reserved)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, contract, price, quantity, type, buyer_order_id, seller_order_id, buyer_user_id, seller_user_id, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.MarketID, t.Contract, t.Price, t.Quantity, t.Type, t.BuyerOrderID, t.SellerOrderID, t.BuyerUserID, t.SellerUserID, t.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, contract, price, quantity, type, buyer_order_id, seller_order_id, buyer_user_id, seller_user_id, executed_at
		 FROM trades WHERE market_id = $1 ORDER BY executed_at DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, contract, price, quantity, type, buyer_order_id, seller_order_id, buyer_user_id, seller_user_id, executed_at
		 FROM trades WHERE market_id = $1 AND executed_at >= $2 ORDER BY executed_at ASC`, marketID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, balance_after, market_id, order_id, trade_id, contract, quantity, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.UserID, tx.Type, int64(tx.Amount), int64(tx.BalanceAfter), tx.MarketID, tx.OrderID, tx.TradeID, tx.Contract, tx.Quantity, tx.Description, tx.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount, balance_after, market_id, order_id, trade_id, contract, quantity, description, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount, balanceAfter int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount, &balanceAfter, &t.MarketID, &t.OrderID, &t.TradeID, &t.Contract, &t.Quantity, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, t.BalanceAfter = money.Cents(amount), money.Cents(balanceAfter)
		out = append(out, t)
	}
	return out, rows.Err()
}

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.Contract, &t.Price, &t.Quantity, &t.Type, &t.BuyerOrderID, &t.SellerOrderID, &t.BuyerUserID, &t.SellerUserID, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
