package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predictionmkt/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. This is the
// projection the concurrency model allows to lag the in-memory book by
// at most one committed matching event.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) SaveUser(ctx context.Context, u *model.User) error {
	if err := s.primary.SaveUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(u.ID))
	return nil
}

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SaveMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.SavePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.UserID, p.MarketID))
	s.rdb.Del(ctx, userPositionsKey(p.UserID))
	return nil
}

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.CreateOrder(ctx, o)
}

func (s *CachedStore) SaveOrder(ctx context.Context, o *model.Order) error {
	return s.primary.SaveOrder(ctx, o)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	if data, err := s.rdb.Get(ctx, userKey(id)).Bytes(); err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}
	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheUser(ctx, u)
	return u, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if data, err := s.rdb.Get(ctx, marketKey(id)).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	if data, err := s.rdb.Get(ctx, positionKey(userID, marketID)).Bytes(); err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}
	p, err := s.primary.GetPosition(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(userID, marketID), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	if data, err := s.rdb.Get(ctx, userPositionsKey(userID)).Bytes(); err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}
	positions, err := s.primary.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, userPositionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached: either write-rare admin reads, or already
// ordered/filtered result sets not worth the invalidation complexity) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListPositionsByMarket(ctx, marketID)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.ListOpenOrdersByMarket(ctx, marketID)
}

func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByMarket(ctx, marketID, limit)
}

func (s *CachedStore) PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.Trade, error) {
	return s.primary.PriceHistory(ctx, marketID, since)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheUser(ctx context.Context, u *model.User) {
	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(u.ID), data, s.ttl)
	}
}

func userKey(id string) string               { return fmt.Sprintf("user:%s", id) }
func marketKey(id string) string              { return fmt.Sprintf("market:%s", id) }
func positionKey(userID, marketID string) string { return fmt.Sprintf("position:%s:%s", userID, marketID) }
func userPositionsKey(userID string) string   { return fmt.Sprintf("positions:%s", userID) }
