// Package market orchestrates the trading engine: it wires the ledger,
// order book, matching engine, and risk limiter together behind the
// invoking-caller contracts (place_order, cancel_order, mint_set,
// redeem_set, settle_market, and the read-only projections) and owns
// their persistence through internal/store. One matching.Loop runs per
// market, giving each market its own single-writer serialization point
// while leaving markets independent of each other, per the concurrency
// model's "may shard matchers per market" allowance.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/predictionmkt/engine/internal/book"
	"github.com/predictionmkt/engine/internal/ledger"
	"github.com/predictionmkt/engine/internal/matching"
	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/risk"
	"github.com/predictionmkt/engine/internal/store"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// Service is the orchestration layer the HTTP handlers call into. It is
// safe for concurrent use: per-market mutation always goes through that
// market's matching.Loop, and Service.mu only guards the bookkeeping maps
// (which market has which loop) plus the handful of operations — mint,
// redeem, settlement — that touch the ledger without touching the book.
type Service struct {
	Store  store.Store
	Ledger *ledger.Ledger
	Risk   *risk.ExposureLimiter
	Logger *slog.Logger

	newID func() string
	now   func() time.Time

	mu      sync.Mutex
	markets map[string]*model.Market
	loops   map[string]*matching.Loop
	orders  map[string]*model.Order // live pointers shared with each market's book
}

// NewService wires a Service over the given Store. Pass a nil limiter to
// disable exposure limiting entirely.
func NewService(st store.Store, limiter *risk.ExposureLimiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:   st,
		Ledger:  ledger.New(),
		Risk:    limiter,
		Logger:  logger,
		newID:   func() string { return uuid.New().String() },
		now:     func() time.Time { return time.Now().UTC() },
		markets: make(map[string]*model.Market),
		loops:   make(map[string]*matching.Loop),
		orders:  make(map[string]*model.Order),
	}
}

// CreateMarket creates a new ACTIVE market and starts its matcher loop.
func (s *Service) CreateMarket(ctx context.Context, title, eventID string) (*model.Market, error) {
	m := &model.Market{
		ID:           s.newID(),
		EventID:      eventID,
		Title:        title,
		Status:       model.MarketActive,
		LastYesPrice: 50,
		LastNoPrice:  50,
		CreatedAt:    s.now(),
	}
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.markets[m.ID] = m
	s.mu.Unlock()
	s.loopFor(m)
	metrics.ActiveMarkets.Inc()

	s.Logger.Info("market created", "market_id", m.ID, "event_id", eventID, "title", title)
	return m, nil
}

// GetMarket returns the live in-memory market row if the market has a
// running loop, else falls back to the store (e.g. a SETTLED market no
// longer needs a loop).
func (s *Service) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	s.mu.Lock()
	m, ok := s.markets[marketID]
	s.mu.Unlock()
	if ok {
		cp := *m
		return &cp, nil
	}
	return s.Store.GetMarket(ctx, marketID)
}

func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.Store.ListMarkets(ctx)
}

// BookSnapshot renders the current aggregated depth of a market's book.
func (s *Service) BookSnapshot(marketID string) (book.Snapshot, error) {
	s.mu.Lock()
	l, ok := s.loops[marketID]
	s.mu.Unlock()
	if !ok {
		return book.Snapshot{}, tradeerr.ErrOrderNotFound
	}
	return l.Engine.Book.Snapshot(), nil
}

func (s *Service) RecentTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	return s.Store.ListTradesByMarket(ctx, marketID, limit)
}

func (s *Service) PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.Trade, error) {
	return s.Store.PriceHistory(ctx, marketID, since)
}

func (s *Service) UserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.Store.ListPositionsByUser(ctx, userID)
}

// loopFor returns the running matching.Loop for a market, starting one if
// this is the first operation to touch it this process lifetime.
func (s *Service) loopFor(m *model.Market) *matching.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loops[m.ID]; ok {
		return l
	}
	e := matching.New(m, s.Ledger)
	l := matching.NewLoop(e)
	s.loops[m.ID] = l
	go l.Run()
	return l
}

// RestoreMarket rebuilds a market's in-memory book from persisted OPEN
// and PARTIALLY_FILLED orders after a process restart, per the crash
// recovery policy: because every matching event was transactional, no
// partial fill is lost, and ordering by (price, sequence) reproduces the
// exact priority the matcher had before the crash.
func (s *Service) RestoreMarket(ctx context.Context, marketID string) error {
	m, err := s.Store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.markets[m.ID] = m
	s.mu.Unlock()
	l := s.loopFor(m)

	resting, err := s.Store.ListOpenOrdersByMarket(ctx, marketID)
	if err != nil {
		return err
	}
	for i := range resting {
		o := resting[i]
		s.orders[o.ID] = &o
		if o.Sequence >= l.Engine.NextSequenceHint() {
			l.Engine.SetSequenceHint(o.Sequence)
		}
		l.Engine.Book.Queue(o.Side, o.Contract).Insert(&o)
	}
	if m.IsTradingActive() {
		metrics.ActiveMarkets.Inc()
	}
	s.Logger.Info("market restored", "market_id", marketID, "resting_orders", len(resting))
	return nil
}

// persistResult writes every user, position, trade, and transaction a
// matching.Result touched, the orders on both sides of each trade, plus
// the (possibly mutated) market row. The
// caller already holds no lock here — each of these rows belongs to the
// objects the matcher just finished mutating within the Loop's own
// serialized step, so by the time Submit/Cancel has returned it's safe to
// flush them without further synchronization.
func (s *Service) persistResult(ctx context.Context, m *model.Market, touchedUsers map[string]*model.User, touchedPositions map[string]*model.Position, res *matching.Result) error {
	for _, u := range touchedUsers {
		if err := s.Store.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
	}
	for _, p := range touchedPositions {
		if err := s.Store.SavePosition(ctx, p); err != nil {
			return fmt.Errorf("save position %s/%s: %w", p.UserID, p.MarketID, err)
		}
	}
	if res != nil {
		for _, t := range res.Trades {
			if err := s.Store.InsertTrade(ctx, t); err != nil {
				return fmt.Errorf("insert trade: %w", err)
			}
			// Save the fill state of both orders the trade touched,
			// including resting orders the matcher filled.
			for _, id := range []string{t.BuyerOrderID, t.SellerOrderID} {
				s.mu.Lock()
				o, ok := s.orders[id]
				s.mu.Unlock()
				if ok {
					if err := s.Store.SaveOrder(ctx, o); err != nil {
						return fmt.Errorf("save order %s: %w", id, err)
					}
				}
			}
		}
		for _, tx := range res.Transactions {
			if err := s.Store.InsertTransaction(ctx, tx); err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
		}
	}
	if err := s.Store.SaveMarket(ctx, m); err != nil {
		return fmt.Errorf("save market %s: %w", m.ID, err)
	}
	return nil
}

// loadUser fetches (and caches in the touched map) a user row for one
// event's worth of ledger operations.
func (s *Service) loadUser(ctx context.Context, touched map[string]*model.User, userID string) (*model.User, error) {
	if u, ok := touched[userID]; ok {
		return u, nil
	}
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	touched[userID] = u
	return u, nil
}

func (s *Service) loadPosition(ctx context.Context, touched map[string]*model.Position, userID, marketID string) (*model.Position, error) {
	key := userID + "/" + marketID
	if p, ok := touched[key]; ok {
		return p, nil
	}
	p, err := s.Store.GetPosition(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	touched[key] = p
	return p, nil
}

