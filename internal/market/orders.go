package market

import (
	"context"
	"fmt"

	"github.com/predictionmkt/engine/internal/matching"
	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// marketBuyBound and marketSellBound are the most-aggressive LIMIT prices
// a MARKET order is translated to at intake, for reservation sizing and
// the DIRECT crossing test. Unlike a LIMIT order at the same price, a
// MARKET order is never offered to MINT/MERGE matching and never rests.
const (
	marketBuyBound  = 99
	marketSellBound = 1
)

// PlaceOrder validates, reserves against, persists, and submits a new
// order to its market's matcher, per the order intake sequence: validate
// → risk check → reserve → persist OPEN → enqueue → persist match
// results.
func (s *Service) PlaceOrder(ctx context.Context, userID, marketID string, side model.OrderSide, contract model.ContractType, otype model.OrderType, limitPrice, qty int) (*model.Order, error) {
	if qty < 1 {
		return nil, tradeerr.ErrInvalidQuantity
	}

	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return nil, tradeerr.ErrOrderNotFound
	}
	if !m.IsTradingActive() {
		return nil, tradeerr.ErrMarketNotActive
	}

	boundPrice := limitPrice
	if otype == model.MarketOrder {
		if side == model.Buy {
			boundPrice = marketBuyBound
		} else {
			boundPrice = marketSellBound
		}
	} else if boundPrice < 1 || boundPrice > 99 {
		return nil, tradeerr.ErrInvalidPrice
	}

	o := &model.Order{
		ID:         s.newID(),
		UserID:     userID,
		MarketID:   marketID,
		Side:       side,
		Contract:   contract,
		Type:       otype,
		LimitPrice: boundPrice,
		Quantity:   qty,
		Status:     model.OrderOpen,
		CreatedAt:  s.now(),
	}

	touchedUsers := map[string]*model.User{}
	touchedPositions := map[string]*model.Position{}

	if err := s.checkExposure(ctx, m, o); err != nil {
		metrics.ExposureLimitRejections.WithLabelValues(err.Error()).Inc()
		return nil, err
	}

	if err := s.reserveForOrder(ctx, m, o, touchedUsers, touchedPositions); err != nil {
		return nil, err
	}
	o.ReservedCents = money.Cents(boundPrice).Mul(qty)

	if err := s.Store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}
	for _, u := range touchedUsers {
		if err := s.Store.SaveUser(ctx, u); err != nil {
			return nil, err
		}
	}
	for _, p := range touchedPositions {
		if err := s.Store.SavePosition(ctx, p); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()

	loop := s.loopFor(m)
	lk := s.lookupsFor(ctx, touchedUsers, touchedPositions)

	start := s.now()
	res, err := loop.Submit(ctx, o, lk)
	if err != nil {
		return nil, err
	}
	// Submit mutates loop.Engine.Market's last-price fields in place;
	// persist that live object rather than the pre-match snapshot in m.
	m = loop.Engine.Market

	// A MARKET order never rests: whatever it couldn't fill is refunded
	// and the order terminates immediately.
	if otype == model.MarketOrder && o.Remaining() > 0 {
		s.refundMarketRemainder(o, touchedUsers, touchedPositions)
		o.Status = model.OrderCancelled
	}

	elapsed := s.now().Sub(start).Seconds()
	seenTypes := map[model.TradeType]bool{}
	for _, t := range res.Trades {
		metrics.TradesTotal.WithLabelValues(string(t.Type)).Inc()
		metrics.MarketVolume.WithLabelValues(marketID, string(t.Type)).Add(float64(t.Quantity))
		if !seenTypes[t.Type] {
			metrics.MatchLatency.WithLabelValues(string(t.Type)).Observe(elapsed)
			seenTypes[t.Type] = true
		}
	}

	if err := s.Store.SaveOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("persist matched order: %w", err)
	}
	if err := s.persistResult(ctx, m, touchedUsers, touchedPositions, res); err != nil {
		return nil, err
	}

	return o, nil
}

// lookupsFor builds the matching.Lookups the engine calls while settling
// fills for this one Submit event, caching every row it loads into the
// per-call touched maps so the caller can persist exactly what changed.
func (s *Service) lookupsFor(ctx context.Context, touchedUsers map[string]*model.User, touchedPositions map[string]*model.Position) matching.Lookups {
	return matching.Lookups{
		User: func(userID string) (*model.User, error) {
			return s.loadUser(ctx, touchedUsers, userID)
		},
		Position: func(userID, marketID string) (*model.Position, error) {
			return s.loadPosition(ctx, touchedPositions, userID, marketID)
		},
	}
}

// checkExposure runs the risk limiter, if configured, against the user's
// net signed exposure in this market and, when the market has an event,
// across every market sharing that event.
func (s *Service) checkExposure(ctx context.Context, m *model.Market, o *model.Order) error {
	if s.Risk == nil {
		return nil
	}

	positions, err := s.Store.ListPositionsByUser(ctx, o.UserID)
	if err != nil {
		return err
	}
	existing := make(map[string]int, len(positions))
	marketEvent := make(map[string]string, len(positions))
	for _, p := range positions {
		existing[p.MarketID] = p.YesQty - p.NoQty
		other, err := s.GetMarket(ctx, p.MarketID)
		if err != nil {
			continue
		}
		marketEvent[p.MarketID] = other.EventID
	}
	marketEvent[m.ID] = m.EventID

	delta := o.Quantity
	if (o.Contract == model.No) != (o.Side == model.Sell) {
		delta = -o.Quantity
	}

	return s.Risk.CheckLimit(m.ID, m.EventID, delta, existing, marketEvent)
}

// reserveForOrder locks the funds (BUY) or shares (SELL) an order needs
// before it can be persisted and enqueued.
func (s *Service) reserveForOrder(ctx context.Context, m *model.Market, o *model.Order, touchedUsers map[string]*model.User, touchedPositions map[string]*model.Position) error {
	if o.Side == model.Buy {
		u, err := s.loadUser(ctx, touchedUsers, o.UserID)
		if err != nil {
			return err
		}
		amount := money.Cents(o.LimitPrice).Mul(o.Quantity)
		tx, err := s.Ledger.ReserveFunds(u, amount, m.ID, o.ID)
		if err != nil {
			return err
		}
		if err := s.Store.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return nil
	}

	pos, err := s.loadPosition(ctx, touchedPositions, o.UserID, m.ID)
	if err != nil {
		return err
	}
	tx, err := s.Ledger.ReserveShares(pos, o.Contract, o.Quantity, m.ID, o.ID, o.UserID)
	if err != nil {
		return err
	}
	if err := s.Store.InsertTransaction(ctx, tx); err != nil {
		return err
	}
	return nil
}

// refundMarketRemainder releases whatever a MARKET order's unfilled
// remainder still holds reserved, since it will never get a chance to
// rest and fill later.
func (s *Service) refundMarketRemainder(o *model.Order, touchedUsers map[string]*model.User, touchedPositions map[string]*model.Position) {
	remaining := o.Remaining()
	if remaining <= 0 {
		return
	}
	if o.Side == model.Buy {
		if u, ok := touchedUsers[o.UserID]; ok {
			_ = s.Ledger.ReleaseFunds(u, money.Cents(o.LimitPrice).Mul(remaining), o.MarketID, o.ID)
		}
		return
	}
	key := o.UserID + "/" + o.MarketID
	if p, ok := touchedPositions[key]; ok {
		_ = s.Ledger.ReleaseShares(p, o.Contract, remaining, o.MarketID, o.ID, o.UserID)
	}
}

// CancelOrder removes a resting order from its book and releases its
// remaining reservation. MARKET orders are never cancellable: they
// either fill immediately or terminate with a refund inside PlaceOrder,
// per the resolved open question on MARKET order lifecycle.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok {
		stored, err := s.Store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, tradeerr.ErrOrderNotFound
		}
		o = stored
	}
	if o.UserID != userID {
		return nil, tradeerr.ErrOrderNotFound
	}
	if o.Type == model.MarketOrder {
		return nil, tradeerr.ErrOrderNotCancellable
	}
	if o.Status.IsTerminal() {
		return nil, tradeerr.ErrOrderNotCancellable
	}

	m, err := s.GetMarket(ctx, o.MarketID)
	if err != nil {
		return nil, err
	}
	loop := s.loopFor(m)
	found, err := loop.Cancel(ctx, o.ID, o.Side, o.Contract)
	if err != nil {
		return nil, err
	}
	if !found {
		// Raced with a fill in the matcher's own serialized step; the
		// order is no longer resting, so there's nothing left to cancel.
		return nil, tradeerr.ErrOrderNotCancellable
	}

	remaining := o.Remaining()
	touchedUsers := map[string]*model.User{}
	touchedPositions := map[string]*model.Position{}
	if o.Side == model.Buy {
		u, err := s.loadUser(ctx, touchedUsers, o.UserID)
		if err != nil {
			return nil, err
		}
		tx := s.Ledger.ReleaseFunds(u, money.Cents(o.LimitPrice).Mul(remaining), o.MarketID, o.ID)
		if err := s.Store.InsertTransaction(ctx, tx); err != nil {
			return nil, err
		}
		if err := s.Store.SaveUser(ctx, u); err != nil {
			return nil, err
		}
	} else {
		p, err := s.loadPosition(ctx, touchedPositions, o.UserID, o.MarketID)
		if err != nil {
			return nil, err
		}
		tx := s.Ledger.ReleaseShares(p, o.Contract, remaining, o.MarketID, o.ID, o.UserID)
		if err := s.Store.InsertTransaction(ctx, tx); err != nil {
			return nil, err
		}
		if err := s.Store.SavePosition(ctx, p); err != nil {
			return nil, err
		}
	}

	o.Status = model.OrderCancelled
	if err := s.Store.SaveOrder(ctx, o); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.orders, o.ID)
	s.mu.Unlock()

	return o, nil
}
