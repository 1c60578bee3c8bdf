package market

import (
	"context"
	"fmt"

	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// SettleMarket resolves a market to YES or NO, paying out $1 per winning
// share and zeroing losing positions. Per the idempotency property,
// settling an already-SETTLED market is rejected rather than silently
// re-paying — a double settlement would double-credit every winner.
func (s *Service) SettleMarket(ctx context.Context, marketID string, resolution model.Resolution) error {
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return tradeerr.ErrOrderNotFound
	}
	if m.Status == model.MarketSettled {
		return tradeerr.ErrMarketAlreadySettled
	}
	if resolution != model.ResolutionYes && resolution != model.ResolutionNo {
		return tradeerr.ErrInvalidPrice
	}

	if err := s.cancelAllOpenOrders(ctx, m); err != nil {
		return err
	}

	positions, err := s.Store.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return err
	}
	winning := model.Yes
	if resolution == model.ResolutionNo {
		winning = model.No
	}
	losing := winning.Opposite()

	for i := range positions {
		pos := &positions[i]
		u, err := s.Store.GetUser(ctx, pos.UserID)
		if err != nil {
			return err
		}

		winQty := pos.Qty(winning)
		loseQty := pos.Qty(losing)

		if winQty > 0 {
			payout := money.Cents(setPriceCents).Mul(winQty)
			tx := s.Ledger.CreditFunds(u, payout, model.TxSettlementWin, marketID, "", "", winning, winQty,
				fmt.Sprintf("settlement payout for %d winning %s shares", winQty, winning))
			if err := s.Store.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}
		if loseQty > 0 {
			tx := &model.Transaction{
				ID:           s.newID(),
				UserID:       u.ID,
				Type:         model.TxSettlementLoss,
				Amount:       money.Zero,
				BalanceAfter: u.Balance,
				MarketID:     marketID,
				Contract:     losing,
				Quantity:     loseQty,
				Description:  fmt.Sprintf("settlement zeroed %d losing %s shares", loseQty, losing),
				CreatedAt:    s.now(),
			}
			if err := s.Store.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}

		pos.YesQty, pos.NoQty = 0, 0
		pos.YesCostBasis, pos.NoCostBasis = money.Zero, money.Zero
		if err := s.Store.SavePosition(ctx, pos); err != nil {
			return err
		}
		if err := s.Store.SaveUser(ctx, u); err != nil {
			return err
		}
	}

	now := s.now()
	m.Status = model.MarketSettled
	m.Resolution = resolution
	m.ResolvedAt = &now
	if err := s.Store.SaveMarket(ctx, m); err != nil {
		return err
	}

	s.mu.Lock()
	s.markets[m.ID] = m
	if l, ok := s.loops[m.ID]; ok {
		l.Stop()
		delete(s.loops, m.ID)
	}
	s.mu.Unlock()
	metrics.ActiveMarkets.Dec()

	s.Logger.Info("market settled", "market_id", marketID, "resolution", resolution, "positions_paid", len(positions))
	return nil
}

// CancelMarket administratively voids a market: every open order is
// cancelled and reservations released, then every position's cost basis
// is refunded in cash (no winner/loser distinction, since the market
// never resolved to an outcome).
func (s *Service) CancelMarket(ctx context.Context, marketID string) error {
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return tradeerr.ErrOrderNotFound
	}
	if m.Status != model.MarketActive {
		return tradeerr.ErrMarketAlreadySettled
	}

	if err := s.cancelAllOpenOrders(ctx, m); err != nil {
		return err
	}

	positions, err := s.Store.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return err
	}
	for i := range positions {
		pos := &positions[i]
		refund := pos.YesCostBasis + pos.NoCostBasis
		if refund > 0 {
			u, err := s.Store.GetUser(ctx, pos.UserID)
			if err != nil {
				return err
			}
			tx := s.Ledger.CreditFunds(u, refund, model.TxRefund, marketID, "", "", "", 0,
				"market cancelled: cost basis refund")
			if err := s.Store.InsertTransaction(ctx, tx); err != nil {
				return err
			}
			if err := s.Store.SaveUser(ctx, u); err != nil {
				return err
			}
		}
		pos.YesQty, pos.NoQty = 0, 0
		pos.YesCostBasis, pos.NoCostBasis = money.Zero, money.Zero
		if err := s.Store.SavePosition(ctx, pos); err != nil {
			return err
		}
	}

	m.Status = model.MarketCancelled
	if err := s.Store.SaveMarket(ctx, m); err != nil {
		return err
	}

	s.mu.Lock()
	s.markets[m.ID] = m
	if l, ok := s.loops[m.ID]; ok {
		l.Stop()
		delete(s.loops, m.ID)
	}
	s.mu.Unlock()
	metrics.ActiveMarkets.Dec()

	s.Logger.Info("market cancelled", "market_id", marketID, "positions_refunded", len(positions))
	return nil
}

// cancelAllOpenOrders removes every resting order from a market's book
// and releases its reservation, used by both SettleMarket and
// CancelMarket before they touch positions.
func (s *Service) cancelAllOpenOrders(ctx context.Context, m *model.Market) error {
	open, err := s.Store.ListOpenOrdersByMarket(ctx, m.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	l, hasLoop := s.loops[m.ID]
	s.mu.Unlock()

	for i := range open {
		o := &open[i]
		if hasLoop {
			l.Cancel(ctx, o.ID, o.Side, o.Contract)
		}
		remaining := o.Remaining()
		if remaining > 0 {
			if o.Side == model.Buy {
				u, err := s.Store.GetUser(ctx, o.UserID)
				if err != nil {
					return err
				}
				tx := s.Ledger.ReleaseFunds(u, money.Cents(o.LimitPrice).Mul(remaining), o.MarketID, o.ID)
				if err := s.Store.InsertTransaction(ctx, tx); err != nil {
					return err
				}
				if err := s.Store.SaveUser(ctx, u); err != nil {
					return err
				}
			} else {
				pos, err := s.Store.GetPosition(ctx, o.UserID, o.MarketID)
				if err != nil {
					return err
				}
				tx := s.Ledger.ReleaseShares(pos, o.Contract, remaining, o.MarketID, o.ID, o.UserID)
				if err := s.Store.InsertTransaction(ctx, tx); err != nil {
					return err
				}
				if err := s.Store.SavePosition(ctx, pos); err != nil {
					return err
				}
			}
		}
		o.Status = model.OrderCancelled
		if err := s.Store.SaveOrder(ctx, o); err != nil {
			return err
		}
		s.mu.Lock()
		delete(s.orders, o.ID)
		s.mu.Unlock()
	}
	return nil
}
