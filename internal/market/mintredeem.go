package market

import (
	"context"
	"fmt"

	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// setPriceCents is the fixed cost (and payout) of one complete YES+NO
// set: a set always settles for exactly $1, so minting or redeeming one
// is a cash-for-shares swap at par, never subject to market price.
const setPriceCents = 100

// MintSet debits qty dollars of cash and credits qty YES + qty NO shares
// to the user's position in one market, per the mint operation: this
// creates shares directly, independent of any order or match (the
// matcher's MINT match is the other way new shares come into being).
// Forbidden once a market has settled, since there is no longer a
// complete-set payout to back the new shares.
func (s *Service) MintSet(ctx context.Context, userID, marketID string, qty int) error {
	if qty < 1 {
		return tradeerr.ErrInvalidQuantity
	}
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return tradeerr.ErrOrderNotFound
	}
	if !m.IsTradingActive() {
		return tradeerr.ErrMarketNotActive
	}

	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	pos, err := s.Store.GetPosition(ctx, userID, marketID)
	if err != nil {
		return err
	}

	cost := money.Cents(setPriceCents).Mul(qty)
	tx, err := s.Ledger.DebitFunds(u, cost, model.TxMint, marketID, "", "", "", qty,
		fmt.Sprintf("minted %d sets", qty))
	if err != nil {
		return err
	}

	s.Ledger.CreditShares(pos, model.Yes, qty, setPriceCents/2)
	s.Ledger.CreditShares(pos, model.No, qty, setPriceCents/2)

	if err := s.Store.SaveUser(ctx, u); err != nil {
		return err
	}
	if err := s.Store.SavePosition(ctx, pos); err != nil {
		return err
	}
	return s.Store.InsertTransaction(ctx, tx)
}

// RedeemSet burns qty YES + qty NO shares from the user's position and
// credits qty dollars of cash, the inverse of MintSet. Forbidden once a
// market has settled: after settlement, shares are worth their
// settlement payout, not a complete-set redemption (see SettleMarket).
func (s *Service) RedeemSet(ctx context.Context, userID, marketID string, qty int) error {
	if qty < 1 {
		return tradeerr.ErrInvalidQuantity
	}
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return tradeerr.ErrOrderNotFound
	}
	if !m.IsTradingActive() {
		return tradeerr.ErrMarketNotActive
	}

	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	pos, err := s.Store.GetPosition(ctx, userID, marketID)
	if err != nil {
		return err
	}

	if pos.AvailableQty(model.Yes) < qty || pos.AvailableQty(model.No) < qty {
		return tradeerr.ErrInsufficientPosition
	}
	if err := s.Ledger.DebitShares(pos, model.Yes, qty); err != nil {
		return err
	}
	if err := s.Ledger.DebitShares(pos, model.No, qty); err != nil {
		return err
	}

	payout := money.Cents(setPriceCents).Mul(qty)
	tx := s.Ledger.CreditFunds(u, payout, model.TxRedeem, marketID, "", "", "", qty,
		fmt.Sprintf("redeemed %d sets", qty))

	if err := s.Store.SaveUser(ctx, u); err != nil {
		return err
	}
	if err := s.Store.SavePosition(ctx, pos); err != nil {
		return err
	}
	return s.Store.InsertTransaction(ctx, tx)
}
