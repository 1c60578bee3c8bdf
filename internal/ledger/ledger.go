// Package ledger implements the accounting primitives the matching engine
// and order intake/cancel paths compose around: reserve, release, consume,
// and credit funds or shares. Every call that changes a balance appends an
// immutable model.Transaction entry, so a user's stored balance always
// equals the sum of their transaction amounts (the conservation invariant
// the whole engine is built to preserve).
//
// These are pure in-memory mutations over the caller's model.User and
// model.Position pointers; the caller (internal/matching, internal/market)
// persists the changed rows and the returned entries through
// internal/store. The Store interface has no transaction API, so those
// writes are separate calls and are not applied atomically.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// ErrLedgerInvariant is raised (via panic) when a caller's bookkeeping
// would violate a conservation invariant. Per the error handling design,
// this must never surface in a correct implementation — it is a hard
// fault, not a business error.
type ErrLedgerInvariant struct {
	Reason string
}

func (e *ErrLedgerInvariant) Error() string {
	return fmt.Sprintf("ledger: invariant violated: %s", e.Reason)
}

// Ledger stamps new transactions with a clock and ID generator so tests
// can make both deterministic.
type Ledger struct {
	Now   func() time.Time
	NewID func() string
}

// New returns a Ledger using wall-clock time and random UUIDs.
func New() *Ledger {
	return &Ledger{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.New().String() },
	}
}

func (l *Ledger) record(u *model.User, txType model.TransactionType, amount money.Cents, marketID, orderID, tradeID string, contract model.ContractType, qty int, desc string) *model.Transaction {
	tx := &model.Transaction{
		ID:           l.NewID(),
		UserID:       u.ID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: u.Balance,
		MarketID:     marketID,
		OrderID:      orderID,
		TradeID:      tradeID,
		Contract:     contract,
		Quantity:     qty,
		Description:  desc,
		CreatedAt:    l.Now(),
	}
	return tx
}

// ReserveFunds locks `amount` of a buy order's cost against the user's
// available balance. Fails with ErrInsufficientFunds if available balance
// is too small; no state changes on failure.
func (l *Ledger) ReserveFunds(u *model.User, amount money.Cents, marketID, orderID string) (*model.Transaction, error) {
	if u.AvailableBalance().LessThan(amount) {
		return nil, tradeerr.ErrInsufficientFunds
	}
	u.ReservedBalance += amount
	return l.record(u, model.TxOrderReserve, money.Zero, marketID, orderID, "", "", 0,
		fmt.Sprintf("reserved %s for order %s", amount, orderID)), nil
}

// ReleaseFunds unlocks a previously reserved amount, e.g. on cancel or on
// a price-improvement refund. Guards against releasing more than is
// reserved, which would indicate a caller bug rather than a business
// error.
func (l *Ledger) ReleaseFunds(u *model.User, amount money.Cents, marketID, orderID string) *model.Transaction {
	if amount.IsNegative() {
		panic(&ErrLedgerInvariant{Reason: "release amount must be non-negative"})
	}
	if u.ReservedBalance < amount {
		panic(&ErrLedgerInvariant{Reason: "release exceeds reserved balance"})
	}
	u.ReservedBalance -= amount
	return l.record(u, model.TxOrderRelease, money.Zero, marketID, orderID, "", "", 0,
		fmt.Sprintf("released %s for order %s", amount, orderID))
}

// ConsumeFunds permanently deducts `amount` from both balance and reserved
// balance — the buy-side leg of a fill. txType is typically TRADE_BUY or
// MINT_MATCH.
func (l *Ledger) ConsumeFunds(u *model.User, amount money.Cents, txType model.TransactionType, marketID, orderID, tradeID string, contract model.ContractType, qty int, desc string) *model.Transaction {
	if u.ReservedBalance < amount {
		panic(&ErrLedgerInvariant{Reason: "consume exceeds reserved balance"})
	}
	u.Balance -= amount
	u.ReservedBalance -= amount
	return l.record(u, txType, -amount, marketID, orderID, tradeID, contract, qty, desc)
}

// DebitFunds immediately deducts `amount` from a user's available
// balance with no prior reservation step — the mint-set leg, where cash
// leaves the account in the same instant shares are created, never
// resting as an order the way a trade's reservation does.
func (l *Ledger) DebitFunds(u *model.User, amount money.Cents, txType model.TransactionType, marketID, orderID, tradeID string, contract model.ContractType, qty int, desc string) (*model.Transaction, error) {
	if u.AvailableBalance().LessThan(amount) {
		return nil, tradeerr.ErrInsufficientFunds
	}
	u.Balance -= amount
	return l.record(u, txType, -amount, marketID, orderID, tradeID, contract, qty, desc), nil
}

// CreditFunds increments a user's balance — sell-side fills, settlement
// payouts, redeem, and refunds all flow through here.
func (l *Ledger) CreditFunds(u *model.User, amount money.Cents, txType model.TransactionType, marketID, orderID, tradeID string, contract model.ContractType, qty int, desc string) *model.Transaction {
	if amount.IsNegative() {
		panic(&ErrLedgerInvariant{Reason: "credit amount must be non-negative"})
	}
	u.Balance += amount
	return l.record(u, txType, amount, marketID, orderID, tradeID, contract, qty, desc)
}

// ReserveShares locks `qty` of `contract` against a sell order. Fails with
// ErrInsufficientPosition if the user doesn't hold enough unreserved
// shares.
func (l *Ledger) ReserveShares(pos *model.Position, contract model.ContractType, qty int, marketID, orderID, userID string) (*model.Transaction, error) {
	if pos.AvailableQty(contract) < qty {
		return nil, tradeerr.ErrInsufficientPosition
	}
	if contract == model.Yes {
		pos.ReservedYesQty += qty
	} else {
		pos.ReservedNoQty += qty
	}
	tx := &model.Transaction{
		ID:          l.NewID(),
		UserID:      userID,
		Type:        model.TxOrderReserve,
		Amount:      money.Zero,
		MarketID:    marketID,
		OrderID:     orderID,
		Contract:    contract,
		Quantity:    qty,
		Description: fmt.Sprintf("reserved %d %s shares for order %s", qty, contract, orderID),
		CreatedAt:   l.Now(),
	}
	return tx, nil
}

// ReleaseShares unlocks previously reserved shares.
func (l *Ledger) ReleaseShares(pos *model.Position, contract model.ContractType, qty int, marketID, orderID, userID string) *model.Transaction {
	if contract == model.Yes {
		if pos.ReservedYesQty < qty {
			panic(&ErrLedgerInvariant{Reason: "release exceeds reserved yes shares"})
		}
		pos.ReservedYesQty -= qty
	} else {
		if pos.ReservedNoQty < qty {
			panic(&ErrLedgerInvariant{Reason: "release exceeds reserved no shares"})
		}
		pos.ReservedNoQty -= qty
	}
	return &model.Transaction{
		ID:          l.NewID(),
		UserID:      userID,
		Type:        model.TxOrderRelease,
		Amount:      money.Zero,
		MarketID:    marketID,
		OrderID:     orderID,
		Contract:    contract,
		Quantity:    qty,
		Description: fmt.Sprintf("released %d %s shares for order %s", qty, contract, orderID),
		CreatedAt:   l.Now(),
	}
}

// ConsumeShares destroys `qty` of `contract` from the position — the
// sell-side leg of a fill, or the burn half of a merge/redeem. The caller
// stamps Contract/Quantity onto the paired money transaction it records
// for this same event.
func (l *Ledger) ConsumeShares(pos *model.Position, contract model.ContractType, qty int) {
	if contract == model.Yes {
		if pos.YesQty < qty || pos.ReservedYesQty < qty {
			panic(&ErrLedgerInvariant{Reason: "consume exceeds held/reserved yes shares"})
		}
		pos.YesQty -= qty
		pos.ReservedYesQty -= qty
	} else {
		if pos.NoQty < qty || pos.ReservedNoQty < qty {
			panic(&ErrLedgerInvariant{Reason: "consume exceeds held/reserved no shares"})
		}
		pos.NoQty -= qty
		pos.ReservedNoQty -= qty
	}
}

// DebitShares immediately destroys `qty` of `contract` from a position's
// unreserved holdings with no prior reservation step — the redeem-set
// leg, the mirror of DebitFunds for the share side of the ledger.
func (l *Ledger) DebitShares(pos *model.Position, contract model.ContractType, qty int) error {
	if pos.AvailableQty(contract) < qty {
		return tradeerr.ErrInsufficientPosition
	}
	if contract == model.Yes {
		pos.YesQty -= qty
	} else {
		pos.NoQty -= qty
	}
	return nil
}

// CreditShares adds `qty` of `contract` to the position at `priceCents`
// per share, updating the weighted cost basis — the buy-side leg of a
// fill, mint, or mint-match.
func (l *Ledger) CreditShares(pos *model.Position, contract model.ContractType, qty int, priceCents money.Cents) {
	cost := priceCents.Mul(qty)
	if contract == model.Yes {
		pos.YesQty += qty
		pos.YesCostBasis += cost
	} else {
		pos.NoQty += qty
		pos.NoCostBasis += cost
	}
}
