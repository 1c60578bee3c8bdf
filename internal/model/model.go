// Package model defines the core domain types of the trading engine:
// users, markets, positions, orders, trades, and the ledger transaction
// log. All monetary fields use money.Cents — never float64.
package model

import (
	"time"

	"github.com/predictionmkt/engine/internal/money"
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketActive    MarketStatus = "ACTIVE"
	MarketSettled   MarketStatus = "SETTLED"
	MarketCancelled MarketStatus = "CANCELLED"
)

// Resolution is the winning side once a market settles.
type Resolution string

const (
	ResolutionNone Resolution = ""
	ResolutionYes  Resolution = "YES"
	ResolutionNo   Resolution = "NO"
)

// OrderSide is which side of the book an order rests on.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// ContractType distinguishes the YES and NO contract of a market.
type ContractType string

const (
	Yes ContractType = "YES"
	No  ContractType = "NO"
)

// Opposite returns the other contract type of the same market.
func (c ContractType) Opposite() ContractType {
	if c == Yes {
		return No
	}
	return Yes
}

// OrderType distinguishes resting limit orders from sweep-only market orders.
type OrderType string

const (
	Limit       OrderType = "LIMIT"
	MarketOrder OrderType = "MARKET"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the order can no longer be matched or cancelled.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// TradeType distinguishes the three ways a pair of orders can clear.
type TradeType string

const (
	TradeDirect TradeType = "DIRECT"
	TradeMint   TradeType = "MINT"
	TradeMerge  TradeType = "MERGE"
)

// TransactionType enumerates every ledger entry kind, per the engine's
// external-interface transaction type enumeration.
type TransactionType string

const (
	TxDeposit        TransactionType = "DEPOSIT"
	TxWithdrawal     TransactionType = "WITHDRAWAL"
	TxTradeBuy       TransactionType = "TRADE_BUY"
	TxTradeSell      TransactionType = "TRADE_SELL"
	TxSettlementWin  TransactionType = "SETTLEMENT_WIN"
	TxSettlementLoss TransactionType = "SETTLEMENT_LOSS"
	TxOrderReserve   TransactionType = "ORDER_RESERVE"
	TxOrderRelease   TransactionType = "ORDER_RELEASE"
	TxRefund         TransactionType = "REFUND"
	TxMint           TransactionType = "MINT"
	TxRedeem         TransactionType = "REDEEM"
	TxMintMatch      TransactionType = "MINT_MATCH"
	TxMergeMatch     TransactionType = "MERGE_MATCH"
)

// User holds a trader's cash balance. ReservedBalance is always <= Balance;
// AvailableBalance is the difference.
type User struct {
	ID              string
	Balance         money.Cents
	ReservedBalance money.Cents
}

// AvailableBalance is the portion of Balance not locked by resting orders.
func (u *User) AvailableBalance() money.Cents {
	return u.Balance - u.ReservedBalance
}

// Market is a single binary YES/NO event market.
type Market struct {
	ID           string
	EventID      string // groups related markets for exposure limiting; "" if standalone
	Title        string
	Status       MarketStatus
	Resolution   Resolution
	LastYesPrice int // cents, 1-99
	LastNoPrice  int // cents, 1-99
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// IsTradingActive reports whether the market accepts new orders, mint,
// redeem, and cancel requests.
func (m *Market) IsTradingActive() bool {
	return m.Status == MarketActive
}

// Position is one user's holdings of YES/NO shares in one market.
type Position struct {
	UserID         string
	MarketID       string
	YesQty         int
	NoQty          int
	ReservedYesQty int
	ReservedNoQty  int
	YesCostBasis   money.Cents
	NoCostBasis    money.Cents
}

// Qty returns the held quantity of the given contract type.
func (p *Position) Qty(c ContractType) int {
	if c == Yes {
		return p.YesQty
	}
	return p.NoQty
}

// ReservedQty returns the reserved quantity of the given contract type.
func (p *Position) ReservedQty(c ContractType) int {
	if c == Yes {
		return p.ReservedYesQty
	}
	return p.ReservedNoQty
}

// AvailableQty is the quantity not locked by a resting sell order.
func (p *Position) AvailableQty(c ContractType) int {
	return p.Qty(c) - p.ReservedQty(c)
}

// Order is a single resting or aggressing order in a market's book.
type Order struct {
	ID             string
	UserID         string
	MarketID       string
	Side           OrderSide
	Contract       ContractType
	Type           OrderType
	LimitPrice     int // cents, 1-99; meaningful for LIMIT only
	Quantity       int
	FilledQuantity int
	Status         OrderStatus
	ReservedCents  money.Cents // limit price x quantity recorded at intake; not updated as the order fills
	CreatedAt      time.Time
	Sequence       uint64 // matcher-assigned monotonic tiebreaker
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int { return o.Quantity - o.FilledQuantity }

// RefreshStatus derives OPEN/PARTIALLY_FILLED/FILLED from FilledQuantity.
// Never called once the order is CANCELLED (terminal).
func (o *Order) RefreshStatus() {
	if o.Status == OrderCancelled {
		return
	}
	switch {
	case o.FilledQuantity >= o.Quantity:
		o.Status = OrderFilled
	case o.FilledQuantity > 0:
		o.Status = OrderPartiallyFilled
	default:
		o.Status = OrderOpen
	}
}

// Trade is an immutable record of one matched fill.
type Trade struct {
	ID            string
	MarketID      string
	Contract      ContractType
	Price         int // cents; 1-99 DIRECT, 100 MINT, 0 MERGE
	Quantity      int
	Type          TradeType
	BuyerOrderID  string
	SellerOrderID string
	BuyerUserID   string
	SellerUserID  string
	ExecutedAt    time.Time
}

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID           string
	UserID       string
	Type         TransactionType
	Amount       money.Cents // signed
	BalanceAfter money.Cents
	MarketID     string // "" if not market-scoped
	OrderID      string
	TradeID      string
	Contract     ContractType // "" if not a share movement
	Quantity     int          // 0 if not a share movement
	Description  string
	CreatedAt    time.Time
}
