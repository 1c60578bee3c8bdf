// Package matching implements the central matching algorithm: for each
// newly accepted order, attempt a DIRECT match against the same
// contract's opposite side, then (for any remainder of a LIMIT order) a
// MINT match (incoming BUY) or MERGE match (incoming SELL) against the
// other contract's same-direction book. Every matched pair drives ledger
// and position updates within the caller's single-writer event.
package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/predictionmkt/engine/internal/book"
	"github.com/predictionmkt/engine/internal/ledger"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
)

// Lookups resolves the in-memory User/Position rows a match touches.
// The caller (internal/market.Service) loads these from its store and
// writes them back after Submit returns, as separate store calls with no
// enclosing database transaction; the engine itself never talks to
// storage.
type Lookups struct {
	User     func(userID string) (*model.User, error)
	Position func(userID, marketID string) (*model.Position, error)
}

// Result is everything one Submit call produced: the (possibly mutated)
// incoming order, the trades it generated, and the ledger transactions
// those trades booked.
type Result struct {
	Order        *model.Order
	Trades       []*model.Trade
	Transactions []*model.Transaction
}

// Engine runs the matching algorithm against one market's book. It is not
// safe for concurrent use by design — callers must serialize access per
// market (see internal/matching.Loop), mirroring the single-writer model
// the teacher's WSHub.Run goroutine uses for its own shared state.
type Engine struct {
	Book   *book.Book
	Ledger *ledger.Ledger
	Market *model.Market

	seq   uint64
	now   func() time.Time
	newID func() string
}

// New builds an Engine over an empty book for the given market.
func New(market *model.Market, l *ledger.Ledger) *Engine {
	return &Engine{
		Book:   book.New(market.ID),
		Ledger: l,
		Market: market,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// NextSequence assigns the authoritative monotonic arrival order for this
// market, used as the created_at tiebreaker and for crash-recovery
// rebuild ordering.
func (e *Engine) NextSequence() uint64 {
	e.seq++
	return e.seq
}

// NextSequenceHint reports the highest sequence number assigned so far,
// without consuming one. Used by crash recovery to avoid re-issuing a
// sequence number below one a restored resting order already carries.
func (e *Engine) NextSequenceHint() uint64 {
	return e.seq
}

// SetSequenceHint advances the sequence counter to at least seq. Used by
// crash recovery while replaying persisted resting orders back into a
// freshly constructed Engine's book.
func (e *Engine) SetSequenceHint(seq uint64) {
	if seq > e.seq {
		e.seq = seq
	}
}

// Submit runs the full match attempt for a newly accepted order: it
// stamps the order's Sequence, tries DIRECT first, then, for a LIMIT
// order only, MINT (incoming BUY) or MERGE (incoming SELL) for any
// remainder, then rests the LIMIT remainder. MARKET orders get DIRECT
// matching only and never rest — the caller is responsible for refunding
// any unfilled MARKET remainder after Submit returns.
func (e *Engine) Submit(o *model.Order, lk Lookups) (*Result, error) {
	res := &Result{Order: o}
	o.Sequence = e.NextSequence()

	if err := e.matchDirect(o, lk, res); err != nil {
		return nil, err
	}

	if o.Remaining() > 0 && o.Type == model.Limit {
		var err error
		if o.Side == model.Buy {
			err = e.matchMint(o, lk, res)
		} else {
			err = e.matchMerge(o, lk, res)
		}
		if err != nil {
			return nil, err
		}
	}

	o.RefreshStatus()

	if o.Remaining() > 0 && o.Type == model.Limit && !o.Status.IsTerminal() {
		e.Book.Queue(o.Side, o.Contract).Insert(o)
	}

	return res, nil
}

// directCounterQueue returns the opposite side of the same contract's
// book that a DIRECT match sweeps.
func (e *Engine) directCounterQueue(o *model.Order) *book.Queue {
	counterSide := model.Sell
	if o.Side == model.Sell {
		counterSide = model.Buy
	}
	return e.Book.Queue(counterSide, o.Contract)
}

// directCrosses reports whether a resting order at restPrice satisfies the
// DIRECT match predicate against an aggressor order at aggPrice: a BUY
// crosses asks at or below its price, a SELL crosses bids at or above.
func directCrosses(side model.OrderSide, aggPrice, restPrice int) bool {
	if side == model.Buy {
		return restPrice <= aggPrice
	}
	return restPrice >= aggPrice
}

func (e *Engine) matchDirect(o *model.Order, lk Lookups, res *Result) error {
	q := e.directCounterQueue(o)
	for o.Remaining() > 0 {
		lvl := q.Best()
		if lvl == nil || !directCrosses(o.Side, o.LimitPrice, lvl.Price) {
			break
		}
		matchedAny := false
		for _, resting := range lvl.Orders {
			if resting.Remaining() <= 0 {
				continue
			}
			if resting.UserID == o.UserID {
				continue // self-trade prevention: skip, leave resting in book
			}
			qty := min(o.Remaining(), resting.Remaining())
			if err := e.settleDirect(o, resting, lvl.Price, qty, lk, res); err != nil {
				return err
			}
			matchedAny = true
			if o.Remaining() == 0 {
				break
			}
		}
		q.PruneEmpty()
		if !matchedAny {
			// every order at this level was a self-trade skip; nothing
			// left to cross at this price, and it can't improve.
			break
		}
	}
	return nil
}

func (e *Engine) settleDirect(aggressor, resting *model.Order, price, qty int, lk Lookups, res *Result) error {
	var buyOrder, sellOrder *model.Order
	if aggressor.Side == model.Buy {
		buyOrder, sellOrder = aggressor, resting
	} else {
		buyOrder, sellOrder = resting, aggressor
	}

	buyer, err := lk.User(buyOrder.UserID)
	if err != nil {
		return err
	}
	seller, err := lk.User(sellOrder.UserID)
	if err != nil {
		return err
	}
	buyerPos, err := lk.Position(buyOrder.UserID, e.Market.ID)
	if err != nil {
		return err
	}
	sellerPos, err := lk.Position(sellOrder.UserID, e.Market.ID)
	if err != nil {
		return err
	}

	tradePrice := money.Cents(price)
	tradeCost := tradePrice.Mul(qty)

	trade := &model.Trade{
		ID:            e.newTradeID(),
		MarketID:      e.Market.ID,
		Contract:      aggressor.Contract,
		Price:         price,
		Quantity:      qty,
		Type:          model.TradeDirect,
		BuyerOrderID:  buyOrder.ID,
		SellerOrderID: sellOrder.ID,
		BuyerUserID:   buyer.ID,
		SellerUserID:  seller.ID,
		ExecutedAt:    e.now(),
	}
	res.Trades = append(res.Trades, trade)

	// Buyer: reservation was at their own limit price; price improvement
	// (resting price better than quoted) refunds the difference.
	buyImprovement := money.Cents(buyOrder.LimitPrice - price).Mul(qty)
	if buyImprovement.IsPositive() {
		rel := e.Ledger.ReleaseFunds(buyer, buyImprovement, e.Market.ID, buyOrder.ID)
		res.Transactions = append(res.Transactions, rel)
	}
	tx := e.Ledger.ConsumeFunds(buyer, tradeCost, model.TxTradeBuy, e.Market.ID, buyOrder.ID, trade.ID, aggressor.Contract, qty,
		fmt.Sprintf("direct trade fill %d @ %dc", qty, price))
	res.Transactions = append(res.Transactions, tx)
	e.Ledger.CreditShares(buyerPos, aggressor.Contract, qty, tradePrice)

	e.Ledger.ConsumeShares(sellerPos, aggressor.Contract, qty)
	tx = e.Ledger.CreditFunds(seller, tradeCost, model.TxTradeSell, e.Market.ID, sellOrder.ID, trade.ID, aggressor.Contract, qty,
		fmt.Sprintf("direct trade fill %d @ %dc", qty, price))
	res.Transactions = append(res.Transactions, tx)

	buyOrder.FilledQuantity += qty
	sellOrder.FilledQuantity += qty
	buyOrder.RefreshStatus()
	sellOrder.RefreshStatus()

	if aggressor.Contract == model.Yes {
		e.Market.LastYesPrice = price
		e.Market.LastNoPrice = 100 - price
	} else {
		e.Market.LastNoPrice = price
		e.Market.LastYesPrice = 100 - price
	}

	return nil
}

// crossCounterQueue returns the BUY (mint) or SELL (merge) queue of the
// opposite contract that a cross-book match sweeps.
func (e *Engine) crossCounterQueue(o *model.Order) *book.Queue {
	return e.Book.Queue(o.Side, o.Contract.Opposite())
}

func (e *Engine) matchMint(o *model.Order, lk Lookups, res *Result) error {
	q := e.crossCounterQueue(o) // opposite-contract BUY book
	for o.Remaining() > 0 {
		lvl := q.Best() // highest counterparty price first (bid-sorted queue)
		if lvl == nil || o.LimitPrice+lvl.Price < 100 {
			break
		}
		matchedAny := false
		for _, resting := range lvl.Orders {
			if resting.Remaining() <= 0 {
				continue
			}
			if err := e.settleMint(o, resting, lk, res); err != nil {
				return err
			}
			matchedAny = true
			if o.Remaining() == 0 {
				break
			}
		}
		q.PruneEmpty()
		if !matchedAny {
			break
		}
	}
	return nil
}

func (e *Engine) settleMint(o, resting *model.Order, lk Lookups, res *Result) error {
	qty := min(o.Remaining(), resting.Remaining())

	var yesOrder, noOrder *model.Order
	if o.Contract == model.Yes {
		yesOrder, noOrder = o, resting
	} else {
		yesOrder, noOrder = resting, o
	}

	yesUser, err := lk.User(yesOrder.UserID)
	if err != nil {
		return err
	}
	noUser, err := lk.User(noOrder.UserID)
	if err != nil {
		return err
	}
	yesPos, err := lk.Position(yesOrder.UserID, e.Market.ID)
	if err != nil {
		return err
	}
	noPos, err := lk.Position(noOrder.UserID, e.Market.ID)
	if err != nil {
		return err
	}

	pYes, pNo := yesOrder.LimitPrice, noOrder.LimitPrice

	// The resting leg pays exactly its own quoted price. The aggressor
	// pays 100 minus the resting leg's price, never its own quote — the
	// two always sum to exactly 100c/set.
	var aggressorOrder, restingOrder *model.Order
	var aggressorUser, restingUser *model.User
	var aggressorPos, restingPos *model.Position
	var aggressorContract, restingContract model.ContractType
	if o == yesOrder {
		aggressorOrder, restingOrder = yesOrder, noOrder
		aggressorUser, restingUser = yesUser, noUser
		aggressorPos, restingPos = yesPos, noPos
		aggressorContract, restingContract = model.Yes, model.No
	} else {
		aggressorOrder, restingOrder = noOrder, yesOrder
		aggressorUser, restingUser = noUser, yesUser
		aggressorPos, restingPos = noPos, yesPos
		aggressorContract, restingContract = model.No, model.Yes
	}

	restingPrice := restingOrder.LimitPrice
	aggressorCost := money.Cents(100 - restingPrice)
	restingCost := money.Cents(restingPrice)

	trade := &model.Trade{
		ID:            e.newTradeID(),
		MarketID:      e.Market.ID,
		Contract:      model.Yes,
		Price:         100,
		Quantity:      qty,
		Type:          model.TradeMint,
		BuyerOrderID:  yesOrder.ID,
		SellerOrderID: noOrder.ID,
		BuyerUserID:   yesUser.ID,
		SellerUserID:  noUser.ID,
		ExecutedAt:    e.now(),
	}
	res.Trades = append(res.Trades, trade)

	// The aggressor reserved at its own limit price; refund the
	// difference between that reservation and its actual cost. The
	// resting leg's reservation already equals restingCost exactly, so
	// it gets no refund.
	aggressorImprovement := money.Cents(aggressorOrder.LimitPrice).Sub(aggressorCost).Mul(qty)
	if aggressorImprovement.IsPositive() {
		rel := e.Ledger.ReleaseFunds(aggressorUser, aggressorImprovement, e.Market.ID, aggressorOrder.ID)
		res.Transactions = append(res.Transactions, rel)
	}

	tx := e.Ledger.ConsumeFunds(aggressorUser, aggressorCost.Mul(qty), model.TxMintMatch, e.Market.ID, aggressorOrder.ID, trade.ID, aggressorContract, qty,
		fmt.Sprintf("mint match %d pairs", qty))
	res.Transactions = append(res.Transactions, tx)
	tx = e.Ledger.ConsumeFunds(restingUser, restingCost.Mul(qty), model.TxMintMatch, e.Market.ID, restingOrder.ID, trade.ID, restingContract, qty,
		fmt.Sprintf("mint match %d pairs", qty))
	res.Transactions = append(res.Transactions, tx)

	e.Ledger.CreditShares(aggressorPos, aggressorContract, qty, aggressorCost)
	e.Ledger.CreditShares(restingPos, restingContract, qty, restingCost)

	yesOrder.FilledQuantity += qty
	noOrder.FilledQuantity += qty
	yesOrder.RefreshStatus()
	noOrder.RefreshStatus()

	e.Market.LastYesPrice = pYes
	e.Market.LastNoPrice = pNo

	return nil
}

func (e *Engine) matchMerge(o *model.Order, lk Lookups, res *Result) error {
	q := e.crossCounterQueue(o) // opposite-contract SELL book
	for o.Remaining() > 0 {
		lvl := q.Best() // lowest counterparty price first (ask-sorted queue)
		if lvl == nil || o.LimitPrice+lvl.Price > 100 {
			break
		}
		matchedAny := false
		for _, resting := range lvl.Orders {
			if resting.Remaining() <= 0 {
				continue
			}
			if err := e.settleMerge(o, resting, lk, res); err != nil {
				return err
			}
			matchedAny = true
			if o.Remaining() == 0 {
				break
			}
		}
		q.PruneEmpty()
		if !matchedAny {
			break
		}
	}
	return nil
}

func (e *Engine) settleMerge(o, resting *model.Order, lk Lookups, res *Result) error {
	qty := min(o.Remaining(), resting.Remaining())

	var yesOrder, noOrder *model.Order
	if o.Contract == model.Yes {
		yesOrder, noOrder = o, resting
	} else {
		yesOrder, noOrder = resting, o
	}

	yesUser, err := lk.User(yesOrder.UserID)
	if err != nil {
		return err
	}
	noUser, err := lk.User(noOrder.UserID)
	if err != nil {
		return err
	}
	yesPos, err := lk.Position(yesOrder.UserID, e.Market.ID)
	if err != nil {
		return err
	}
	noPos, err := lk.Position(noOrder.UserID, e.Market.ID)
	if err != nil {
		return err
	}

	pYes, pNo := yesOrder.LimitPrice, noOrder.LimitPrice
	// Shortfall (100 - (pYes+pNo)) is never credited to anyone: the
	// system destroys a $1 set for less than $1, and keeps the
	// difference implicitly.

	trade := &model.Trade{
		ID:            e.newTradeID(),
		MarketID:      e.Market.ID,
		Contract:      model.Yes,
		Price:         0,
		Quantity:      qty,
		Type:          model.TradeMerge,
		BuyerOrderID:  yesOrder.ID,
		SellerOrderID: noOrder.ID,
		BuyerUserID:   yesUser.ID,
		SellerUserID:  noUser.ID,
		ExecutedAt:    e.now(),
	}
	res.Trades = append(res.Trades, trade)

	e.Ledger.ConsumeShares(yesPos, model.Yes, qty)
	e.Ledger.ConsumeShares(noPos, model.No, qty)

	tx := e.Ledger.CreditFunds(yesUser, money.Cents(pYes).Mul(qty), model.TxMergeMatch, e.Market.ID, yesOrder.ID, trade.ID, model.Yes, qty,
		fmt.Sprintf("merge match %d pairs", qty))
	res.Transactions = append(res.Transactions, tx)
	tx = e.Ledger.CreditFunds(noUser, money.Cents(pNo).Mul(qty), model.TxMergeMatch, e.Market.ID, noOrder.ID, trade.ID, model.No, qty,
		fmt.Sprintf("merge match %d pairs", qty))
	res.Transactions = append(res.Transactions, tx)

	yesOrder.FilledQuantity += qty
	noOrder.FilledQuantity += qty
	yesOrder.RefreshStatus()
	noOrder.RefreshStatus()

	e.Market.LastYesPrice = pYes
	e.Market.LastNoPrice = pNo

	return nil
}

func (e *Engine) newTradeID() string {
	return e.newID()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
