// Package book implements the price-time priority order book for a single
// market: four independent queues (BUY-YES, SELL-YES, BUY-NO, SELL-NO),
// each a price-sorted list of price levels with FIFO ordering within a
// level. Mirrors the PriceLevel/MarketBook shape of the reference
// order-book service retrieved alongside this engine's examples, adapted
// from decimal prices to integer cents and from a single BUY/SELL side to
// the four-queue YES/NO cross product a binary market needs.
package book

import (
	"sort"

	"github.com/predictionmkt/engine/internal/model"
)

// Level is one price point's resting orders, oldest first.
type Level struct {
	Price  int // cents
	Orders []*model.Order
}

// TotalQty is the aggregate remaining quantity resting at this level.
func (l *Level) TotalQty() int {
	total := 0
	for _, o := range l.Orders {
		total += o.Remaining()
	}
	return total
}

// Queue is one side (bid or ask) of one contract's book: price levels kept
// sorted so Best() is always levels[0].
type Queue struct {
	Side   model.OrderSide
	levels []*Level
}

func newQueue(side model.OrderSide) *Queue {
	return &Queue{Side: side}
}

// better reports whether price a should sort ahead of price b for this
// queue's side: bids sort high-to-low, asks sort low-to-high.
func (q *Queue) better(a, b int) bool {
	if q.Side == model.Buy {
		return a > b
	}
	return a < b
}

func (q *Queue) findLevelIndex(price int) (int, bool) {
	idx := sort.Search(len(q.levels), func(i int) bool {
		return !q.better(q.levels[i].Price, price) // first level not strictly better than price
	})
	if idx < len(q.levels) && q.levels[idx].Price == price {
		return idx, true
	}
	return idx, false
}

// Insert appends an order to its price level's FIFO tail, creating the
// level in sorted position if it doesn't exist yet.
func (q *Queue) Insert(o *model.Order) {
	idx, found := q.findLevelIndex(o.LimitPrice)
	if found {
		q.levels[idx].Orders = append(q.levels[idx].Orders, o)
		return
	}
	lvl := &Level{Price: o.LimitPrice, Orders: []*model.Order{o}}
	q.levels = append(q.levels, nil)
	copy(q.levels[idx+1:], q.levels[idx:])
	q.levels[idx] = lvl
}

// Remove deletes an order by ID from its price level, pruning the level if
// it empties out. Returns false if the order wasn't found.
func (q *Queue) Remove(orderID string) bool {
	for li, lvl := range q.levels {
		for oi, o := range lvl.Orders {
			if o.ID == orderID {
				lvl.Orders = append(lvl.Orders[:oi], lvl.Orders[oi+1:]...)
				if len(lvl.Orders) == 0 {
					q.levels = append(q.levels[:li], q.levels[li+1:]...)
				}
				return true
			}
		}
	}
	return false
}

// Best returns the top-of-book level, or nil if the queue is empty.
func (q *Queue) Best() *Level {
	if len(q.levels) == 0 {
		return nil
	}
	return q.levels[0]
}

// Levels exposes the sorted price levels directly, best-first, for
// callers (the matcher) that need to sweep and mutate orders in priority
// order. Callers must call PruneEmpty afterward to drop any levels they
// fully consumed.
func (q *Queue) Levels() []*Level {
	return q.levels
}

// PruneEmpty removes the front order from its level if fully filled, and
// drops the level itself if it's now empty. Called by the matcher after
// crossing the top order of a level.
func (q *Queue) PruneEmpty() {
	for len(q.levels) > 0 {
		lvl := q.levels[0]
		for len(lvl.Orders) > 0 && lvl.Orders[0].Remaining() <= 0 {
			lvl.Orders = lvl.Orders[1:]
		}
		if len(lvl.Orders) == 0 {
			q.levels = q.levels[1:]
			continue
		}
		break
	}
}

// Walk visits every resting order across all levels in priority order
// (best price first, then FIFO within a level), stopping early if fn
// returns false.
func (q *Queue) Walk(fn func(o *model.Order) bool) {
	for _, lvl := range q.levels {
		for _, o := range lvl.Orders {
			if !fn(o) {
				return
			}
		}
	}
}

// Book holds the four queues for one market's two contracts.
type Book struct {
	MarketID string
	YesBids  *Queue // BUY YES
	YesAsks  *Queue // SELL YES
	NoBids   *Queue // BUY NO
	NoAsks   *Queue // SELL NO
}

// New returns an empty book for the given market.
func New(marketID string) *Book {
	return &Book{
		MarketID: marketID,
		YesBids:  newQueue(model.Buy),
		YesAsks:  newQueue(model.Sell),
		NoBids:   newQueue(model.Buy),
		NoAsks:   newQueue(model.Sell),
	}
}

// Queue returns the queue an order with the given side/contract belongs
// to.
func (b *Book) Queue(side model.OrderSide, contract model.ContractType) *Queue {
	switch {
	case contract == model.Yes && side == model.Buy:
		return b.YesBids
	case contract == model.Yes && side == model.Sell:
		return b.YesAsks
	case contract == model.No && side == model.Buy:
		return b.NoBids
	default:
		return b.NoAsks
	}
}

// BestPrice returns the best resting price for (side, contract), and
// whether one exists.
func (b *Book) BestPrice(side model.OrderSide, contract model.ContractType) (int, bool) {
	lvl := b.Queue(side, contract).Best()
	if lvl == nil {
		return 0, false
	}
	return lvl.Price, true
}

// Snapshot is a read-only rendering of the book for API responses,
// aggregated by price level.
type Snapshot struct {
	YesBids []LevelView
	YesAsks []LevelView
	NoBids  []LevelView
	NoAsks  []LevelView
}

// LevelView is one aggregated price level in a book snapshot.
type LevelView struct {
	Price int
	Qty   int
}

func levelViews(q *Queue) []LevelView {
	views := make([]LevelView, 0, len(q.levels))
	for _, lvl := range q.levels {
		views = append(views, LevelView{Price: lvl.Price, Qty: lvl.TotalQty()})
	}
	return views
}

// Snapshot renders the current aggregated depth of all four queues.
func (b *Book) Snapshot() Snapshot {
	return Snapshot{
		YesBids: levelViews(b.YesBids),
		YesAsks: levelViews(b.YesAsks),
		NoBids:  levelViews(b.NoBids),
		NoAsks:  levelViews(b.NoAsks),
	}
}
