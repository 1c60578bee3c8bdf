package book

import (
	"testing"

	"github.com/predictionmkt/engine/internal/model"
)

func order(id string, side model.OrderSide, price, qty int) *model.Order {
	return &model.Order{ID: id, Side: side, Contract: model.Yes, LimitPrice: price, Quantity: qty, Status: model.OrderOpen}
}

func TestQueueInsertSortedBids(t *testing.T) {
	q := newQueue(model.Buy)
	q.Insert(order("o1", model.Buy, 50, 10))
	q.Insert(order("o2", model.Buy, 70, 10))
	q.Insert(order("o3", model.Buy, 60, 10))

	got := make([]int, 0, 3)
	q.Walk(func(o *model.Order) bool {
		got = append(got, o.LimitPrice)
		return true
	})
	want := []int{70, 60, 50}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("bid order[%d] = %d, want %d (got %v)", i, got[i], p, got)
		}
	}
}

func TestQueueInsertSortedAsks(t *testing.T) {
	q := newQueue(model.Sell)
	q.Insert(order("o1", model.Sell, 50, 10))
	q.Insert(order("o2", model.Sell, 30, 10))
	q.Insert(order("o3", model.Sell, 40, 10))

	got := make([]int, 0, 3)
	q.Walk(func(o *model.Order) bool {
		got = append(got, o.LimitPrice)
		return true
	})
	want := []int{30, 40, 50}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("ask order[%d] = %d, want %d (got %v)", i, got[i], p, got)
		}
	}
}

func TestQueueFIFOWithinLevel(t *testing.T) {
	q := newQueue(model.Buy)
	q.Insert(order("first", model.Buy, 50, 10))
	q.Insert(order("second", model.Buy, 50, 10))

	lvl := q.Best()
	if lvl.Orders[0].ID != "first" || lvl.Orders[1].ID != "second" {
		t.Fatalf("FIFO violated: %+v", lvl.Orders)
	}
}

func TestQueueRemove(t *testing.T) {
	q := newQueue(model.Buy)
	q.Insert(order("o1", model.Buy, 50, 10))
	q.Insert(order("o2", model.Buy, 50, 10))

	if !q.Remove("o1") {
		t.Fatal("expected Remove to find o1")
	}
	lvl := q.Best()
	if len(lvl.Orders) != 1 || lvl.Orders[0].ID != "o2" {
		t.Fatalf("unexpected level contents after remove: %+v", lvl.Orders)
	}

	if !q.Remove("o2") {
		t.Fatal("expected Remove to find o2")
	}
	if q.Best() != nil {
		t.Fatal("expected empty queue after removing all orders")
	}
}

func TestQueueRemoveNotFound(t *testing.T) {
	q := newQueue(model.Buy)
	q.Insert(order("o1", model.Buy, 50, 10))
	if q.Remove("missing") {
		t.Fatal("expected Remove to report false for missing order")
	}
}

func TestBookQueueRouting(t *testing.T) {
	b := New("m1")
	yesBid := order("yb", model.Buy, 60, 5)
	yesBid.Contract = model.Yes
	noAsk := order("na", model.Sell, 40, 5)
	noAsk.Contract = model.No

	b.Queue(model.Buy, model.Yes).Insert(yesBid)
	b.Queue(model.Sell, model.No).Insert(noAsk)

	if p, ok := b.BestPrice(model.Buy, model.Yes); !ok || p != 60 {
		t.Fatalf("yes best bid = %d,%v want 60,true", p, ok)
	}
	if p, ok := b.BestPrice(model.Sell, model.No); !ok || p != 40 {
		t.Fatalf("no best ask = %d,%v want 40,true", p, ok)
	}
	if _, ok := b.BestPrice(model.Sell, model.Yes); ok {
		t.Fatal("expected no yes asks resting")
	}
}

func TestPruneEmptyDropsFilledOrdersAndLevels(t *testing.T) {
	q := newQueue(model.Buy)
	o := order("o1", model.Buy, 50, 10)
	o.FilledQuantity = 10
	q.Insert(o)
	q.Insert(order("o2", model.Buy, 40, 5))

	q.PruneEmpty()
	lvl := q.Best()
	if lvl == nil || lvl.Price != 40 {
		t.Fatalf("expected 50c level pruned, got best=%+v", lvl)
	}
}

func TestSnapshotAggregatesQty(t *testing.T) {
	b := New("m1")
	b.YesBids.Insert(order("o1", model.Buy, 50, 10))
	b.YesBids.Insert(order("o2", model.Buy, 50, 5))

	snap := b.Snapshot()
	if len(snap.YesBids) != 1 || snap.YesBids[0].Qty != 15 {
		t.Fatalf("unexpected snapshot: %+v", snap.YesBids)
	}
}
