package matching

import (
	"testing"
	"time"

	"github.com/predictionmkt/engine/internal/ledger"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
)

// harness wires an Engine against an in-memory user/position table and
// assigns deterministic IDs, so fixtures read the way the scenarios in
// the testable-properties section are written: dollars and share counts,
// not opaque UUIDs.
type harness struct {
	t         *testing.T
	engine    *Engine
	users     map[string]*model.User
	positions map[string]*model.Position
	idSeq     int
}

func newHarness(t *testing.T) *harness {
	market := &model.Market{ID: "m1", Status: model.MarketActive}
	l := ledger.New()
	l.Now = func() time.Time { return time.Unix(0, 0).UTC() }
	e := New(market, l)
	e.now = func() time.Time { return time.Unix(0, 0).UTC() }
	h := &harness{
		t:         t,
		engine:    e,
		users:     map[string]*model.User{},
		positions: map[string]*model.Position{},
	}
	e.newID = func() string {
		h.idSeq++
		return "gen-id"
	}
	return h
}

func (h *harness) addUser(id string, balanceDollars int64) *model.User {
	u := &model.User{ID: id, Balance: money.FromDollars(balanceDollars)}
	h.users[id] = u
	return u
}

func (h *harness) addPosition(userID string, yesQty, noQty int) *model.Position {
	p := &model.Position{UserID: userID, MarketID: h.engine.Market.ID, YesQty: yesQty, NoQty: noQty}
	h.positions[userID] = p
	return p
}

func (h *harness) lookups() Lookups {
	return Lookups{
		User: func(id string) (*model.User, error) { return h.users[id], nil },
		Position: func(userID, marketID string) (*model.Position, error) {
			p, ok := h.positions[userID]
			if !ok {
				p = &model.Position{UserID: userID, MarketID: marketID}
				h.positions[userID] = p
			}
			return p, nil
		},
	}
}

func (h *harness) newOrder(user string, side model.OrderSide, contract model.ContractType, price, qty int) *model.Order {
	return &model.Order{
		ID:         user + "-" + string(side) + "-" + string(contract),
		UserID:     user,
		MarketID:   h.engine.Market.ID,
		Side:       side,
		Contract:   contract,
		Type:       model.Limit,
		LimitPrice: price,
		Quantity:   qty,
		Status:     model.OrderOpen,
		Sequence:   h.engine.NextSequence(),
	}
}

// reserveBuy mimics the intake step: reserve price*qty against the buyer
// before handing the order to the engine.
func (h *harness) reserveBuy(o *model.Order) {
	amount := money.Cents(o.LimitPrice).Mul(o.Quantity)
	if _, err := h.engine.Ledger.ReserveFunds(h.users[o.UserID], amount, o.MarketID, o.ID); err != nil {
		h.t.Fatalf("reserve funds: %v", err)
	}
}

func (h *harness) reserveSell(o *model.Order) {
	pos := h.positions[o.UserID]
	if _, err := h.engine.Ledger.ReserveShares(pos, o.Contract, o.Quantity, o.MarketID, o.ID, o.UserID); err != nil {
		h.t.Fatalf("reserve shares: %v", err)
	}
}

func TestS1SimpleDirectFill(t *testing.T) {
	h := newHarness(t)
	a := h.addUser("A", 100)
	h.addPosition("A", 0, 0)
	h.addUser("B", 0)
	h.addPosition("B", 10, 0)

	buy := h.newOrder("A", model.Buy, model.Yes, 60, 10)
	h.reserveBuy(buy)
	if _, err := h.engine.Submit(buy, h.lookups()); err != nil {
		t.Fatalf("submit buy: %v", err)
	}

	sell := h.newOrder("B", model.Sell, model.Yes, 55, 10)
	h.reserveSell(sell)
	res, err := h.engine.Submit(sell, h.lookups())
	if err != nil {
		t.Fatalf("submit sell: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Type != model.TradeDirect || trade.Price != 60 || trade.Quantity != 10 {
		t.Fatalf("unexpected trade: %+v", trade)
	}

	if a.Balance != money.FromDollars(94) {
		t.Fatalf("A balance = %v, want 94.00", a.Balance)
	}
	if h.positions["A"].YesQty != 10 {
		t.Fatalf("A yes qty = %d, want 10", h.positions["A"].YesQty)
	}
	if h.positions["A"].YesCostBasis != money.FromDollars(6) {
		t.Fatalf("A cost basis = %v, want 6.00", h.positions["A"].YesCostBasis)
	}
	if h.users["B"].Balance != money.FromDollars(6) {
		t.Fatalf("B balance = %v, want 6.00", h.users["B"].Balance)
	}
	if h.positions["B"].YesQty != 0 {
		t.Fatalf("B yes qty = %d, want 0", h.positions["B"].YesQty)
	}
}

func TestS2PartialFillThenRest(t *testing.T) {
	h := newHarness(t)
	h.addUser("A", 100)
	h.addPosition("A", 0, 0)
	h.addUser("B", 0)
	h.addPosition("B", 4, 0)

	buy := h.newOrder("A", model.Buy, model.Yes, 50, 10)
	h.reserveBuy(buy)
	if _, err := h.engine.Submit(buy, h.lookups()); err != nil {
		t.Fatalf("submit buy: %v", err)
	}

	sell := h.newOrder("B", model.Sell, model.Yes, 50, 4)
	h.reserveSell(sell)
	res, err := h.engine.Submit(sell, h.lookups())
	if err != nil {
		t.Fatalf("submit sell: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Quantity != 4 {
		t.Fatalf("unexpected trades: %+v", res.Trades)
	}

	if buy.Status != model.OrderPartiallyFilled || buy.FilledQuantity != 4 {
		t.Fatalf("buy order state = %+v", buy)
	}
	wantReservedRemaining := money.Cents(50).Mul(6)
	if h.users["A"].ReservedBalance != wantReservedRemaining {
		t.Fatalf("A reserved balance = %v, want %v", h.users["A"].ReservedBalance, wantReservedRemaining)
	}
	if sell.Status != model.OrderFilled || sell.Remaining() != 0 {
		t.Fatalf("sell order state = %+v", sell)
	}

	lvl := h.engine.Book.YesBids.Best()
	if lvl == nil || lvl.Orders[0].Remaining() != 6 {
		t.Fatalf("expected 6 remaining resting on book, got %+v", lvl)
	}
}

func TestS3MintMatch(t *testing.T) {
	h := newHarness(t)
	a := h.addUser("A", 1000)
	h.addPosition("A", 0, 0)
	b := h.addUser("B", 1000)
	h.addPosition("B", 0, 0)

	buyYes := h.newOrder("A", model.Buy, model.Yes, 70, 5)
	h.reserveBuy(buyYes)
	if _, err := h.engine.Submit(buyYes, h.lookups()); err != nil {
		t.Fatalf("submit buy yes: %v", err)
	}

	buyNo := h.newOrder("B", model.Buy, model.No, 35, 5)
	h.reserveBuy(buyNo)
	res, err := h.engine.Submit(buyNo, h.lookups())
	if err != nil {
		t.Fatalf("submit buy no: %v", err)
	}

	if len(res.Trades) != 1 || res.Trades[0].Type != model.TradeMint || res.Trades[0].Price != 100 {
		t.Fatalf("unexpected trades: %+v", res.Trades)
	}

	// A rests first (buyYes @ 70) and pays exactly its own quoted price;
	// B is the aggressor (buyNo @ 35) and pays 100 minus A's price, never
	// its own quote. The two sum to exactly 100c/set: a MINT must collect
	// a full dollar per set minted, with nothing fabricated and nothing
	// left uncollected.
	wantACost := money.Cents(70).Mul(5)      // 350: resting leg pays its own price
	wantBCost := money.Cents(100 - 70).Mul(5) // 150: aggressor pays 100 - resting price
	gotACost := money.FromDollars(1000) - a.Balance
	gotBCost := money.FromDollars(1000) - b.Balance
	if gotACost != wantACost {
		t.Fatalf("A cost = %v, want %v", gotACost, wantACost)
	}
	if gotBCost != wantBCost {
		t.Fatalf("B cost = %v, want %v", gotBCost, wantBCost)
	}
	if gotACost+gotBCost != money.Cents(100).Mul(5) {
		t.Fatalf("total collected = %v, want exactly %v (100c/set * 5 sets): MINT must conserve money", gotACost+gotBCost, money.Cents(100).Mul(5))
	}
	if h.positions["A"].YesQty != 5 {
		t.Fatalf("A yes qty = %d, want 5", h.positions["A"].YesQty)
	}
	if h.positions["B"].NoQty != 5 {
		t.Fatalf("B no qty = %d, want 5", h.positions["B"].NoQty)
	}
	if a.ReservedBalance != 0 || b.ReservedBalance != 0 {
		t.Fatalf("expected all reservations released: A=%v B=%v", a.ReservedBalance, b.ReservedBalance)
	}
}

func TestS4MergeMatch(t *testing.T) {
	h := newHarness(t)
	a := h.addUser("A", 0)
	h.addPosition("A", 10, 0)
	b := h.addUser("B", 0)
	h.addPosition("B", 0, 10)

	sellYes := h.newOrder("A", model.Sell, model.Yes, 60, 10)
	h.reserveSell(sellYes)
	if _, err := h.engine.Submit(sellYes, h.lookups()); err != nil {
		t.Fatalf("submit sell yes: %v", err)
	}

	sellNo := h.newOrder("B", model.Sell, model.No, 30, 10)
	h.reserveSell(sellNo)
	res, err := h.engine.Submit(sellNo, h.lookups())
	if err != nil {
		t.Fatalf("submit sell no: %v", err)
	}

	if len(res.Trades) != 1 || res.Trades[0].Type != model.TradeMerge || res.Trades[0].Price != 0 {
		t.Fatalf("unexpected trades: %+v", res.Trades)
	}
	if a.Balance != money.FromDollars(6) {
		t.Fatalf("A balance = %v, want 6.00", a.Balance)
	}
	if b.Balance != money.FromDollars(3) {
		t.Fatalf("B balance = %v, want 3.00", b.Balance)
	}
	if h.positions["A"].YesQty != 0 || h.positions["B"].NoQty != 0 {
		t.Fatalf("expected both positions fully merged away: A=%+v B=%+v", h.positions["A"], h.positions["B"])
	}
}

func TestS5SelfTradeSkip(t *testing.T) {
	h := newHarness(t)
	h.addUser("A", 1000)
	h.addPosition("A", 5, 0)

	sell := h.newOrder("A", model.Sell, model.Yes, 40, 5)
	h.reserveSell(sell)
	if _, err := h.engine.Submit(sell, h.lookups()); err != nil {
		t.Fatalf("submit sell: %v", err)
	}

	buy := h.newOrder("A", model.Buy, model.Yes, 40, 5)
	h.reserveBuy(buy)
	res, err := h.engine.Submit(buy, h.lookups())
	if err != nil {
		t.Fatalf("submit buy: %v", err)
	}

	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades (self-trade prevention), got %+v", res.Trades)
	}
	if sell.Status != model.OrderOpen || buy.Status != model.OrderOpen {
		t.Fatalf("expected both orders resting: sell=%v buy=%v", sell.Status, buy.Status)
	}
	for _, t2 := range res.Trades {
		if t2.BuyerUserID == t2.SellerUserID {
			t.Fatalf("self-trade leaked into trade record: %+v", t2)
		}
	}
}

func TestMarketOrderDirectOnlyNeverRests(t *testing.T) {
	h := newHarness(t)
	h.addUser("A", 1000)
	h.addPosition("A", 0, 0)
	h.addUser("B", 1000)
	h.addPosition("B", 0, 0)

	// No YES asks resting; a BUY-NO at a mint-eligible price should NOT
	// match a MARKET BUY-YES order, and the order must not rest either.
	buyNo := h.newOrder("B", model.Buy, model.No, 60, 5)
	h.reserveBuy(buyNo)
	if _, err := h.engine.Submit(buyNo, h.lookups()); err != nil {
		t.Fatalf("submit buy no: %v", err)
	}

	marketBuy := h.newOrder("A", model.Buy, model.Yes, 99, 5)
	marketBuy.Type = model.MarketOrder
	h.reserveBuy(marketBuy)
	res, err := h.engine.Submit(marketBuy, h.lookups())
	if err != nil {
		t.Fatalf("submit market buy: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("expected market order to skip mint matching, got %+v", res.Trades)
	}
	if h.engine.Book.YesBids.Best() != nil {
		t.Fatal("market order must never rest")
	}
}

func TestPriceTimePriorityFIFO(t *testing.T) {
	h := newHarness(t)
	h.addUser("first", 1000)
	h.addPosition("first", 10, 0)
	h.addUser("second", 1000)
	h.addPosition("second", 10, 0)
	h.addUser("taker", 1000)
	h.addPosition("taker", 0, 0)

	sell1 := h.newOrder("first", model.Sell, model.Yes, 50, 5)
	h.reserveSell(sell1)
	h.engine.Submit(sell1, h.lookups())

	sell2 := h.newOrder("second", model.Sell, model.Yes, 50, 5)
	h.reserveSell(sell2)
	h.engine.Submit(sell2, h.lookups())

	buy := h.newOrder("taker", model.Buy, model.Yes, 50, 5)
	h.reserveBuy(buy)
	res, err := h.engine.Submit(buy, h.lookups())
	if err != nil {
		t.Fatalf("submit buy: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].SellerOrderID != sell1.ID {
		t.Fatalf("expected earlier resting order filled first, got %+v", res.Trades)
	}
	if sell1.Status != model.OrderFilled {
		t.Fatalf("expected first sell fully filled, got %v", sell1.Status)
	}
	if sell2.FilledQuantity != 0 {
		t.Fatalf("expected second sell untouched, got filled=%d", sell2.FilledQuantity)
	}
}
