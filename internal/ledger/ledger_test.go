package ledger

import (
	"testing"
	"time"

	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/tradeerr"
)

func testLedger() *Ledger {
	var n int
	return &Ledger{
		Now: func() time.Time { return time.Unix(0, 0).UTC() },
		NewID: func() string {
			n++
			return "tx-" + string(rune('a'+n-1))
		},
	}
}

func TestReserveFundsInsufficient(t *testing.T) {
	l := testLedger()
	u := &model.User{ID: "u1", Balance: money.FromDollars(10)}
	_, err := l.ReserveFunds(u, money.FromDollars(20), "m1", "o1")
	if err != tradeerr.ErrInsufficientFunds {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if u.ReservedBalance != 0 {
		t.Fatalf("reserved balance mutated on failure: %v", u.ReservedBalance)
	}
}

func TestReserveReleaseFunds(t *testing.T) {
	l := testLedger()
	u := &model.User{ID: "u1", Balance: money.FromDollars(10)}
	tx, err := l.ReserveFunds(u, money.FromDollars(4), "m1", "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ReservedBalance != money.FromDollars(4) {
		t.Fatalf("reserved balance = %v, want 400", u.ReservedBalance)
	}
	if u.AvailableBalance() != money.FromDollars(6) {
		t.Fatalf("available balance = %v, want 600", u.AvailableBalance())
	}
	if tx.Type != model.TxOrderReserve {
		t.Fatalf("tx type = %v, want ORDER_RESERVE", tx.Type)
	}

	l.ReleaseFunds(u, money.FromDollars(4), "m1", "o1")
	if u.ReservedBalance != 0 {
		t.Fatalf("reserved balance after release = %v, want 0", u.ReservedBalance)
	}
}

func TestReleaseFundsOverReserveInvariant(t *testing.T) {
	l := testLedger()
	u := &model.User{ID: "u1", Balance: money.FromDollars(10), ReservedBalance: money.FromDollars(2)}
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic releasing more than reserved")
		}
	}()
	l.ReleaseFunds(u, money.FromDollars(5), "m1", "o1")
}

func TestConsumeFunds(t *testing.T) {
	l := testLedger()
	u := &model.User{ID: "u1", Balance: money.FromDollars(10), ReservedBalance: money.FromDollars(4)}
	tx := l.ConsumeFunds(u, money.FromDollars(4), model.TxTradeBuy, "m1", "o1", "t1", model.Yes, 4, "fill")
	if u.Balance != money.FromDollars(6) {
		t.Fatalf("balance after consume = %v, want 600", u.Balance)
	}
	if u.ReservedBalance != 0 {
		t.Fatalf("reserved balance after consume = %v, want 0", u.ReservedBalance)
	}
	if tx.Amount != -money.FromDollars(4) {
		t.Fatalf("tx amount = %v, want -400", tx.Amount)
	}
}

func TestCreditFunds(t *testing.T) {
	l := testLedger()
	u := &model.User{ID: "u1"}
	tx := l.CreditFunds(u, money.FromDollars(7), model.TxTradeSell, "m1", "o1", "t1", model.No, 7, "fill")
	if u.Balance != money.FromDollars(7) {
		t.Fatalf("balance = %v, want 700", u.Balance)
	}
	if tx.Amount != money.FromDollars(7) {
		t.Fatalf("tx amount = %v, want 700", tx.Amount)
	}
}

func TestReserveSharesInsufficient(t *testing.T) {
	l := testLedger()
	pos := &model.Position{UserID: "u1", MarketID: "m1", YesQty: 5}
	_, err := l.ReserveShares(pos, model.Yes, 10, "m1", "o1", "u1")
	if err != tradeerr.ErrInsufficientPosition {
		t.Fatalf("got %v, want ErrInsufficientPosition", err)
	}
}

func TestReserveConsumeShares(t *testing.T) {
	l := testLedger()
	pos := &model.Position{UserID: "u1", MarketID: "m1", YesQty: 10}
	if _, err := l.ReserveShares(pos, model.Yes, 6, "m1", "o1", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.ReservedYesQty != 6 {
		t.Fatalf("reserved yes qty = %d, want 6", pos.ReservedYesQty)
	}
	if pos.AvailableQty(model.Yes) != 4 {
		t.Fatalf("available yes qty = %d, want 4", pos.AvailableQty(model.Yes))
	}

	l.ConsumeShares(pos, model.Yes, 6)
	if pos.YesQty != 4 || pos.ReservedYesQty != 0 {
		t.Fatalf("post-consume position = %+v", pos)
	}
}

func TestCreditSharesUpdatesCostBasis(t *testing.T) {
	l := testLedger()
	pos := &model.Position{UserID: "u1", MarketID: "m1"}
	l.CreditShares(pos, model.No, 5, money.Cents(30))
	if pos.NoQty != 5 {
		t.Fatalf("no qty = %d, want 5", pos.NoQty)
	}
	if pos.NoCostBasis != money.Cents(150) {
		t.Fatalf("no cost basis = %v, want 150", pos.NoCostBasis)
	}
}

func TestConsumeSharesUnderflowInvariant(t *testing.T) {
	l := testLedger()
	pos := &model.Position{UserID: "u1", MarketID: "m1", YesQty: 2, ReservedYesQty: 2}
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic consuming more shares than held")
		}
	}()
	l.ConsumeShares(pos, model.Yes, 3)
}
