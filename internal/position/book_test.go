package position_test

import (
	"errors"
	"testing"

	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/position"
)

const maxPrice = 1_000_000

func newEvent(t *testing.T, rate uint64) (*market.Registry, *market.Event) {
	t.Helper()
	r := market.NewRegistry()
	ev, err := r.Create(1, rate, maxPrice)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return r, ev
}

func mustBuy(t *testing.T, b *position.Book, ev *market.Event, userID uint64, side position.Side, price, qty, rate uint64) {
	t.Helper()
	plan, err := b.PlanBuy(userID, ev, side, price, qty, rate)
	if err != nil {
		t.Fatalf("plan buy: %v", err)
	}
	b.CommitBuy(plan)
}

func TestBook_FirstBuyInitializesAvgCost(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	plan, err := b.PlanBuy(5, ev, position.SideYes, 300_000, 3, 10)
	if err != nil {
		t.Fatalf("plan buy: %v", err)
	}
	if plan.Cost != 900_000 {
		t.Errorf("cost: got %d, want 900000", plan.Cost)
	}
	if plan.NewAvgCost != 300_000 {
		t.Errorf("avg: got %d, want 300000", plan.NewAvgCost)
	}

	// Nothing committed yet.
	if b.Get(5, 1) != nil {
		t.Fatal("position must not exist before commit")
	}

	pos := b.CommitBuy(plan)
	if pos.Qty[position.SideYes] != 3 || pos.AvgCost[position.SideYes] != 300_000 {
		t.Errorf("committed position: %+v", pos)
	}
	if pos.CommissionRate != 10 {
		t.Errorf("commission snapshot: got %d, want 10", pos.CommissionRate)
	}
}

func TestBook_BuyAboveMaxPrice(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	_, err := b.PlanBuy(5, ev, position.SideYes, maxPrice+1, 1, 10)
	if !errors.Is(err, position.ErrInvalidPrice) {
		t.Errorf("got %v, want ErrInvalidPrice", err)
	}

	// Buying at exactly max price is allowed.
	if _, err := b.PlanBuy(5, ev, position.SideYes, maxPrice, 1, 10); err != nil {
		t.Errorf("buy at max price should be valid: %v", err)
	}
}

func TestBook_ZeroQuantityBuyRejected(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	// A zero-quantity first buy would divide by zero in the average-cost
	// update; it must reject, not panic.
	if _, err := b.PlanBuy(5, ev, position.SideYes, 300_000, 0, 10); !errors.Is(err, position.ErrInvalidQuantity) {
		t.Fatalf("got %v, want ErrInvalidQuantity", err)
	}
	if b.Get(5, 1) != nil {
		t.Fatal("rejected buy must not create a position")
	}
}

func TestBook_ZeroQuantitySellRejected(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)

	if _, err := b.PlanSell(5, ev, position.SideYes, 300_000, 0); !errors.Is(err, position.ErrInvalidQuantity) {
		t.Fatalf("got %v, want ErrInvalidQuantity", err)
	}
}

func TestBook_BuyQuantityOverflowRejected(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	// Price zero keeps the premium product in range while the held
	// quantity saturates uint64.
	mustBuy(t, b, ev, 5, position.SideYes, 0, ^uint64(0), 10)

	if _, err := b.PlanBuy(5, ev, position.SideYes, 0, 1, 10); !errors.Is(err, position.ErrQuantityOverflow) {
		t.Fatalf("got %v, want ErrQuantityOverflow", err)
	}
}

func TestBook_AvgCostFloorAcrossBuys(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	mustBuy(t, b, ev, 5, position.SideYes, 100, 3, 10)
	mustBuy(t, b, ev, 5, position.SideYes, 250, 1, 10)

	pos := b.Get(5, 1)
	// (100*3 + 250*1)/4 = 137.5 -> 137
	if pos.AvgCost[position.SideYes] != 137 {
		t.Errorf("avg: got %d, want 137", pos.AvgCost[position.SideYes])
	}
	if pos.Qty[position.SideYes] != 4 {
		t.Errorf("qty: got %d, want 4", pos.Qty[position.SideYes])
	}
}

func TestBook_SidesAreIndependent(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)
	mustBuy(t, b, ev, 5, position.SideNo, 700_000, 2, 10)

	pos := b.Get(5, 1)
	if pos.AvgCost[position.SideYes] != 300_000 || pos.Qty[position.SideYes] != 3 {
		t.Errorf("yes side: %+v", pos)
	}
	if pos.AvgCost[position.SideNo] != 700_000 || pos.Qty[position.SideNo] != 2 {
		t.Errorf("no side: %+v", pos)
	}
}

func TestBook_SellProfitCommission(t *testing.T) {
	// Worked example: rate=10, avg=300000, qty=3; sell 2 @ 500000.
	_, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)

	plan, err := b.PlanSell(5, ev, position.SideYes, 500_000, 2)
	if err != nil {
		t.Fatalf("plan sell: %v", err)
	}
	if plan.Commission != 40_000 {
		t.Errorf("commission: got %d, want 40000", plan.Commission)
	}
	if plan.Payout != 960_000 {
		t.Errorf("payout: got %d, want 960000", plan.Payout)
	}

	pos := b.CommitSell(plan)
	if pos.Qty[position.SideYes] != 1 {
		t.Errorf("remaining qty: got %d, want 1", pos.Qty[position.SideYes])
	}
}

func TestBook_SellLossNoCommission(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)

	plan, err := b.PlanSell(5, ev, position.SideYes, 200_000, 2)
	if err != nil {
		t.Fatalf("plan sell: %v", err)
	}
	if plan.Commission != 0 {
		t.Errorf("loss commissioned: %d", plan.Commission)
	}
	if plan.Payout != 400_000 {
		t.Errorf("payout: got %d, want 400000", plan.Payout)
	}
}

func TestBook_SellInsufficientQuantity(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)

	_, err := b.PlanSell(5, ev, position.SideYes, 300_000, 4)
	if !errors.Is(err, position.ErrInsufficientQuantity) {
		t.Errorf("got %v, want ErrInsufficientQuantity", err)
	}

	// Never partially decrements.
	if got := b.Get(5, 1).Qty[position.SideYes]; got != 3 {
		t.Errorf("qty mutated by rejected sell: %d", got)
	}
}

func TestBook_RedeemAtMaxPriceRequiresResolution(t *testing.T) {
	reg, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)

	_, err := b.PlanSell(5, ev, position.SideYes, maxPrice, 3)
	if !errors.Is(err, position.ErrEventNotFinished) {
		t.Errorf("unresolved redemption: got %v, want ErrEventNotFinished", err)
	}

	reg.Resolve(1, market.OutcomeNo)

	_, err = b.PlanSell(5, ev, position.SideYes, maxPrice, 3)
	if !errors.Is(err, position.ErrOutcomeMismatch) {
		t.Errorf("wrong-side redemption: got %v, want ErrOutcomeMismatch", err)
	}
}

func TestBook_RedeemWinningSide(t *testing.T) {
	reg, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 3, 10)
	reg.Resolve(1, market.OutcomeYes)

	plan, err := b.PlanSell(5, ev, position.SideYes, maxPrice, 3)
	if err != nil {
		t.Fatalf("winning redemption failed: %v", err)
	}

	// proceeds=3000000, cost=900000, profit=2100000, commission=210000
	if plan.Commission != 210_000 {
		t.Errorf("commission: got %d, want 210000", plan.Commission)
	}
	if plan.Payout+plan.Commission != 3_000_000 {
		t.Errorf("payout+commission != proceeds: %d", plan.Payout+plan.Commission)
	}
}

func TestBook_VoidRefundsAtCost(t *testing.T) {
	reg, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 250_000, 4, 10)
	reg.Resolve(1, market.OutcomeVoid)

	// Selling at avg cost succeeds with no commission.
	plan, err := b.PlanSell(5, ev, position.SideYes, 250_000, 4)
	if err != nil {
		t.Fatalf("void refund at cost failed: %v", err)
	}
	if plan.Commission != 0 || plan.Payout != 1_000_000 {
		t.Errorf("void refund: payout=%d commission=%d", plan.Payout, plan.Commission)
	}

	// Any other price is rejected.
	if _, err := b.PlanSell(5, ev, position.SideYes, 300_000, 4); !errors.Is(err, position.ErrOutcomeMismatch) {
		t.Errorf("void at other price: got %v, want ErrOutcomeMismatch", err)
	}
	if _, err := b.PlanSell(5, ev, position.SideYes, maxPrice, 4); !errors.Is(err, position.ErrOutcomeMismatch) {
		t.Errorf("void at max price: got %v, want ErrOutcomeMismatch", err)
	}
}

func TestBook_SellUnknownPosition(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	_, err := b.PlanSell(5, ev, position.SideYes, 100, 1)
	if !errors.Is(err, position.ErrUnknownPosition) {
		t.Errorf("got %v, want ErrUnknownPosition", err)
	}
}

func TestBook_Close(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()
	mustBuy(t, b, ev, 5, position.SideYes, 300_000, 2, 10)

	if err := b.Close(5, 1); !errors.Is(err, position.ErrPendingQuantity) {
		t.Errorf("close with open qty: got %v, want ErrPendingQuantity", err)
	}

	plan, err := b.PlanSell(5, ev, position.SideYes, 300_000, 2)
	if err != nil {
		t.Fatalf("plan sell: %v", err)
	}
	b.CommitSell(plan)

	if err := b.Close(5, 1); err != nil {
		t.Errorf("close of flat position failed: %v", err)
	}
	if b.Get(5, 1) != nil {
		t.Error("position still present after close")
	}

	if err := b.Close(5, 1); !errors.Is(err, position.ErrUnknownPosition) {
		t.Errorf("double close: got %v, want ErrUnknownPosition", err)
	}
}

func TestBook_OpenForEvent(t *testing.T) {
	_, ev := newEvent(t, 10)
	b := position.NewBook()

	if b.OpenForEvent(1) {
		t.Error("empty book should report no open positions")
	}

	mustBuy(t, b, ev, 5, position.SideNo, 300_000, 2, 10)
	if !b.OpenForEvent(1) {
		t.Error("open position not reported")
	}

	plan, _ := b.PlanSell(5, ev, position.SideNo, 300_000, 2)
	b.CommitSell(plan)
	if b.OpenForEvent(1) {
		t.Error("flat position should not block event close")
	}
}
