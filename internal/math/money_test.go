package math_test

import (
	"testing"

	omath "OutcomeLedger/internal/math"
)

func TestWeightedAvgCost_FirstBuy(t *testing.T) {
	avg := omath.WeightedAvgCost(0, 0, 10, 250_000)
	if avg != 250_000 {
		t.Errorf("first buy should set avg to fill price, got %d", avg)
	}
}

func TestWeightedAvgCost_FloorDivision(t *testing.T) {
	// (100*3 + 200*2) / 5 = 700/5 = 140 exactly
	if avg := omath.WeightedAvgCost(3, 100, 2, 200); avg != 140 {
		t.Errorf("got %d, want 140", avg)
	}

	// (100*3 + 250*1) / 4 = 550/4 = 137.5 -> floors to 137
	if avg := omath.WeightedAvgCost(3, 100, 1, 250); avg != 137 {
		t.Errorf("truncation: got %d, want 137", avg)
	}
}

func TestWeightedAvgCost_LargeValues(t *testing.T) {
	// Products near uint64 max must not wrap: 2^32 units at 2^31 price each.
	qty := uint64(1) << 32
	price := uint64(1) << 31

	avg := omath.WeightedAvgCost(qty, price, qty, price)
	if avg != price {
		t.Errorf("equal-price buys should keep avg unchanged, got %d want %d", avg, price)
	}
}

// Running recurrence: each buy recomputes the average from the previous
// FLOORED average, so across a sequence the result must equal
// floor((avg_{n-1}*qty_{n-1} + p*q) / (qty_{n-1}+q)) at every step.
// Truncation compounds step to step; there is no single-division bound
// against the raw cumulative cost.
func TestWeightedAvgCost_RunningRecurrence(t *testing.T) {
	buys := []struct {
		qty   uint64
		price uint64
	}{
		{3, 300_000}, {7, 123_457}, {1, 999_999}, {11, 50_001}, {2, 742_311},
	}

	var avg, qty uint64
	for i, b := range buys {
		got := omath.WeightedAvgCost(qty, avg, b.qty, b.price)

		// Values are small enough to check the recurrence in uint64.
		want := (avg*qty + b.price*b.qty) / (qty + b.qty)
		if got != want {
			t.Fatalf("buy %d: avg=%d, want %d (prev avg=%d qty=%d)", i, got, want, avg, qty)
		}

		avg = got
		qty += b.qty
	}
}

func TestCommissionOnProfit_ProfitableSale(t *testing.T) {
	// rate=10, avg_cost=300000 x2 sold at 500000: cost=600000, proceeds=1000000,
	// profit=400000, commission=40000, payout=960000.
	payout, commission := omath.CommissionOnProfit(10, 1_000_000, 600_000)
	if commission != 40_000 {
		t.Errorf("commission: got %d, want 40000", commission)
	}
	if payout != 960_000 {
		t.Errorf("payout: got %d, want 960000", payout)
	}
}

func TestCommissionOnProfit_LossNotCommissioned(t *testing.T) {
	payout, commission := omath.CommissionOnProfit(10, 400_000, 600_000)
	if commission != 0 {
		t.Errorf("loss should carry no commission, got %d", commission)
	}
	if payout != 400_000 {
		t.Errorf("payout should equal proceeds on a loss, got %d", payout)
	}
}

func TestCommissionOnProfit_BreakEven(t *testing.T) {
	payout, commission := omath.CommissionOnProfit(50, 600_000, 600_000)
	if commission != 0 || payout != 600_000 {
		t.Errorf("break-even: got payout=%d commission=%d", payout, commission)
	}
}

func TestCommissionOnProfit_FloorAndExactSplit(t *testing.T) {
	cases := []struct {
		rate, proceeds, cost uint64
		wantCommission       uint64
	}{
		{7, 1003, 1000, 0},  // 7*3/100 = 0.21 -> 0
		{7, 1100, 1000, 7},  // 7*100/100 = 7
		{33, 1010, 1000, 3}, // 33*10/100 = 3.3 -> 3
		{100, 2000, 1000, 1000},
		{0, 2000, 1000, 0},
	}

	for _, tc := range cases {
		payout, commission := omath.CommissionOnProfit(tc.rate, tc.proceeds, tc.cost)
		if commission != tc.wantCommission {
			t.Errorf("rate=%d proceeds=%d cost=%d: commission got %d, want %d",
				tc.rate, tc.proceeds, tc.cost, commission, tc.wantCommission)
		}
		if payout+commission != tc.proceeds {
			t.Errorf("rate=%d: payout+commission=%d != proceeds=%d",
				tc.rate, payout+commission, tc.proceeds)
		}
	}
}

func TestMulU64_Overflow(t *testing.T) {
	if _, err := omath.MulU64(1<<33, 1<<33); err == nil {
		t.Error("expected overflow error for 2^66")
	}

	got, err := omath.MulU64(500_000, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1_500_000 {
		t.Errorf("got %d, want 1500000", got)
	}
}
