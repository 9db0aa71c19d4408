package promo_test

import (
	"testing"

	"OutcomeLedger/internal/promo"
)

func TestSplitDebit(t *testing.T) {
	tests := []struct {
		name         string
		requested    uint64
		promoBalance uint64
		wantPromo    uint64
		wantPrimary  uint64
	}{
		{"promo covers all", 100, 500, 100, 0},
		{"promo covers part", 100, 40, 40, 60},
		{"no promo", 100, 0, 0, 100},
		{"exact promo", 100, 100, 100, 0},
		{"zero request", 0, 500, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := promo.SplitDebit(tt.requested, tt.promoBalance)
			if f.PromoAmount != tt.wantPromo || f.PrimaryAmount != tt.wantPrimary {
				t.Errorf("got promo=%d primary=%d, want promo=%d primary=%d",
					f.PromoAmount, f.PrimaryAmount, tt.wantPromo, tt.wantPrimary)
			}
			if f.Total() != tt.requested {
				t.Errorf("split does not sum to request: %d", f.Total())
			}
		})
	}
}

func TestSplitCredit(t *testing.T) {
	tests := []struct {
		name        string
		total       uint64
		promoPart   uint64
		wantPromo   uint64
		wantPrimary uint64
	}{
		{"promo restored first", 150, 40, 40, 110},
		{"all primary", 150, 0, 0, 150},
		{"all promo", 40, 40, 40, 0},
		{"loss absorbed by promo", 30, 40, 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := promo.SplitCredit(tt.total, tt.promoPart)
			if f.PromoAmount != tt.wantPromo || f.PrimaryAmount != tt.wantPrimary {
				t.Errorf("got promo=%d primary=%d, want promo=%d primary=%d",
					f.PromoAmount, f.PrimaryAmount, tt.wantPromo, tt.wantPrimary)
			}
			if f.Total() != tt.total {
				t.Errorf("split does not sum to credit: %d", f.Total())
			}
		})
	}
}

func TestSplit_DebitCreditRoundTrip(t *testing.T) {
	f := promo.SplitDebit(1_000, 300)
	back := promo.SplitCredit(f.Total(), f.PromoAmount)
	if back != f {
		t.Errorf("round trip changed the split: lock=%+v release=%+v", f, back)
	}
}
