// Package promo splits fund movements between a user's primary wallet
// and their promotional credit bucket. Promotional credit is spent
// first on debits; credits restore the promotional component recorded
// when the funds were locked, never a recomputed one.
package promo

// Funding is the per-order record of how a locked amount was sourced.
// It travels with the order from lock to release so the release can
// return exactly what each bucket contributed.
type Funding struct {
	PromoAmount   uint64
	PrimaryAmount uint64
}

func (f Funding) Total() uint64 {
	return f.PromoAmount + f.PrimaryAmount
}

// SplitDebit decides how much of a requested debit comes out of the
// promotional bucket given its current balance. Promo pays first, the
// primary wallet covers the rest.
func SplitDebit(requested, promoBalance uint64) Funding {
	fromPromo := requested
	if promoBalance < fromPromo {
		fromPromo = promoBalance
	}
	return Funding{
		PromoAmount:   fromPromo,
		PrimaryAmount: requested - fromPromo,
	}
}

// SplitCredit splits a total credit using the promotional component
// recorded at lock time. When the total is smaller than the recorded
// promo component (the order paid out at a loss), the promo bucket
// absorbs the shortfall.
func SplitCredit(total, promoComponent uint64) Funding {
	toPromo := promoComponent
	if total < toPromo {
		toPromo = total
	}
	return Funding{
		PromoAmount:   toPromo,
		PrimaryAmount: total - toPromo,
	}
}
