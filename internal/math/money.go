package math

import (
	"errors"
	"math/big"
	"math/bits"
	"sync"
)

// ErrAmountOverflow is returned when a price*quantity product exceeds uint64.
var ErrAmountOverflow = errors.New("amount overflows uint64")

// All monetary values are unsigned 64-bit integers denominated in the smallest
// currency unit. Averages and commissions use integer floor division: fractional
// remainders are truncated, never rounded. Downstream accounting depends on that
// truncation being reproduced bit-for-bit, so none of these helpers round.

var u128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getU128() *big.Int {
	return u128Pool.Get().(*big.Int)
}

func putU128(v *big.Int) {
	v.SetUint64(0)
	u128Pool.Put(v)
}

// MulU64 multiplies two uint64 values with overflow detection.
func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	return lo, nil
}

// WeightedAvgCost computes the running volume-weighted average purchase price
// after a fill:
//
//	(oldAvg*oldQty + fillPrice*fillQty) / (oldQty + fillQty)
//
// using floor division. A first buy (oldQty == 0) initializes the average as if
// the prior quantity and prior average were both zero. Intermediate products are
// carried in 128 bits so the sum never wraps.
func WeightedAvgCost(oldQty, oldAvg, fillQty, fillPrice uint64) uint64 {
	term1 := getU128()
	term1.SetUint64(oldAvg)
	term1.Mul(term1, new(big.Int).SetUint64(oldQty))

	term2 := getU128()
	term2.SetUint64(fillPrice)
	term2.Mul(term2, new(big.Int).SetUint64(fillQty))

	numerator := getU128()
	numerator.Add(term1, term2)

	denominator := new(big.Int).SetUint64(oldQty + fillQty)
	numerator.Div(numerator, denominator) // floor

	result := numerator.Uint64()

	putU128(term1)
	putU128(term2)
	putU128(numerator)

	return result
}

// CommissionOnProfit computes the commission owed on a sale and the net payout.
// Commission applies only to realized profit: when proceeds exceed cost,
// commission = rate*(proceeds-cost)/100 with floor division; losses and
// break-even sales carry no commission and do not offset future gains.
// payout + commission == proceeds always holds exactly.
func CommissionOnProfit(rate, proceeds, cost uint64) (payout, commission uint64) {
	if proceeds <= cost {
		return proceeds, 0
	}

	profit := getU128()
	profit.SetUint64(proceeds - cost)
	profit.Mul(profit, new(big.Int).SetUint64(rate))
	profit.Div(profit, big.NewInt(100)) // floor

	commission = profit.Uint64()
	putU128(profit)

	return proceeds - commission, commission
}
