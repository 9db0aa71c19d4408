package query

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// All custody amounts and prices are fixed-point integers with six
// fractional digits (micro-units). Display strings render the decimal
// form for API consumers.
const displayExponent = -6

// FormatAmount renders a fixed-point unsigned amount as a decimal string.
// Amounts above 2^63-1 must survive the conversion, so the value goes
// through big.Int rather than int64.
func FormatAmount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), displayExponent).String()
}

// FormatSigned renders a fixed-point signed amount as a decimal string.
func FormatSigned(amount int64) string {
	return decimal.New(amount, displayExponent).String()
}
