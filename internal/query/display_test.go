package query_test

import (
	"testing"

	"OutcomeLedger/internal/query"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount uint64
		want   string
	}{
		{0, "0"},
		{1, "0.000001"},
		{500_000, "0.5"},
		{1_000_000, "1"},
		{1_234_567, "1.234567"},
		{40_000_000_000, "40000"},
		// Above int64 range: must not render negative.
		{9_223_372_036_854_775_808, "9223372036854.775808"},
		{18_446_744_073_709_551_615, "18446744073709.551615"},
	}

	for _, tc := range cases {
		if got := query.FormatAmount(tc.amount); got != tc.want {
			t.Errorf("FormatAmount(%d): got %s, want %s", tc.amount, got, tc.want)
		}
	}
}

func TestFormatSigned(t *testing.T) {
	if got := query.FormatSigned(-250_000); got != "-0.25" {
		t.Errorf("FormatSigned(-250000): got %s, want -0.25", got)
	}
}
