package position

import "OutcomeLedger/internal/market"

// Side is one of the two mutually exclusive outcomes a position can hold
// quantity in. The numeric values index the per-side arrays on Position.
type Side uint8

const (
	SideYes Side = 0
	SideNo  Side = 1
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "Yes"
	case SideNo:
		return "No"
	default:
		return "Unknown"
	}
}

// Valid reports whether s indexes a real side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Matches reports whether a resolved outcome pays out this side.
// Void matches neither side: a voided event refunds at cost instead.
func (s Side) Matches(o market.Outcome) bool {
	switch s {
	case SideYes:
		return o == market.OutcomeYes
	case SideNo:
		return o == market.OutcomeNo
	default:
		return false
	}
}

// Position is one user's open holdings in one event, tracked per outcome side.
// AvgCost is the running volume-weighted average purchase price; it is only
// meaningful while the matching Qty entry is nonzero — the first buy on a side
// computes the average from scratch.
type Position struct {
	UserID  uint64
	EventID uint64
	AvgCost [2]uint64
	Qty     [2]uint64

	// CommissionRate is the event commission captured at the last buy and
	// applied at sell time.
	CommissionRate uint64
	Version        int64
}

// Flat reports whether both sides are empty, the precondition for closing.
func (p *Position) Flat() bool {
	return p.Qty[SideYes] == 0 && p.Qty[SideNo] == 0
}
