package position

import (
	omath "OutcomeLedger/internal/math"
	"OutcomeLedger/internal/market"
)

// Book manages position state for every (user, event) pair.
// Not thread-safe — only accessed from the single-threaded settlement engine.
//
// Mutations follow a plan/commit split: PlanBuy and PlanSell are pure (they
// validate and compute the new state without touching it), and the engine
// commits the plan only after every custody transfer for the request has
// succeeded. A rejected request therefore never leaves a partial position.
type Book struct {
	positions map[Key]*Position
}

type Key struct {
	UserID  uint64
	EventID uint64
}

func NewBook() *Book {
	return &Book{
		positions: make(map[Key]*Position),
	}
}

// Get returns the existing position or nil.
func (b *Book) Get(userID, eventID uint64) *Position {
	return b.positions[Key{UserID: userID, EventID: eventID}]
}

// BuyPlan is the staged result of a validated buy.
type BuyPlan struct {
	Key            Key
	Side           Side
	NewAvgCost     uint64
	FillQty        uint64
	CommissionRate uint64

	// Cost is the premium the engine must collect before committing.
	Cost uint64
}

// PlanBuy validates a buy against the event and computes the resulting
// average-cost update. The position itself is untouched; pass the plan to
// CommitBuy once funds have moved.
func (b *Book) PlanBuy(userID uint64, ev *market.Event, side Side, unitPrice, qty, commissionRate uint64) (*BuyPlan, error) {
	if unitPrice > ev.MaxPrice {
		return nil, ErrInvalidPrice
	}
	// Zero quantity would make the average-cost denominator zero.
	if qty == 0 {
		return nil, ErrInvalidQuantity
	}

	cost, err := omath.MulU64(unitPrice, qty)
	if err != nil {
		return nil, err
	}

	var oldQty, oldAvg uint64
	if pos := b.Get(userID, ev.EventID); pos != nil {
		oldQty = pos.Qty[side]
		oldAvg = pos.AvgCost[side]
	}
	if oldQty+qty < oldQty {
		return nil, ErrQuantityOverflow
	}

	return &BuyPlan{
		Key:            Key{UserID: userID, EventID: ev.EventID},
		Side:           side,
		NewAvgCost:     omath.WeightedAvgCost(oldQty, oldAvg, qty, unitPrice),
		FillQty:        qty,
		CommissionRate: commissionRate,
		Cost:           cost,
	}, nil
}

// CommitBuy applies a staged buy, creating the position on first buy.
func (b *Book) CommitBuy(plan *BuyPlan) *Position {
	pos := b.positions[plan.Key]
	if pos == nil {
		pos = &Position{
			UserID:  plan.Key.UserID,
			EventID: plan.Key.EventID,
		}
		b.positions[plan.Key] = pos
	}

	pos.AvgCost[plan.Side] = plan.NewAvgCost
	pos.Qty[plan.Side] += plan.FillQty
	pos.CommissionRate = plan.CommissionRate
	pos.Version++

	return pos
}

// SellPlan is the staged result of a validated sell.
type SellPlan struct {
	Key     Key
	Side    Side
	SellQty uint64

	// Payout goes to the seller, Commission to the treasury; together they
	// equal the gross proceeds exactly.
	Payout     uint64
	Commission uint64
}

// PlanSell validates a sell against the event's price and outcome rules and
// computes the payout and commission. Settlement-price rule: selling at the
// event's full value requires a resolved outcome on the sold side; a voided
// event instead redeems at the position's own average cost.
func (b *Book) PlanSell(userID uint64, ev *market.Event, side Side, unitPrice, qty uint64) (*SellPlan, error) {
	if unitPrice > ev.MaxPrice {
		return nil, ErrInvalidPrice
	}
	if qty == 0 {
		return nil, ErrInvalidQuantity
	}

	if unitPrice == ev.MaxPrice {
		if !ev.Resolved() {
			return nil, ErrEventNotFinished
		}
		if !side.Matches(ev.Outcome()) {
			return nil, ErrOutcomeMismatch
		}
	}

	pos := b.Get(userID, ev.EventID)
	if pos == nil {
		return nil, ErrUnknownPosition
	}

	avgCost := pos.AvgCost[side]

	if ev.Resolved() && ev.Outcome() == market.OutcomeVoid && unitPrice != avgCost {
		return nil, ErrOutcomeMismatch
	}

	if pos.Qty[side] < qty {
		return nil, ErrInsufficientQuantity
	}

	cost, err := omath.MulU64(avgCost, qty)
	if err != nil {
		return nil, err
	}
	proceeds, err := omath.MulU64(unitPrice, qty)
	if err != nil {
		return nil, err
	}

	payout, commission := omath.CommissionOnProfit(pos.CommissionRate, proceeds, cost)

	return &SellPlan{
		Key:        Key{UserID: userID, EventID: ev.EventID},
		Side:       side,
		SellQty:    qty,
		Payout:     payout,
		Commission: commission,
	}, nil
}

// CommitSell applies a staged sell.
func (b *Book) CommitSell(plan *SellPlan) *Position {
	pos := b.positions[plan.Key]
	pos.Qty[plan.Side] -= plan.SellQty
	pos.Version++
	return pos
}

// Close removes a fully liquidated position. Fails with ErrPendingQuantity
// while either side still holds quantity.
func (b *Book) Close(userID, eventID uint64) error {
	key := Key{UserID: userID, EventID: eventID}
	pos := b.positions[key]
	if pos == nil {
		return ErrUnknownPosition
	}
	if !pos.Flat() {
		return ErrPendingQuantity
	}
	delete(b.positions, key)
	return nil
}

// OpenForEvent reports whether any position still references the event with
// nonzero quantity on either side. Event close is rejected while this holds.
func (b *Book) OpenForEvent(eventID uint64) bool {
	for key, pos := range b.positions {
		if key.EventID == eventID && !pos.Flat() {
			return true
		}
	}
	return false
}

// All returns every position (for snapshots and projections).
func (b *Book) All() []*Position {
	result := make([]*Position, 0, len(b.positions))
	for _, pos := range b.positions {
		result = append(result, pos)
	}
	return result
}

// Restore inserts a position captured in a snapshot.
func (b *Book) Restore(pos *Position) {
	b.positions[Key{UserID: pos.UserID, EventID: pos.EventID}] = pos
}
