package market_test

import (
	"errors"
	"testing"

	"OutcomeLedger/internal/market"
)

func TestRegistry_Create(t *testing.T) {
	r := market.NewRegistry()

	ev, err := r.Create(42, 10, 1_000_000)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if ev.EventID != 42 || ev.CommissionRate != 10 || ev.MaxPrice != 1_000_000 {
		t.Errorf("unexpected event fields: %+v", ev)
	}
	if ev.Resolved() {
		t.Error("new event should be unresolved")
	}
}

func TestRegistry_Create_CommissionRateOver100(t *testing.T) {
	r := market.NewRegistry()

	_, err := r.Create(1, 101, 1_000_000)
	if !errors.Is(err, market.ErrInvalidCommissionRate) {
		t.Errorf("got %v, want ErrInvalidCommissionRate", err)
	}

	// Boundary: exactly 100 is allowed.
	if _, err := r.Create(1, 100, 1_000_000); err != nil {
		t.Errorf("rate=100 should be allowed: %v", err)
	}
}

func TestRegistry_Create_Duplicate(t *testing.T) {
	r := market.NewRegistry()

	if _, err := r.Create(7, 5, 1_000_000); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := r.Create(7, 5, 1_000_000)
	if !errors.Is(err, market.ErrDuplicateEvent) {
		t.Errorf("second create: got %v, want ErrDuplicateEvent", err)
	}
}

func TestRegistry_Resolve_WriteOnce(t *testing.T) {
	r := market.NewRegistry()
	r.Create(7, 5, 1_000_000)

	if err := r.Resolve(7, market.OutcomeYes); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	err := r.Resolve(7, market.OutcomeNo)
	if !errors.Is(err, market.ErrOutcomeAlreadyResolved) {
		t.Errorf("second resolve: got %v, want ErrOutcomeAlreadyResolved", err)
	}

	ev, _ := r.Get(7)
	if ev.Outcome() != market.OutcomeYes {
		t.Errorf("outcome changed by failed resolve: %v", ev.Outcome())
	}
}

func TestRegistry_Resolve_UnresolvedValueRejected(t *testing.T) {
	r := market.NewRegistry()
	r.Create(7, 5, 1_000_000)

	err := r.Resolve(7, market.OutcomeUnresolved)
	if !errors.Is(err, market.ErrInvalidOutcome) {
		t.Errorf("got %v, want ErrInvalidOutcome", err)
	}

	ev, _ := r.Get(7)
	if ev.Resolved() {
		t.Error("event should remain unresolved after rejected resolve")
	}
}

func TestRegistry_Resolve_Void(t *testing.T) {
	r := market.NewRegistry()
	r.Create(9, 5, 1_000_000)

	if err := r.Resolve(9, market.OutcomeVoid); err != nil {
		t.Fatalf("void resolve failed: %v", err)
	}

	ev, _ := r.Get(9)
	if !ev.Resolved() || ev.Outcome() != market.OutcomeVoid {
		t.Errorf("got outcome %v, want Void", ev.Outcome())
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := market.NewRegistry()
	r.Create(3, 5, 1_000_000)

	if err := r.Remove(3); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, err := r.Get(3); !errors.Is(err, market.ErrUnknownEvent) {
		t.Errorf("got %v, want ErrUnknownEvent after remove", err)
	}

	if err := r.Remove(3); !errors.Is(err, market.ErrUnknownEvent) {
		t.Errorf("double remove: got %v, want ErrUnknownEvent", err)
	}
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := market.NewRegistry()
	if _, err := r.Get(99); !errors.Is(err, market.ErrUnknownEvent) {
		t.Errorf("got %v, want ErrUnknownEvent", err)
	}
}
