package market

// Registry holds every live event keyed by external event id.
// Not thread-safe — only accessed from the single-threaded settlement engine.
type Registry struct {
	events map[uint64]*Event
}

func NewRegistry() *Registry {
	return &Registry{
		events: make(map[uint64]*Event),
	}
}

// Get returns the event or ErrUnknownEvent.
func (r *Registry) Get(eventID uint64) (*Event, error) {
	ev, ok := r.events[eventID]
	if !ok {
		return nil, ErrUnknownEvent
	}
	return ev, nil
}

// CanCreate validates a creation request without committing it. The settlement
// engine validates first, moves the creation deposit, then commits via Create —
// a failed validation must never leave a deposit behind.
func (r *Registry) CanCreate(eventID, commissionRate uint64) error {
	if commissionRate > 100 {
		return ErrInvalidCommissionRate
	}
	if _, exists := r.events[eventID]; exists {
		return ErrDuplicateEvent
	}
	return nil
}

// Create commits a validated event. A second create with the same id fails
// with ErrDuplicateEvent rather than overwriting.
func (r *Registry) Create(eventID, commissionRate, maxPrice uint64) (*Event, error) {
	if err := r.CanCreate(eventID, commissionRate); err != nil {
		return nil, err
	}

	ev := &Event{
		EventID:        eventID,
		CommissionRate: commissionRate,
		MaxPrice:       maxPrice,
		outcome:        OutcomeUnresolved,
	}
	r.events[eventID] = ev

	return ev, nil
}

// Resolve sets the event outcome. Write-once: a second resolve fails with
// ErrOutcomeAlreadyResolved and leaves the outcome unchanged.
func (r *Registry) Resolve(eventID uint64, outcome Outcome) error {
	ev, err := r.Get(eventID)
	if err != nil {
		return err
	}
	return ev.resolve(outcome)
}

// Remove deletes a closed event. The caller (settlement engine) must have
// verified that no position still references the event.
func (r *Registry) Remove(eventID uint64) error {
	if _, ok := r.events[eventID]; !ok {
		return ErrUnknownEvent
	}
	delete(r.events, eventID)
	return nil
}

// All returns every live event (for snapshots and projections).
func (r *Registry) All() []*Event {
	result := make([]*Event, 0, len(r.events))
	for _, ev := range r.events {
		result = append(result, ev)
	}
	return result
}

// Restore inserts an event captured in a snapshot.
func (r *Registry) Restore(ev *Event) {
	r.events[ev.EventID] = ev
}

// RestoreResolved rebuilds a resolved event from its snapshot fields.
func RestoreResolved(eventID, commissionRate, maxPrice uint64, outcome Outcome, version int64) *Event {
	return &Event{
		EventID:        eventID,
		CommissionRate: commissionRate,
		MaxPrice:       maxPrice,
		outcome:        outcome,
		version:        version,
	}
}
