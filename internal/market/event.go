package market

// Outcome is the resolved result of a binary-outcome event.
// OutcomeUnresolved is the initial state; the three resolved values are
// terminal. Resolution is a single write-once transition, so the resolved
// latch and the resolved value can never disagree.
type Outcome uint8

const (
	OutcomeUnresolved Outcome = iota
	OutcomeYes
	OutcomeNo
	OutcomeVoid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnresolved:
		return "Unresolved"
	case OutcomeYes:
		return "Yes"
	case OutcomeNo:
		return "No"
	case OutcomeVoid:
		return "Void"
	default:
		return "Unknown"
	}
}

// Valid reports whether o is a value an operator may resolve an event to.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeVoid
}

// Event is one binary-outcome market instance.
// CommissionRate is a whole percentage (0-100) applied to realized profit only.
// MaxPrice is the full settlement value of one unit; all order prices for the
// event must lie in [0, MaxPrice].
type Event struct {
	EventID        uint64
	CommissionRate uint64
	MaxPrice       uint64

	outcome Outcome
	version int64
}

// Resolved reports whether the event outcome has been set.
func (e *Event) Resolved() bool {
	return e.outcome != OutcomeUnresolved
}

// Outcome returns the resolved outcome, or OutcomeUnresolved.
func (e *Event) Outcome() Outcome {
	return e.outcome
}

// Version returns the mutation counter for projection upserts.
func (e *Event) Version() int64 {
	return e.version
}

// resolve performs the write-once outcome transition.
func (e *Event) resolve(o Outcome) error {
	if !o.Valid() {
		return ErrInvalidOutcome
	}
	if e.outcome != OutcomeUnresolved {
		return ErrOutcomeAlreadyResolved
	}
	e.outcome = o
	e.version++
	return nil
}
