package request

import (
	"time"
)

// RequestType discriminator for request payloads
type RequestType int32

const (
	RequestTypeUnknown RequestType = iota
	RequestTypeCreateEvent
	RequestTypeResolveEvent
	RequestTypeCloseEvent
	RequestTypeBuyOrder
	RequestTypeSellOrder
	RequestTypeClosePosition
	RequestTypeLockFunds
	RequestTypeReleaseFunds
	RequestTypeDeposit
	RequestTypeWithdraw
	RequestTypeGrantPromo
)

// Envelope wraps every committed request in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Request type discriminator
	RequestType RequestType

	// Event context (nil for fund boundary requests)
	EventID *uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded request-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this request
	StateHash [32]byte

	// Previous request's state hash (chain integrity)
	PrevHash [32]byte
}

// Request is the interface all request payloads must implement
type Request interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// RequestType returns the discriminator
	RequestType() RequestType

	// EventID returns the event context (nil for fund boundary requests)
	EventID() *uint64

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64
}

func (rt RequestType) String() string {
	switch rt {
	case RequestTypeCreateEvent:
		return "CreateEvent"
	case RequestTypeResolveEvent:
		return "ResolveEvent"
	case RequestTypeCloseEvent:
		return "CloseEvent"
	case RequestTypeBuyOrder:
		return "BuyOrder"
	case RequestTypeSellOrder:
		return "SellOrder"
	case RequestTypeClosePosition:
		return "ClosePosition"
	case RequestTypeLockFunds:
		return "LockFunds"
	case RequestTypeReleaseFunds:
		return "ReleaseFunds"
	case RequestTypeDeposit:
		return "Deposit"
	case RequestTypeWithdraw:
		return "Withdraw"
	case RequestTypeGrantPromo:
		return "GrantPromo"
	default:
		return "Unknown"
	}
}
