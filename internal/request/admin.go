package request

import (
	"time"

	"github.com/google/uuid"

	"OutcomeLedger/internal/market"
)

// CreateEvent registers a new binary event. Operator-only.
// Idempotency key: request_id (UUID from the admin gateway).
type CreateEvent struct {
	RequestID      uuid.UUID // Idempotency key
	Signer         string    // Operator identity presented by the gateway
	Payer          uint64    // User wallet funding the creation deposit
	NewEventID     uint64
	CommissionRate uint64 // Percent, 0-100
	MaxPrice       uint64 // Settlement price, fixed-point
	Sequence       int64  // Source sequence from the admin stream
	Timestamp      time.Time
}

func (c *CreateEvent) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *CreateEvent) RequestType() RequestType {
	return RequestTypeCreateEvent
}

func (c *CreateEvent) EventID() *uint64 {
	id := c.NewEventID
	return &id
}

func (c *CreateEvent) SourceSequence() int64 {
	return c.Sequence
}

// ResolveEvent records the final outcome of an event. Operator-only,
// write-once.
type ResolveEvent struct {
	RequestID uuid.UUID
	Signer    string
	Event     uint64
	Outcome   market.Outcome
	Sequence  int64
	Timestamp time.Time
}

func (r *ResolveEvent) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *ResolveEvent) RequestType() RequestType {
	return RequestTypeResolveEvent
}

func (r *ResolveEvent) EventID() *uint64 {
	id := r.Event
	return &id
}

func (r *ResolveEvent) SourceSequence() int64 {
	return r.Sequence
}

// CloseEvent removes an event once every position on it is flat and
// refunds the creation deposit. Operator-only.
type CloseEvent struct {
	RequestID uuid.UUID
	Signer    string
	Payer     uint64 // Wallet receiving the creation deposit refund
	Event     uint64
	Sequence  int64
	Timestamp time.Time
}

func (c *CloseEvent) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *CloseEvent) RequestType() RequestType {
	return RequestTypeCloseEvent
}

func (c *CloseEvent) EventID() *uint64 {
	id := c.Event
	return &id
}

func (c *CloseEvent) SourceSequence() int64 {
	return c.Sequence
}
