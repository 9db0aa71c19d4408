package request

import (
	"time"

	"github.com/google/uuid"

	"OutcomeLedger/internal/position"
)

// BuyOrder opens or extends a position side at a unit price.
// Idempotency key: order_id (UUID from the order gateway).
type BuyOrder struct {
	OrderID        uuid.UUID // Idempotency key
	UserID         uint64
	Event          uint64
	Side           position.Side
	UnitPrice      uint64 // Fixed-point, <= event max price
	Quantity       uint64
	CommissionRate uint64 // Rate snapshot carried by the order
	Sequence       int64  // Source sequence from the order stream
	Timestamp      time.Time
}

func (b *BuyOrder) IdempotencyKey() string {
	return b.OrderID.String()
}

func (b *BuyOrder) RequestType() RequestType {
	return RequestTypeBuyOrder
}

func (b *BuyOrder) EventID() *uint64 {
	id := b.Event
	return &id
}

func (b *BuyOrder) SourceSequence() int64 {
	return b.Sequence
}

// SellOrder reduces a position side, paying out at the unit price less
// commission on profit. Selling at the event max price redeems a
// resolved outcome.
type SellOrder struct {
	OrderID   uuid.UUID
	UserID    uint64
	Event     uint64
	Side      position.Side
	UnitPrice uint64
	Quantity  uint64
	Promo     uint64 // Promotional component recorded when the order locked funds
	Sequence  int64
	Timestamp time.Time
}

func (s *SellOrder) IdempotencyKey() string {
	return s.OrderID.String()
}

func (s *SellOrder) RequestType() RequestType {
	return RequestTypeSellOrder
}

func (s *SellOrder) EventID() *uint64 {
	id := s.Event
	return &id
}

func (s *SellOrder) SourceSequence() int64 {
	return s.Sequence
}

// ClosePosition removes a flat position record and refunds its
// storage deposit.
type ClosePosition struct {
	RequestID uuid.UUID
	UserID    uint64
	Event     uint64
	Sequence  int64
	Timestamp time.Time
}

func (c *ClosePosition) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *ClosePosition) RequestType() RequestType {
	return RequestTypeClosePosition
}

func (c *ClosePosition) EventID() *uint64 {
	id := c.Event
	return &id
}

func (c *ClosePosition) SourceSequence() int64 {
	return c.Sequence
}
