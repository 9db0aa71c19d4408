package custody

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeLock
	JournalTypeRelease
	JournalTypePremium
	JournalTypePayout
	JournalTypeCommission
	JournalTypeEventDeposit
	JournalTypeEventRefund
	JournalTypeStorageDeposit
	JournalTypeStorageRefund
	JournalTypePromoGrant
	JournalTypeAdjustment
)

// Journal represents a single double-entry bucket transfer
type Journal struct {
	JournalID   uuid.UUID   // Unique identifier
	BatchID     uuid.UUID   // Groups entries applied together
	RequestRef  string      // Idempotency key of source request
	Sequence    int64       // Global engine sequence
	From        BucketKey   // Bucket being debited (balance decreases)
	To          BucketKey   // Bucket being credited (balance increases)
	Authority   Authority   // Signing scope presented for the source bucket
	Amount      uint64      // Fixed-point amount (always positive)
	JournalType JournalType // Entry type
	Timestamp   int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a set of journal entries applied all-or-nothing.
// Each entry is a balanced transfer by construction: a single positive
// amount moves from one bucket to another, so the ledger stays zero-sum
// per-entry. Multi-leg requests (sell with commission) use multiple
// entries under one batch_id.
type Batch struct {
	BatchID    uuid.UUID
	RequestRef string
	Sequence   int64
	Timestamp  int64
	Journals   []Journal
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s: %w", b.BatchID, ErrEmptyBatch)
	}

	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.From == j.To {
			return fmt.Errorf("journal %s has same source and destination bucket", j.JournalID)
		}
	}

	return nil
}
