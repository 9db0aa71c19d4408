package custody

import "github.com/google/uuid"

// BatchBuilder assembles the journal entries for one request.
// Zero-amount legs are skipped so callers can add conditional legs
// (a commission of zero, an empty promo component) unconditionally.
type BatchBuilder struct {
	batch *Batch
}

func NewBatch(requestRef string, sequence, timestamp int64) *BatchBuilder {
	return &BatchBuilder{
		batch: &Batch{
			BatchID:    uuid.New(),
			RequestRef: requestRef,
			Sequence:   sequence,
			Timestamp:  timestamp,
			Journals:   make([]Journal, 0, 2),
		},
	}
}

// Transfer appends a single leg moving amount from one bucket to
// another under the presented authority.
func (bb *BatchBuilder) Transfer(from, to BucketKey, authority Authority, amount uint64, jt JournalType) *BatchBuilder {
	if amount == 0 {
		return bb
	}

	bb.batch.Journals = append(bb.batch.Journals, Journal{
		JournalID:   uuid.New(),
		BatchID:     bb.batch.BatchID,
		RequestRef:  bb.batch.RequestRef,
		Sequence:    bb.batch.Sequence,
		From:        from,
		To:          to,
		Authority:   authority,
		Amount:      amount,
		JournalType: jt,
		Timestamp:   bb.batch.Timestamp,
	})
	return bb
}

// Mint appends a boundary inflow: external deposits bucket → to.
func (bb *BatchBuilder) Mint(to BucketKey, amount uint64, jt JournalType) *BatchBuilder {
	return bb.Transfer(ExternalDeposits(), to, GatewayAuthority, amount, jt)
}

// Burn appends a boundary outflow: from → external withdrawals bucket.
func (bb *BatchBuilder) Burn(from BucketKey, authority Authority, amount uint64, jt JournalType) *BatchBuilder {
	return bb.Transfer(from, ExternalWithdrawals(), authority, amount, jt)
}

// Empty reports whether no legs were added.
func (bb *BatchBuilder) Empty() bool {
	return len(bb.batch.Journals) == 0
}

func (bb *BatchBuilder) Build() *Batch {
	return bb.batch
}
