package engine

import (
	"github.com/google/uuid"

	"OutcomeLedger/internal/custody"
	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/position"
	"OutcomeLedger/internal/promo"
)

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Balances    map[custody.BucketKey]uint64
	Minted      uint64
	Burned      uint64
	Authorities map[custody.BucketKey]custody.Authority

	Events    []*market.Event
	Positions []*position.Position
	Fundings  map[uuid.UUID]promo.Funding

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *SettlementEngine) CreateSnapshotState() *SnapshotState {
	fundings := make(map[uuid.UUID]promo.Funding, len(e.fundings))
	for k, v := range e.fundings {
		fundings[k] = v
	}

	return &SnapshotState{
		Sequence:        e.sequence - 1, // Last processed sequence
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.funds.Snapshot(),
		Minted:          e.funds.TotalMinted(),
		Burned:          e.funds.TotalBurned(),
		Authorities:     e.funds.Authorities(),
		Events:          e.registry.All(),
		Positions:       e.positions.All(),
		Fundings:        fundings,
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the engine's in-memory state. On warm
// restart the caller loads the latest snapshot, then replays the
// request log from there.
func (e *SettlementEngine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence + 1 // Next sequence to assign
	e.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		e.funds.Restore(key, balance)
	}
	e.funds.RestoreBoundary(snap.Minted, snap.Burned)
	for key, auth := range snap.Authorities {
		e.funds.RestoreAuthority(key, auth)
	}

	for _, ev := range snap.Events {
		e.registry.Restore(ev)
	}
	for _, pos := range snap.Positions {
		e.positions.Restore(pos)
	}
	for id, funding := range snap.Fundings {
		e.fundings[id] = funding
	}

	for partition, nextSeq := range snap.SequenceState {
		e.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys so warm restarts avoid
// cold-path DB lookups.
func (e *SettlementEngine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (e *SettlementEngine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *SettlementEngine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Funds exposes the custody book. Only safe from the engine goroutine.
func (e *SettlementEngine) Funds() *custody.Book {
	return e.funds
}

// Registry exposes the event registry. Only safe from the engine goroutine.
func (e *SettlementEngine) Registry() *market.Registry {
	return e.registry
}

// Positions exposes the position book. Only safe from the engine goroutine.
func (e *SettlementEngine) Positions() *position.Book {
	return e.positions
}

// Funding returns the recorded promo split for a lock request.
func (e *SettlementEngine) Funding(lockID uuid.UUID) (promo.Funding, bool) {
	f, ok := e.fundings[lockID]
	return f, ok
}
