package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot carries custody balances, events, positions,
// promo fundings, sequence counters, recent idempotency keys, and the
// state hash chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
// Bucket keys are stored structurally so restore needs no path parsing.
type SnapshotData struct {
	Sequence        int64               `json:"sequence"`
	StateHash       []byte              `json:"state_hash"`
	Balances        []BalanceSnapshot   `json:"balances"`
	Minted          uint64              `json:"minted"`
	Burned          uint64              `json:"burned"`
	Authorities     []AuthoritySnapshot `json:"authorities"`
	Events          []EventSnapshot     `json:"events"`
	Positions       []PositionSnapshot  `json:"positions"`
	Fundings        []FundingSnapshot   `json:"fundings"`
	SequenceState   map[string]int64    `json:"sequence_state"` // partition -> next expected seq
	IdempotencyKeys []string            `json:"idempotency_keys"`
	CreatedAt       time.Time           `json:"created_at"`
}

// BalanceSnapshot is one custody bucket balance.
type BalanceSnapshot struct {
	Scope    uint8  `json:"scope"`
	EntityID uint64 `json:"entity_id"`
	Purpose  uint8  `json:"purpose"`
	Balance  uint64 `json:"balance"`
}

// AuthoritySnapshot is one explicit authority override.
type AuthoritySnapshot struct {
	Scope     uint8  `json:"scope"`
	EntityID  uint64 `json:"entity_id"`
	Purpose   uint8  `json:"purpose"`
	Authority string `json:"authority"`
}

// EventSnapshot is a serializable registry event.
type EventSnapshot struct {
	EventID        uint64 `json:"event_id"`
	CommissionRate uint64 `json:"commission_rate"`
	MaxPrice       uint64 `json:"max_price"`
	Outcome        uint8  `json:"outcome"`
	Version        int64  `json:"version"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	UserID         uint64 `json:"user_id"`
	EventID        uint64 `json:"event_id"`
	AvgCostYes     uint64 `json:"avg_cost_yes"`
	QtyYes         uint64 `json:"qty_yes"`
	AvgCostNo      uint64 `json:"avg_cost_no"`
	QtyNo          uint64 `json:"qty_no"`
	CommissionRate uint64 `json:"commission_rate"`
	Version        int64  `json:"version"`
}

// FundingSnapshot is one recorded promo split, keyed by the lock
// request id.
type FundingSnapshot struct {
	LockID  string `json:"lock_id"`
	Promo   uint64 `json:"promo"`
	Primary uint64 `json:"primary"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying requests from the snapshot
// sequence forward before being trusted for warm restart.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO request_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns
// nil when none exists (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM request_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE request_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadRequestsFrom loads applied requests from a given sequence for
// replay. Used for warm restart (replay from snapshot) and cold
// restart (replay all).
func (sm *SnapshotManager) LoadRequestsFrom(ctx context.Context, fromSequence int64, limit int) ([]RequestRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, request_type, idempotency_key, event_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM request_log.requests
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []RequestRow
	for rows.Next() {
		var r RequestRow
		if err := rows.Scan(
			&r.Sequence, &r.RequestType, &r.IdempotencyKey, &r.EventID,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp, &r.SourceSequence,
		); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}

	return requests, rows.Err()
}

// GetLatestSequence returns the highest sequence in the request log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM request_log.requests
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty request log
	}
	return seq.Int64, nil
}
