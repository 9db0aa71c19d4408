package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// RequestLogWriter writes applied requests and custody journals to
// Postgres using multi-row INSERT batches. ON CONFLICT DO NOTHING makes
// the writes idempotent so a retried batch never double-inserts.
type RequestLogWriter struct {
	db *sql.DB
}

// RequestRow represents a row in request_log.requests.
type RequestRow struct {
	Sequence       int64
	RequestType    string
	IdempotencyKey string
	EventID        *int64 // NULL for fund boundary requests
	Payload        []byte // JSON-encoded request
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in request_log.journal. Buckets are
// stored as their canonical path strings.
type JournalRow struct {
	JournalID   string
	BatchID     string
	RequestRef  string
	Sequence    int64
	FromBucket  string
	ToBucket    string
	Authority   string
	Amount      int64
	JournalType int32
	Timestamp   int64
}

func NewRequestLogWriter(db *sql.DB) *RequestLogWriter {
	return &RequestLogWriter{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteRequestBatch writes a batch of requests to request_log.requests.
func (w *RequestLogWriter) WriteRequestBatch(ctx context.Context, tx execer, requests []RequestRow) error {
	if len(requests) == 0 {
		return nil
	}

	query := `INSERT INTO request_log.requests
		(sequence, request_type, idempotency_key, event_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(requests))
	args := make([]interface{}, 0, len(requests)*9)

	for i, r := range requests {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.Sequence, r.RequestType, r.IdempotencyKey, r.EventID,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp, r.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of custody journal entries to
// request_log.journal.
func (w *RequestLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO request_log.journal
		(journal_id, batch_id, request_ref, sequence, from_bucket, to_bucket, authority, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.RequestRef, j.Sequence,
			j.FromBucket, j.ToBucket, j.Authority, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload is a convenience wrapper for JSON-encoding request payloads.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
