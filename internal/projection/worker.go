package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between engine.EngineOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	RequestType    string
	EventID        *uint64
	JournalEntries []JournalEntry
	Position       *PositionUpdate
	Event          *EventUpdate
	Timestamp      int64
}

// PositionUpdate carries the post-apply position state for upsert, or
// a removal marker after close.
type PositionUpdate struct {
	UserID         uint64
	EventID        uint64
	AvgCostYes     uint64
	QtyYes         uint64
	AvgCostNo      uint64
	QtyNo          uint64
	CommissionRate uint64
	Version        int64
	Removed        bool
}

// EventUpdate carries the post-apply event state for upsert, or a
// removal marker after close.
type EventUpdate struct {
	EventID        uint64
	CommissionRate uint64
	MaxPrice       uint64
	Outcome        string
	Version        int64
	Removed        bool
}

// JournalEntry is a simplified custody journal leg for projection
// consumption. Buckets are canonical path strings.
type JournalEntry struct {
	FromBucket  string
	ToBucket    string
	Amount      int64
	JournalType int32
}

// ProjectionWorker updates projection tables from applied requests.
// The projection channel is non-blocking with drop: if projections
// fall behind, they can be rebuilt from the request log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the request log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal legs
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Position != nil {
		if err := pw.updatePositionProjection(ctx, tx, output.Position, output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if output.Event != nil {
		if err := pw.updateEventProjection(ctx, tx, output.Event, output.Sequence); err != nil {
			return fmt.Errorf("event projection: %w", err)
		}
	}

	// Settlement history rows for payout-bearing request types
	if entry, ok := settlementEntryFor(output); ok {
		if err := insertSettlementEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("settlement history: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Source bucket: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (bucket_path, balance, last_sequence)
		VALUES ($1, -$2, $3)
		ON CONFLICT (bucket_path)
		DO UPDATE SET balance = projections.balances.balance - $2, last_sequence = $3
	`, j.FromBucket, j.Amount, seq); err != nil {
		return err
	}

	// Destination bucket: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (bucket_path, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (bucket_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, j.ToBucket, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) updatePositionProjection(ctx context.Context, tx *sql.Tx, p *PositionUpdate, seq int64) error {
	if p.Removed {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions WHERE user_id = $1 AND event_id = $2
		`, p.UserID, p.EventID)
		return err
	}

	// Version guard keeps upserts idempotent under replay
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(user_id, event_id, avg_cost_yes, qty_yes, avg_cost_no, qty_no, commission_rate, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, event_id) DO UPDATE SET
			avg_cost_yes = $3, qty_yes = $4, avg_cost_no = $5, qty_no = $6,
			commission_rate = $7, version = $8, last_sequence = $9
		WHERE projections.positions.version <= $8
	`, p.UserID, p.EventID, p.AvgCostYes, p.QtyYes, p.AvgCostNo, p.QtyNo,
		p.CommissionRate, p.Version, seq)
	return err
}

func (pw *ProjectionWorker) updateEventProjection(ctx context.Context, tx *sql.Tx, e *EventUpdate, seq int64) error {
	if e.Removed {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.events WHERE event_id = $1
		`, e.EventID)
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.events
			(event_id, commission_rate, max_price, outcome, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO UPDATE SET
			outcome = $4, version = $5, last_sequence = $6
		WHERE projections.events.version <= $5
	`, e.EventID, e.CommissionRate, e.MaxPrice, e.Outcome, e.Version, seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the request
// log's journal. Settlement history and watermark are reset; balances
// are recomputed as credits minus debits per bucket.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.events`,
		`TRUNCATE projections.settlement_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (bucket_path, balance, last_sequence)
		SELECT
			to_bucket AS bucket_path,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM request_log.journal
		GROUP BY to_bucket
		ON CONFLICT (bucket_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (bucket_path, balance, last_sequence)
		SELECT
			from_bucket AS bucket_path,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM request_log.journal
		GROUP BY from_bucket
		ON CONFLICT (bucket_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
