package projection

import (
	"context"
	"database/sql"
	"strings"

	"OutcomeLedger/internal/custody"
)

// SettlementEntry is one queryable settlement record: the payout,
// commission, and promotional components of a sell that realized value
// on an event.
type SettlementEntry struct {
	Sequence    int64
	EventID     uint64
	RequestType string
	Payout      int64
	Commission  int64
	Promo       int64
	Timestamp   int64
}

// settlementEntryFor extracts a settlement record from an applied
// request, or reports false when the request realized nothing.
func settlementEntryFor(output ProjectionOutput) (SettlementEntry, bool) {
	if output.RequestType != "SellOrder" || output.EventID == nil {
		return SettlementEntry{}, false
	}

	entry := SettlementEntry{
		Sequence:    output.Sequence,
		EventID:     *output.EventID,
		RequestType: output.RequestType,
		Timestamp:   output.Timestamp,
	}

	for _, j := range output.JournalEntries {
		switch custody.JournalType(j.JournalType) {
		case custody.JournalTypePayout:
			entry.Payout += j.Amount
			// The promotional component pays into the user's promo bucket
			if strings.HasSuffix(j.ToBucket, ":promo") {
				entry.Promo += j.Amount
			}
		case custody.JournalTypeCommission:
			entry.Commission += j.Amount
		}
	}

	return entry, true
}

func insertSettlementEntry(ctx context.Context, tx *sql.Tx, entry SettlementEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.settlement_history
			(sequence, event_id, request_type, payout, commission, promo, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sequence) DO NOTHING
	`, entry.Sequence, entry.EventID, entry.RequestType,
		entry.Payout, entry.Commission, entry.Promo, entry.Timestamp)
	return err
}

// QuerySettlementHistory returns recent settlement records for an
// event, newest first.
func QuerySettlementHistory(ctx context.Context, db *sql.DB, eventID uint64, limit int) ([]SettlementEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_id, request_type, payout, commission, promo, timestamp
		FROM projections.settlement_history
		WHERE event_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SettlementEntry
	for rows.Next() {
		var e SettlementEntry
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.RequestType,
			&e.Payout, &e.Commission, &e.Promo, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
