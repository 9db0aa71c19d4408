package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to projection tables.
// Queries are served via the HTTP/JSON gateway, reading from the
// PostgreSQL projections. All responses include as_of_sequence for
// freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a user's wallet, escrow, and promo balances.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uint64,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	wallet, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%d:wallet", userID))
	if err != nil {
		return nil, err
	}

	escrow, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%d:escrow", userID))
	if err != nil {
		return nil, err
	}

	promo, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%d:promo", userID))
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:        userID,
		WalletBalance: uint64(wallet),
		EscrowBalance: uint64(escrow),
		PromoBalance:  uint64(promo),
		WalletDisplay: FormatSigned(wallet),
		EscrowDisplay: FormatSigned(escrow),
		PromoDisplay:  FormatSigned(promo),
		AsOfSequence:  asOfSeq,
	}, nil
}

// GetPositions returns all open positions for a user.
func (qs *QueryService) GetPositions(
	ctx context.Context,
	userID uint64,
) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT event_id, avg_cost_yes, qty_yes, avg_cost_no, qty_no, commission_rate, version
		FROM projections.positions
		WHERE user_id = $1
		ORDER BY event_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.UserID = userID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.EventID, &p.AvgCostYes, &p.QtyYes, &p.AvgCostNo, &p.QtyNo,
			&p.CommissionRate, &p.Version,
		); err != nil {
			return nil, err
		}
		p.AvgCostYesDisplay = FormatAmount(p.AvgCostYes)
		p.AvgCostNoDisplay = FormatAmount(p.AvgCostNo)
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetEvent returns one live event, or nil when unknown.
func (qs *QueryService) GetEvent(
	ctx context.Context,
	eventID uint64,
) (*EventResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var e EventResponse
	e.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT event_id, commission_rate, max_price, outcome, version
		FROM projections.events
		WHERE event_id = $1
	`, eventID).Scan(&e.EventID, &e.CommissionRate, &e.MaxPrice, &e.Outcome, &e.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.MaxPriceDisplay = FormatAmount(e.MaxPrice)
	return &e, nil
}

// GetEvents returns all live events.
func (qs *QueryService) GetEvents(ctx context.Context) ([]EventResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT event_id, commission_rate, max_price, outcome, version
		FROM projections.events
		ORDER BY event_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(&e.EventID, &e.CommissionRate, &e.MaxPrice, &e.Outcome, &e.Version); err != nil {
			return nil, err
		}
		e.MaxPriceDisplay = FormatAmount(e.MaxPrice)
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetSettlementHistory returns settlement records for an event with
// cursor-based pagination (sequence descending).
func (qs *QueryService) GetSettlementHistory(
	ctx context.Context,
	eventID uint64,
	limit int,
	afterSequence *int64,
) ([]SettlementResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, event_id, payout, commission, promo, timestamp
		FROM projections.settlement_history
		WHERE event_id = $1
	`
	args := []interface{}{eventID}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []SettlementResponse
	for rows.Next() {
		var h SettlementResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.EventID, &h.Payout, &h.Commission, &h.Promo, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		h.PayoutDisplay = FormatSigned(h.Payout)
		h.CommissionDisplay = FormatSigned(h.Commission)
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns custody journal entries touching a user's
// buckets, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uint64,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	bucketPrefix := fmt.Sprintf("user:%d:%%", userID)

	query := `
		SELECT journal_id, batch_id, request_ref, sequence,
		       from_bucket, to_bucket, authority, amount, journal_type, timestamp
		FROM request_log.journal
		WHERE (from_bucket LIKE $1 OR to_bucket LIKE $1)
	`
	args := []interface{}{bucketPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.RequestRef, &e.Sequence,
			&e.FromBucket, &e.ToBucket, &e.Authority, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.AmountDisplay = FormatSigned(e.Amount)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and journal zero-sum.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT r1.sequence
		FROM request_log.requests r1
		LEFT JOIN request_log.requests r2 ON r2.sequence = r1.sequence - 1
		WHERE r1.sequence > 0 AND r1.prev_hash != COALESCE(r2.state_hash, r1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every journal leg credits exactly what it debits, so projected
	// balances (external buckets included) must sum to zero.
	var drift sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT SUM(balance) FROM projections.balances
	`).Scan(&drift)
	if err != nil {
		return nil, err
	}
	if drift.Valid {
		report.BalanceDrift = drift.Int64
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.BalanceDrift == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, bucketPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE bucket_path = $1
	`, bucketPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
