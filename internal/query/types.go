package query

// BalanceResponse represents one user's custody balances for API
// queries. Raw values are fixed-point integers; the *Display fields
// carry the human-readable decimal rendering.
type BalanceResponse struct {
	UserID uint64 `json:"user_id"`

	// Ledger balances (from journal entries)
	WalletBalance uint64 `json:"wallet_balance"` // spendable
	EscrowBalance uint64 `json:"escrow_balance"` // locked for orders
	PromoBalance  uint64 `json:"promo_balance"`  // promotional credit

	WalletDisplay string `json:"wallet_display"`
	EscrowDisplay string `json:"escrow_display"`
	PromoDisplay  string `json:"promo_display"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected request sequence
}

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	UserID         uint64 `json:"user_id"`
	EventID        uint64 `json:"event_id"`
	AvgCostYes     uint64 `json:"avg_cost_yes"`
	QtyYes         uint64 `json:"qty_yes"`
	AvgCostNo      uint64 `json:"avg_cost_no"`
	QtyNo          uint64 `json:"qty_no"`
	CommissionRate uint64 `json:"commission_rate"`
	Version        int64  `json:"version"`

	AvgCostYesDisplay string `json:"avg_cost_yes_display"`
	AvgCostNoDisplay  string `json:"avg_cost_no_display"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// EventResponse represents a live event for API queries.
type EventResponse struct {
	EventID         uint64 `json:"event_id"`
	CommissionRate  uint64 `json:"commission_rate"`
	MaxPrice        uint64 `json:"max_price"`
	MaxPriceDisplay string `json:"max_price_display"`
	Outcome         string `json:"outcome"`
	Version         int64  `json:"version"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// SettlementResponse represents a settlement record for API queries.
type SettlementResponse struct {
	Sequence          int64  `json:"sequence"`
	EventID           uint64 `json:"event_id"`
	Payout            int64  `json:"payout"`
	Commission        int64  `json:"commission"`
	Promo             int64  `json:"promo"`
	PayoutDisplay     string `json:"payout_display"`
	CommissionDisplay string `json:"commission_display"`
	Timestamp         int64  `json:"timestamp"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a custody journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	RequestRef    string `json:"request_ref"`
	Sequence      int64  `json:"sequence"`
	FromBucket    string `json:"from_bucket"`
	ToBucket      string `json:"to_bucket"`
	Authority     string `json:"authority"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	BalanceDrift    int64   `json:"balance_drift"` // nonzero means the journal does not sum to zero
}
