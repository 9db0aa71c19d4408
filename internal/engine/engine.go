package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"OutcomeLedger/internal/custody"
	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/observability"
	"OutcomeLedger/internal/position"
	"OutcomeLedger/internal/promo"
	"OutcomeLedger/internal/request"
)

// Config carries the settlement policy knobs.
type Config struct {
	// RequireOperator gates create/resolve/close/grant to OperatorKey.
	RequireOperator bool
	OperatorKey     string

	// PromoEnabled turns the promotional balance splitter on.
	PromoEnabled bool

	// CreationDeposit is charged to the payer wallet when an event is
	// created and refunded when it is closed.
	CreationDeposit uint64

	// PositionDeposit is charged when a position record is created and
	// refunded when it is closed.
	PositionDeposit uint64

	// IdempotencyCapacity bounds the in-memory dedup LRU.
	IdempotencyCapacity int
}

// SettlementEngine is the single-threaded request processor
type SettlementEngine struct {
	cfg      Config
	sequence int64
	hasher   *StateHasher

	registry  *market.Registry
	positions *position.Book
	funds     *custody.Book
	fundings  map[uuid.UUID]promo.Funding // lock records, keyed by lock request ID

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- EngineOutput
	projectionChan chan<- EngineOutput
}

// EngineOutput is one committed request with its custody batch.
// Position and Event carry post-commit state captured on the engine
// goroutine so projection workers never touch live engine state.
type EngineOutput struct {
	Envelope   *request.Envelope
	Batch      *custody.Batch
	StateDelta []byte
	Position   *PositionState
	Event      *EventState
}

// PositionState is a flat copy of a position after the request applied.
// Removed marks a close.
type PositionState struct {
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

// EventState is a flat copy of a registry event after the request
// applied. Removed marks a close.
type EventState struct {
	EventID        uint64
	CommissionRate uint64
	MaxPrice       uint64
	Outcome        string
	Version        int64
	Removed        bool
}

func NewSettlementEngine(
	cfg Config,
	startSequence int64,
	persistChan, projectionChan chan<- EngineOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *SettlementEngine {
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}

	return &SettlementEngine{
		cfg:               cfg,
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		registry:          market.NewRegistry(),
		positions:         position.NewBook(),
		funds:             custody.NewBook(),
		fundings:          make(map[uuid.UUID]promo.Funding),
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessRequest is the main processing pipeline
func (e *SettlementEngine) ProcessRequest(req request.Request) error {
	start := time.Now()
	requestType := req.RequestType().String()
	idempotencyKey := req.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := e.idempotency.IsDuplicate(requestType, idempotencyKey)

	// Step 2: Sequence validation
	partition := e.getPartition(req)
	if err := e.sequenceValidator.ValidateSequence(partition, req.SourceSequence(), isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if e.metrics != nil {
			e.metrics.RequestsRejected.WithLabelValues(requestType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch - validate and plan, no mutation yet
	batch, commit, err := e.dispatchRequest(req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RequestsRejected.WithLabelValues(requestType, rejectionReason(err)).Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Apply custody batch all-or-nothing. A failed transfer
	// aborts before commit runs, leaving zero ledger change.
	if batch != nil && len(batch.Journals) > 0 {
		if err := e.funds.Apply(batch); err != nil {
			if e.metrics != nil {
				e.metrics.RequestsRejected.WithLabelValues(requestType, rejectionReason(err)).Inc()
			}
			return fmt.Errorf("custody transfer failed: %w", err)
		}
		if e.metrics != nil {
			e.metrics.TransfersApplied.Add(float64(len(batch.Journals)))
		}
	}

	// Step 5: Commit the staged registry/position mutation
	if commit != nil {
		commit()
	}

	// Step 6: Compute state digest and hash chain
	stateDigest := e.computeStateDigest(batch, req)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	payload, err := json.Marshal(req)
	if err != nil {
		panic(fmt.Sprintf("FATAL: request payload not serializable: %v", err))
	}

	envelope := &request.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		RequestType:    req.RequestType(),
		EventID:        req.EventID(),
		Timestamp:      e.getRequestTimestamp(req),
		SourceSequence: req.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	posState, evState := e.captureAffectedState(req)

	output := EngineOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Position:   posState,
		Event:      evState,
	}
	e.sequence++

	// Step 7: Periodic conservation check (full balance scan, so not
	// run on every request)
	if e.sequence > 0 && e.sequence%1000 == 0 {
		if err := e.funds.ValidateConservation(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated at seq %d: %v", e.sequence, err))
		}
	}

	// Step 8: Emit outputs. Persistence uses a BLOCKING send
	// (backpressure, no request is lost); projections use a
	// NON-BLOCKING send and rebuild from the log if they fall behind.
	e.persistChan <- output

	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDropped.Inc()
		}
	}

	// Step 9: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(requestType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.RequestsApplied.WithLabelValues(requestType).Inc()
		e.metrics.RequestDuration.WithLabelValues(requestType).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}

	return nil
}

// getPartition determines the partition key for sequence validation
func (e *SettlementEngine) getPartition(req request.Request) string {
	if eventID := req.EventID(); eventID != nil {
		return fmt.Sprintf("event:%d", *eventID)
	}
	return "funds"
}

// getRequestTimestamp extracts the versioned timestamp. The engine
// never calls time.Now() on the processing path: all timestamps are
// versioned inputs.
func (e *SettlementEngine) getRequestTimestamp(req request.Request) time.Time {
	switch r := req.(type) {
	case *request.CreateEvent:
		return r.Timestamp
	case *request.ResolveEvent:
		return r.Timestamp
	case *request.CloseEvent:
		return r.Timestamp
	case *request.BuyOrder:
		return r.Timestamp
	case *request.SellOrder:
		return r.Timestamp
	case *request.ClosePosition:
		return r.Timestamp
	case *request.LockFunds:
		return r.Timestamp
	case *request.ReleaseFunds:
		return r.Timestamp
	case *request.Deposit:
		return r.Timestamp
	case *request.Withdraw:
		return r.Timestamp
	case *request.GrantPromo:
		return r.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getRequestTimestamp called with unhandled request type %T", req))
	}
}

func (e *SettlementEngine) dispatchRequest(req request.Request) (*custody.Batch, func(), error) {
	switch r := req.(type) {
	case *request.CreateEvent:
		return e.handleCreateEvent(r)
	case *request.ResolveEvent:
		return e.handleResolveEvent(r)
	case *request.CloseEvent:
		return e.handleCloseEvent(r)
	case *request.BuyOrder:
		return e.handleBuyOrder(r)
	case *request.SellOrder:
		return e.handleSellOrder(r)
	case *request.ClosePosition:
		return e.handleClosePosition(r)
	case *request.LockFunds:
		return e.handleLockFunds(r)
	case *request.ReleaseFunds:
		return e.handleReleaseFunds(r)
	case *request.Deposit:
		return e.handleDeposit(r)
	case *request.Withdraw:
		return e.handleWithdraw(r)
	case *request.GrantPromo:
		return e.handleGrantPromo(r)
	default:
		return nil, nil, fmt.Errorf("unknown request type: %T", req)
	}
}

func (e *SettlementEngine) authorize(signer string) error {
	if !e.cfg.RequireOperator {
		return nil
	}
	if signer != e.cfg.OperatorKey {
		return market.ErrUnauthorized
	}
	return nil
}

func (e *SettlementEngine) handleCreateEvent(r *request.CreateEvent) (*custody.Batch, func(), error) {
	if err := e.authorize(r.Signer); err != nil {
		return nil, nil, err
	}
	if err := e.registry.CanCreate(r.NewEventID, r.CommissionRate); err != nil {
		return nil, nil, err
	}

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Transfer(custody.UserWallet(r.Payer), custody.Treasury(),
			custody.UserAuthority(r.Payer), e.cfg.CreationDeposit, custody.JournalTypeEventDeposit).
		Build()

	commit := func() {
		if _, err := e.registry.Create(r.NewEventID, r.CommissionRate, r.MaxPrice); err != nil {
			panic(fmt.Sprintf("FATAL: validated create failed: %v", err))
		}
	}
	return batch, commit, nil
}

func (e *SettlementEngine) handleResolveEvent(r *request.ResolveEvent) (*custody.Batch, func(), error) {
	if err := e.authorize(r.Signer); err != nil {
		return nil, nil, err
	}

	ev, err := e.registry.Get(r.Event)
	if err != nil {
		return nil, nil, err
	}
	if !r.Outcome.Valid() {
		return nil, nil, market.ErrInvalidOutcome
	}
	if ev.Resolved() {
		return nil, nil, market.ErrOutcomeAlreadyResolved
	}

	commit := func() {
		if err := e.registry.Resolve(r.Event, r.Outcome); err != nil {
			panic(fmt.Sprintf("FATAL: validated resolve failed: %v", err))
		}
	}
	return nil, commit, nil
}

func (e *SettlementEngine) handleCloseEvent(r *request.CloseEvent) (*custody.Batch, func(), error) {
	if err := e.authorize(r.Signer); err != nil {
		return nil, nil, err
	}
	if _, err := e.registry.Get(r.Event); err != nil {
		return nil, nil, err
	}
	if e.positions.OpenForEvent(r.Event) {
		return nil, nil, market.ErrOpenPositions
	}

	// Sweep residual escrow dust to the treasury, then refund the
	// creation deposit to the closing payer.
	escrow := custody.EventEscrow(r.Event)
	residual := e.funds.Balance(escrow)

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Transfer(escrow, custody.Treasury(),
			e.funds.AuthorityFor(escrow), residual, custody.JournalTypeAdjustment).
		Transfer(custody.Treasury(), custody.UserWallet(r.Payer),
			custody.TreasuryAuthority, e.cfg.CreationDeposit, custody.JournalTypeEventRefund).
		Build()

	commit := func() {
		if err := e.registry.Remove(r.Event); err != nil {
			panic(fmt.Sprintf("FATAL: validated close failed: %v", err))
		}
	}
	return batch, commit, nil
}

func (e *SettlementEngine) handleBuyOrder(r *request.BuyOrder) (*custody.Batch, func(), error) {
	ev, err := e.registry.Get(r.Event)
	if err != nil {
		return nil, nil, err
	}

	plan, err := e.positions.PlanBuy(r.UserID, ev, r.Side, r.UnitPrice, r.Quantity, r.CommissionRate)
	if err != nil {
		return nil, nil, err
	}

	bb := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro())

	if e.positions.Get(r.UserID, r.Event) == nil {
		// First buy creates the position record; charge its storage
		// deposit alongside the premium.
		bb.Transfer(custody.UserWallet(r.UserID), custody.Treasury(),
			custody.UserAuthority(r.UserID), e.cfg.PositionDeposit, custody.JournalTypeStorageDeposit)
	}

	bb.Transfer(custody.UserEscrow(r.UserID), custody.EventEscrow(r.Event),
		custody.UserAuthority(r.UserID), plan.Cost, custody.JournalTypePremium)

	commit := func() {
		e.positions.CommitBuy(plan)
	}
	return bb.Build(), commit, nil
}

func (e *SettlementEngine) handleSellOrder(r *request.SellOrder) (*custody.Batch, func(), error) {
	ev, err := e.registry.Get(r.Event)
	if err != nil {
		return nil, nil, err
	}

	plan, err := e.positions.PlanSell(r.UserID, ev, r.Side, r.UnitPrice, r.Quantity)
	if err != nil {
		return nil, nil, err
	}

	promoPart := uint64(0)
	if e.cfg.PromoEnabled {
		promoPart = r.Promo
	}
	funding := promo.SplitCredit(plan.Payout, promoPart)

	escrow := custody.EventEscrow(r.Event)
	auth := e.funds.AuthorityFor(escrow)

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Transfer(escrow, custody.Treasury(), auth, plan.Commission, custody.JournalTypeCommission).
		Transfer(escrow, custody.UserPromo(r.UserID), auth, funding.PromoAmount, custody.JournalTypePayout).
		Transfer(escrow, custody.UserEscrow(r.UserID), auth, funding.PrimaryAmount, custody.JournalTypePayout).
		Build()

	commit := func() {
		e.positions.CommitSell(plan)
	}
	return batch, commit, nil
}

func (e *SettlementEngine) handleClosePosition(r *request.ClosePosition) (*custody.Batch, func(), error) {
	pos := e.positions.Get(r.UserID, r.Event)
	if pos == nil {
		return nil, nil, position.ErrUnknownPosition
	}
	if !pos.Flat() {
		return nil, nil, position.ErrPendingQuantity
	}

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Transfer(custody.Treasury(), custody.UserWallet(r.UserID),
			custody.TreasuryAuthority, e.cfg.PositionDeposit, custody.JournalTypeStorageRefund).
		Build()

	commit := func() {
		if err := e.positions.Close(r.UserID, r.Event); err != nil {
			panic(fmt.Sprintf("FATAL: validated close failed: %v", err))
		}
	}
	return batch, commit, nil
}

func (e *SettlementEngine) handleLockFunds(r *request.LockFunds) (*custody.Batch, func(), error) {
	promoBalance := uint64(0)
	if e.cfg.PromoEnabled {
		promoBalance = e.funds.Balance(custody.UserPromo(r.UserID))
	}
	funding := promo.SplitDebit(r.Amount, promoBalance)

	auth := custody.UserAuthority(r.UserID)
	escrow := custody.UserEscrow(r.UserID)

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Transfer(custody.UserPromo(r.UserID), escrow, auth, funding.PromoAmount, custody.JournalTypeLock).
		Transfer(custody.UserWallet(r.UserID), escrow, auth, funding.PrimaryAmount, custody.JournalTypeLock).
		Build()

	commit := func() {
		e.fundings[r.RequestID] = funding
	}
	return batch, commit, nil
}

func (e *SettlementEngine) handleReleaseFunds(r *request.ReleaseFunds) (*custody.Batch, func(), error) {
	// The promotional component is bounded by the funding record written
	// at lock time. The caller's echo is capped by the record, and a
	// release with no record returns everything to the primary wallet.
	promoPart := uint64(0)
	funding, recorded := e.fundings[r.LockID]
	if e.cfg.PromoEnabled && recorded {
		promoPart = r.Promo
		if promoPart > funding.PromoAmount {
			promoPart = funding.PromoAmount
		}
	}
	split := promo.SplitCredit(r.Amount, promoPart)

	escrow := custody.UserEscrow(r.UserID)
	auth := custody.UserAuthority(r.UserID)

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Transfer(escrow, custody.UserPromo(r.UserID), auth, split.PromoAmount, custody.JournalTypeRelease).
		Transfer(escrow, custody.UserWallet(r.UserID), auth, split.PrimaryAmount, custody.JournalTypeRelease).
		Build()

	var commit func()
	if recorded {
		commit = func() {
			delete(e.fundings, r.LockID)
		}
	}
	return batch, commit, nil
}

func (e *SettlementEngine) handleDeposit(r *request.Deposit) (*custody.Batch, func(), error) {
	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Mint(custody.UserWallet(r.UserID), r.Amount, custody.JournalTypeDeposit).
		Build()
	return batch, nil, nil
}

func (e *SettlementEngine) handleWithdraw(r *request.Withdraw) (*custody.Batch, func(), error) {
	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Burn(custody.UserWallet(r.UserID), custody.UserAuthority(r.UserID),
			r.Amount, custody.JournalTypeWithdrawal).
		Build()
	return batch, nil, nil
}

func (e *SettlementEngine) handleGrantPromo(r *request.GrantPromo) (*custody.Batch, func(), error) {
	if err := e.authorize(r.Signer); err != nil {
		return nil, nil, err
	}

	batch := custody.NewBatch(r.IdempotencyKey(), e.sequence, r.Timestamp.UnixMicro()).
		Mint(custody.UserPromo(r.UserID), r.Amount, custody.JournalTypePromoGrant).
		Build()
	return batch, nil, nil
}

// computeStateDigest creates canonical bytes for the state hash:
// every bucket touched by the batch plus the event and position the
// request addressed, in deterministic order.
func (e *SettlementEngine) computeStateDigest(batch *custody.Batch, req request.Request) []byte {
	affected := make(map[custody.BucketKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.From] = true
			affected[j.To] = true
		}
	}

	buckets := make([]custody.BucketKey, 0, len(affected))
	for key := range affected {
		buckets = append(buckets, key)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Path() < buckets[j].Path()
	})

	digest := make([]byte, 0, len(buckets)*32)
	for _, key := range buckets {
		path := key.Path()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendUint64LE(digest, e.funds.Balance(key))
	}

	if eventID := req.EventID(); eventID != nil {
		digest = appendUint64LE(digest, *eventID)
		if ev, err := e.registry.Get(*eventID); err == nil {
			digest = append(digest, byte(ev.Outcome()))
			digest = appendUint64LE(digest, uint64(ev.Version()))
		}

		if userID, ok := requestUser(req); ok {
			digest = appendUint64LE(digest, userID)
			if pos := e.positions.Get(userID, *eventID); pos != nil {
				digest = appendUint64LE(digest, pos.AvgCost[position.SideYes])
				digest = appendUint64LE(digest, pos.Qty[position.SideYes])
				digest = appendUint64LE(digest, pos.AvgCost[position.SideNo])
				digest = appendUint64LE(digest, pos.Qty[position.SideNo])
				digest = appendUint64LE(digest, uint64(pos.Version))
			}
		}
	}

	return digest
}

// captureAffectedState copies the post-commit event and position the
// request addressed. Runs on the engine goroutine, so reads are safe.
func (e *SettlementEngine) captureAffectedState(req request.Request) (*PositionState, *EventState) {
	eventID := req.EventID()
	if eventID == nil {
		return nil, nil
	}

	var evState *EventState
	if ev, err := e.registry.Get(*eventID); err == nil {
		evState = &EventState{
			EventID:        ev.EventID,
			CommissionRate: ev.CommissionRate,
			MaxPrice:       ev.MaxPrice,
			Outcome:        ev.Outcome().String(),
			Version:        ev.Version(),
		}
	} else if req.RequestType() == request.RequestTypeCloseEvent {
		evState = &EventState{EventID: *eventID, Removed: true}
	}

	var posState *PositionState
	if userID, ok := requestUser(req); ok {
		if pos := e.positions.Get(userID, *eventID); pos != nil {
			posState = &PositionState{
				UserID:         pos.UserID,
				EventID:        pos.EventID,
				AvgCostYes:     pos.AvgCost[position.SideYes],
				QtyYes:         pos.Qty[position.SideYes],
				AvgCostNo:      pos.AvgCost[position.SideNo],
				QtyNo:          pos.Qty[position.SideNo],
				CommissionRate: pos.CommissionRate,
				Version:        pos.Version,
			}
		} else if req.RequestType() == request.RequestTypeClosePosition {
			posState = &PositionState{UserID: userID, EventID: *eventID, Removed: true}
		}
	}

	return posState, evState
}

func requestUser(req request.Request) (uint64, bool) {
	switch r := req.(type) {
	case *request.BuyOrder:
		return r.UserID, true
	case *request.SellOrder:
		return r.UserID, true
	case *request.ClosePosition:
		return r.UserID, true
	default:
		return 0, false
	}
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// rejectionReason maps typed rejections to a bounded metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, market.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, market.ErrInvalidCommissionRate):
		return "invalid_commission_rate"
	case errors.Is(err, market.ErrDuplicateEvent):
		return "duplicate_event"
	case errors.Is(err, market.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, market.ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, market.ErrOutcomeAlreadyResolved):
		return "outcome_already_resolved"
	case errors.Is(err, market.ErrOpenPositions):
		return "open_positions"
	case errors.Is(err, position.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, position.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, position.ErrQuantityOverflow):
		return "quantity_overflow"
	case errors.Is(err, position.ErrInsufficientQuantity):
		return "insufficient_quantity"
	case errors.Is(err, position.ErrPendingQuantity):
		return "pending_quantity"
	case errors.Is(err, position.ErrEventNotFinished):
		return "event_not_finished"
	case errors.Is(err, position.ErrOutcomeMismatch):
		return "outcome_mismatch"
	case errors.Is(err, position.ErrUnknownPosition):
		return "unknown_position"
	case errors.Is(err, custody.ErrAuthorityMismatch):
		return "authority_mismatch"
	case errors.Is(err, custody.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "other"
	}
}
