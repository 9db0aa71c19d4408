package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"OutcomeLedger/internal/custody"
	"OutcomeLedger/internal/engine"
	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/position"
	"OutcomeLedger/internal/request"
)

const (
	operatorKey = "ops-test-key"
	maxPrice    = 1_000_000
)

// newTestEngine creates a SettlementEngine with buffered channels and
// no DB checker.
func newTestEngine(t *testing.T) (*engine.SettlementEngine, chan engine.EngineOutput, chan engine.EngineOutput) {
	t.Helper()
	persistChan := make(chan engine.EngineOutput, 1024)
	projChan := make(chan engine.EngineOutput, 1024)
	cfg := engine.Config{
		RequireOperator: true,
		OperatorKey:     operatorKey,
		PromoEnabled:    true,
		CreationDeposit: 1_000,
		PositionDeposit: 100,
	}
	e := engine.NewSettlementEngine(cfg, 0, persistChan, projChan, nil, nil)
	return e, persistChan, projChan
}

func ts(seq int64) time.Time {
	return time.UnixMicro(1_000_000 + seq*1_000)
}

func process(t *testing.T, e *engine.SettlementEngine, req request.Request) {
	t.Helper()
	if err := e.ProcessRequest(req); err != nil {
		t.Fatalf("%s rejected: %v", req.RequestType(), err)
	}
}

func depositReq(userID, amount uint64, seq int64) *request.Deposit {
	return &request.Deposit{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Sequence:  seq,
		Timestamp: ts(seq),
	}
}

func lockReq(userID, amount uint64, seq int64) *request.LockFunds {
	return &request.LockFunds{
		RequestID: uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Sequence:  seq,
		Timestamp: ts(seq),
	}
}

func createEventReq(payer, eventID, rate uint64, seq int64) *request.CreateEvent {
	return &request.CreateEvent{
		RequestID:      uuid.New(),
		Signer:         operatorKey,
		Payer:          payer,
		NewEventID:     eventID,
		CommissionRate: rate,
		MaxPrice:       maxPrice,
		Sequence:       seq,
		Timestamp:      ts(seq),
	}
}

func buyReq(userID, eventID uint64, side position.Side, price, qty uint64, seq int64) *request.BuyOrder {
	return &request.BuyOrder{
		OrderID:        uuid.New(),
		UserID:         userID,
		Event:          eventID,
		Side:           side,
		UnitPrice:      price,
		Quantity:       qty,
		CommissionRate: 10,
		Sequence:       seq,
		Timestamp:      ts(seq),
	}
}

func sellReq(userID, eventID uint64, side position.Side, price, qty uint64, seq int64) *request.SellOrder {
	return &request.SellOrder{
		OrderID:   uuid.New(),
		UserID:    userID,
		Event:     eventID,
		Side:      side,
		UnitPrice: price,
		Quantity:  qty,
		Sequence:  seq,
		Timestamp: ts(seq),
	}
}

func TestEngine_FullLifecycle(t *testing.T) {
	e, persistChan, _ := newTestEngine(t)

	const payer, trader = uint64(9), uint64(5)

	// Fund boundary
	process(t, e, depositReq(payer, 10_000, 0))
	process(t, e, depositReq(trader, 5_000_000, 1))
	process(t, e, lockReq(trader, 2_000_000, 2))

	// Event lifecycle
	process(t, e, createEventReq(payer, 1, 10, 0))
	process(t, e, buyReq(trader, 1, position.SideYes, 300_000, 3, 1))

	process(t, e, &request.ResolveEvent{
		RequestID: uuid.New(),
		Signer:    operatorKey,
		Event:     1,
		Outcome:   market.OutcomeYes,
		Sequence:  2,
		Timestamp: ts(2),
	})

	// Profitable sell: cost 600000, proceeds 800000, commission 20000
	process(t, e, sellReq(trader, 1, position.SideYes, 400_000, 2, 3))
	// Losing sell drains the escrow exactly, no commission
	process(t, e, sellReq(trader, 1, position.SideYes, 100_000, 1, 4))

	process(t, e, &request.ClosePosition{
		RequestID: uuid.New(),
		UserID:    trader,
		Event:     1,
		Sequence:  5,
		Timestamp: ts(5),
	})
	process(t, e, &request.CloseEvent{
		RequestID: uuid.New(),
		Signer:    operatorKey,
		Payer:     payer,
		Event:     1,
		Sequence:  6,
		Timestamp: ts(6),
	})

	funds := e.Funds()
	if got := funds.Balance(custody.UserWallet(trader)); got != 3_000_000 {
		t.Errorf("trader wallet: got %d, want 3000000", got)
	}
	if got := funds.Balance(custody.UserEscrow(trader)); got != 1_980_000 {
		t.Errorf("trader escrow: got %d, want 1980000", got)
	}
	if got := funds.Balance(custody.Treasury()); got != 20_000 {
		t.Errorf("treasury: got %d, want 20000", got)
	}
	if got := funds.Balance(custody.UserWallet(payer)); got != 10_000 {
		t.Errorf("payer wallet: got %d, want 10000", got)
	}
	if got := funds.Balance(custody.EventEscrow(1)); got != 0 {
		t.Errorf("event escrow not drained: %d", got)
	}
	if err := funds.ValidateConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}

	if e.Positions().Get(trader, 1) != nil {
		t.Error("position still present after close")
	}
	if _, err := e.Registry().Get(1); !errors.Is(err, market.ErrUnknownEvent) {
		t.Errorf("event still present after close: %v", err)
	}

	// Every committed request landed on the persist channel in order,
	// chained by state hash.
	close(persistChan)
	var prev *request.Envelope
	seq := int64(0)
	for out := range persistChan {
		if out.Envelope.Sequence != seq {
			t.Fatalf("envelope sequence: got %d, want %d", out.Envelope.Sequence, seq)
		}
		if prev != nil && out.Envelope.PrevHash != prev.StateHash {
			t.Fatalf("hash chain broken at sequence %d", seq)
		}
		prev = out.Envelope
		seq++
	}
	if seq != 9 {
		t.Errorf("committed outputs: got %d, want 9", seq)
	}
}

func TestEngine_DuplicateRequestSkipped(t *testing.T) {
	e, persistChan, _ := newTestEngine(t)

	dep := depositReq(5, 1_000, 0)
	process(t, e, dep)
	process(t, e, dep) // resubmission, same idempotency key and sequence

	if got := e.Funds().Balance(custody.UserWallet(5)); got != 1_000 {
		t.Errorf("wallet after duplicate: got %d, want 1000", got)
	}
	if got := len(persistChan); got != 1 {
		t.Errorf("persisted outputs: got %d, want 1", got)
	}
}

func TestEngine_SequenceGapRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, depositReq(5, 1_000, 0))

	if err := e.ProcessRequest(depositReq(5, 1_000, 5)); err == nil {
		t.Fatal("sequence gap accepted")
	}
	if got := e.Funds().Balance(custody.UserWallet(5)); got != 1_000 {
		t.Errorf("gap request mutated state: %d", got)
	}
}

func TestEngine_UnauthorizedOperator(t *testing.T) {
	e, _, _ := newTestEngine(t)

	req := createEventReq(9, 1, 10, 0)
	req.Signer = "not-the-operator"

	err := e.ProcessRequest(req)
	if !errors.Is(err, market.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if _, err := e.Registry().Get(1); !errors.Is(err, market.ErrUnknownEvent) {
		t.Error("event created despite rejection")
	}
}

func TestEngine_OperatorGateConfigurable(t *testing.T) {
	persistChan := make(chan engine.EngineOutput, 16)
	projChan := make(chan engine.EngineOutput, 16)
	e := engine.NewSettlementEngine(engine.Config{
		RequireOperator: false,
		PromoEnabled:    false,
	}, 0, persistChan, projChan, nil, nil)

	process(t, e, depositReq(9, 10_000, 0))

	req := createEventReq(9, 1, 10, 0)
	req.Signer = "anyone"
	process(t, e, req)

	if _, err := e.Registry().Get(1); err != nil {
		t.Errorf("event not created with gate off: %v", err)
	}
}

func TestEngine_TransferFailureAbortsRequest(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, depositReq(9, 10_000, 0))
	process(t, e, depositReq(5, 10_000, 1))
	process(t, e, createEventReq(9, 1, 10, 0))

	// No funds locked: the premium transfer must fail, leaving the
	// position book untouched.
	err := e.ProcessRequest(buyReq(5, 1, position.SideYes, 300_000, 3, 1))
	if !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	if e.Positions().Get(5, 1) != nil {
		t.Error("position committed despite failed transfer")
	}
	if got := e.Funds().Balance(custody.EventEscrow(1)); got != 0 {
		t.Errorf("event escrow credited despite failed transfer: %d", got)
	}
	// The position deposit leg must not have landed either.
	if got := e.Funds().Balance(custody.UserWallet(5)); got != 10_000 {
		t.Errorf("wallet mutated by aborted buy: %d", got)
	}
}

func TestEngine_PromoSplitOnLock(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, &request.GrantPromo{
		RequestID: uuid.New(),
		Signer:    operatorKey,
		UserID:    5,
		Amount:    400,
		Sequence:  0,
		Timestamp: ts(0),
	})
	process(t, e, depositReq(5, 1_000, 1))

	lock := lockReq(5, 1_000, 2)
	process(t, e, lock)

	funds := e.Funds()
	if got := funds.Balance(custody.UserPromo(5)); got != 0 {
		t.Errorf("promo bucket: got %d, want 0", got)
	}
	if got := funds.Balance(custody.UserWallet(5)); got != 400 {
		t.Errorf("wallet: got %d, want 400", got)
	}
	if got := funds.Balance(custody.UserEscrow(5)); got != 1_000 {
		t.Errorf("escrow: got %d, want 1000", got)
	}

	f, ok := e.Funding(lock.RequestID)
	if !ok {
		t.Fatal("lock funding record not stored")
	}
	if f.PromoAmount != 400 || f.PrimaryAmount != 600 {
		t.Errorf("funding record: %+v", f)
	}

	// Release against the lock record restores both buckets and
	// consumes the record.
	process(t, e, &request.ReleaseFunds{
		RequestID: uuid.New(),
		LockID:    lock.RequestID,
		UserID:    5,
		Amount:    1_000,
		Promo:     f.PromoAmount,
		Sequence:  3,
		Timestamp: ts(3),
	})
	if got := funds.Balance(custody.UserPromo(5)); got != 400 {
		t.Errorf("promo after release: got %d, want 400", got)
	}
	if got := funds.Balance(custody.UserWallet(5)); got != 1_000 {
		t.Errorf("wallet after release: got %d, want 1000", got)
	}
	if _, ok := e.Funding(lock.RequestID); ok {
		t.Error("funding record must be consumed by release")
	}
}

func TestEngine_ReleasePromoCappedByLockRecord(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, &request.GrantPromo{
		RequestID: uuid.New(),
		Signer:    operatorKey,
		UserID:    5,
		Amount:    400,
		Sequence:  0,
		Timestamp: ts(0),
	})
	process(t, e, depositReq(5, 1_000, 1))

	lock := lockReq(5, 1_000, 2)
	process(t, e, lock)

	// A release claiming the whole amount as promotional is capped by
	// the 400 actually locked from the promo bucket.
	process(t, e, &request.ReleaseFunds{
		RequestID: uuid.New(),
		LockID:    lock.RequestID,
		UserID:    5,
		Amount:    1_000,
		Promo:     1_000,
		Sequence:  3,
		Timestamp: ts(3),
	})

	funds := e.Funds()
	if got := funds.Balance(custody.UserPromo(5)); got != 400 {
		t.Errorf("promo bucket: got %d, want 400", got)
	}
	if got := funds.Balance(custody.UserWallet(5)); got != 1_000 {
		t.Errorf("wallet: got %d, want 1000", got)
	}
}

func TestEngine_ReleaseWithoutLockRecordAllPrimary(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, &request.GrantPromo{
		RequestID: uuid.New(),
		Signer:    operatorKey,
		UserID:    5,
		Amount:    400,
		Sequence:  0,
		Timestamp: ts(0),
	})
	process(t, e, depositReq(5, 600, 1))
	process(t, e, lockReq(5, 1_000, 2))

	// No record under this lock id: the claimed promo component is
	// ignored and everything returns to the primary wallet.
	process(t, e, &request.ReleaseFunds{
		RequestID: uuid.New(),
		LockID:    uuid.New(),
		UserID:    5,
		Amount:    1_000,
		Promo:     400,
		Sequence:  3,
		Timestamp: ts(3),
	})

	funds := e.Funds()
	if got := funds.Balance(custody.UserPromo(5)); got != 0 {
		t.Errorf("promo bucket: got %d, want 0", got)
	}
	if got := funds.Balance(custody.UserWallet(5)); got != 1_000 {
		t.Errorf("wallet: got %d, want 1000", got)
	}
}

func TestEngine_CloseEventWithOpenPositions(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, depositReq(9, 10_000, 0))
	process(t, e, depositReq(5, 5_000_000, 1))
	process(t, e, lockReq(5, 2_000_000, 2))
	process(t, e, createEventReq(9, 1, 10, 0))
	process(t, e, buyReq(5, 1, position.SideNo, 300_000, 2, 1))

	err := e.ProcessRequest(&request.CloseEvent{
		RequestID: uuid.New(),
		Signer:    operatorKey,
		Payer:     9,
		Event:     1,
		Sequence:  2,
		Timestamp: ts(2),
	})
	if !errors.Is(err, market.ErrOpenPositions) {
		t.Fatalf("got %v, want ErrOpenPositions", err)
	}
	if _, err := e.Registry().Get(1); err != nil {
		t.Error("event removed despite open positions")
	}
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t)

	process(t, e, depositReq(9, 10_000, 0))
	process(t, e, depositReq(5, 5_000_000, 1))
	process(t, e, lockReq(5, 2_000_000, 2))
	process(t, e, createEventReq(9, 1, 10, 0))
	process(t, e, buyReq(5, 1, position.SideYes, 300_000, 3, 1))

	snap := e.CreateSnapshotState()

	persistChan := make(chan engine.EngineOutput, 1024)
	projChan := make(chan engine.EngineOutput, 1024)
	restored := engine.NewSettlementEngine(engine.Config{
		RequireOperator: true,
		OperatorKey:     operatorKey,
		PromoEnabled:    true,
		CreationDeposit: 1_000,
		PositionDeposit: 100,
	}, 0, persistChan, projChan, nil, nil)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != e.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), e.GetSequence())
	}
	if restored.GetStateHash() != e.GetStateHash() {
		t.Error("state hash mismatch after restore")
	}
	if got := restored.Funds().Balance(custody.UserEscrow(5)); got != 1_100_000 {
		t.Errorf("restored escrow: got %d, want 1100000", got)
	}

	pos := restored.Positions().Get(5, 1)
	if pos == nil || pos.Qty[position.SideYes] != 3 || pos.AvgCost[position.SideYes] != 300_000 {
		t.Errorf("restored position: %+v", pos)
	}

	// Restored engine continues the same partition sequences.
	process(t, restored, sellReq(5, 1, position.SideYes, 300_000, 1, 2))
}
