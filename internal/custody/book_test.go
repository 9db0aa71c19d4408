package custody_test

import (
	"errors"
	"testing"

	"OutcomeLedger/internal/custody"
)

func deposit(t *testing.T, b *custody.Book, to custody.BucketKey, amount uint64) {
	t.Helper()
	batch := custody.NewBatch("seed", 0, 0).
		Mint(to, amount, custody.JournalTypeDeposit).
		Build()
	if err := b.Apply(batch); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
}

func TestBook_DepositAndTransfer(t *testing.T) {
	b := custody.NewBook()
	wallet := custody.UserWallet(7)
	escrow := custody.UserEscrow(7)

	deposit(t, b, wallet, 1_000_000)
	if got := b.Balance(wallet); got != 1_000_000 {
		t.Fatalf("wallet after deposit: %d", got)
	}

	batch := custody.NewBatch("req-1", 1, 0).
		Transfer(wallet, escrow, custody.UserAuthority(7), 400_000, custody.JournalTypeLock).
		Build()
	if err := b.Apply(batch); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if got := b.Balance(wallet); got != 600_000 {
		t.Errorf("wallet: got %d, want 600000", got)
	}
	if got := b.Balance(escrow); got != 400_000 {
		t.Errorf("escrow: got %d, want 400000", got)
	}
	if err := b.ValidateConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestBook_AuthorityMismatch(t *testing.T) {
	b := custody.NewBook()
	deposit(t, b, custody.UserWallet(7), 1000)

	batch := custody.NewBatch("req-1", 1, 0).
		Transfer(custody.UserWallet(7), custody.UserWallet(8), custody.UserAuthority(8), 1000, custody.JournalTypeAdjustment).
		Build()

	err := b.Apply(batch)
	if !errors.Is(err, custody.ErrAuthorityMismatch) {
		t.Fatalf("got %v, want ErrAuthorityMismatch", err)
	}
	if got := b.Balance(custody.UserWallet(7)); got != 1000 {
		t.Errorf("source mutated by rejected batch: %d", got)
	}
}

func TestBook_InsufficientFunds(t *testing.T) {
	b := custody.NewBook()
	deposit(t, b, custody.UserWallet(7), 500)

	batch := custody.NewBatch("req-1", 1, 0).
		Transfer(custody.UserWallet(7), custody.UserEscrow(7), custody.UserAuthority(7), 501, custody.JournalTypeLock).
		Build()

	if err := b.Apply(batch); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestBook_BatchAppliesAllOrNothing(t *testing.T) {
	b := custody.NewBook()
	deposit(t, b, custody.UserEscrow(7), 300)

	// Second leg overdraws the event escrow; the first leg must not land.
	batch := custody.NewBatch("req-1", 1, 0).
		Transfer(custody.UserEscrow(7), custody.EventEscrow(1), custody.UserAuthority(7), 300, custody.JournalTypePremium).
		Transfer(custody.EventEscrow(1), custody.Treasury(), custody.EventAuthority(1), 301, custody.JournalTypeCommission).
		Build()

	if err := b.Apply(batch); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if got := b.Balance(custody.UserEscrow(7)); got != 300 {
		t.Errorf("user escrow: got %d, want 300", got)
	}
	if got := b.Balance(custody.EventEscrow(1)); got != 0 {
		t.Errorf("event escrow: got %d, want 0", got)
	}
}

func TestBook_LaterLegSeesEarlierLeg(t *testing.T) {
	b := custody.NewBook()
	deposit(t, b, custody.EventEscrow(1), 1_000_000)

	// Payout plus commission funded by the same escrow within one batch.
	batch := custody.NewBatch("req-1", 1, 0).
		Transfer(custody.EventEscrow(1), custody.Treasury(), custody.EventAuthority(1), 40_000, custody.JournalTypeCommission).
		Transfer(custody.EventEscrow(1), custody.UserEscrow(7), custody.EventAuthority(1), 960_000, custody.JournalTypePayout).
		Build()

	if err := b.Apply(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := b.Balance(custody.EventEscrow(1)); got != 0 {
		t.Errorf("event escrow: got %d, want 0", got)
	}
	if got := b.Balance(custody.Treasury()); got != 40_000 {
		t.Errorf("treasury: got %d, want 40000", got)
	}
}

func TestBook_SetAuthority(t *testing.T) {
	b := custody.NewBook()
	deposit(t, b, custody.EventEscrow(1), 100)

	b.SetAuthority(custody.EventEscrow(1), custody.TreasuryAuthority)

	derived := custody.NewBatch("req-1", 1, 0).
		Transfer(custody.EventEscrow(1), custody.Treasury(), custody.EventAuthority(1), 100, custody.JournalTypeAdjustment).
		Build()
	if err := b.Apply(derived); !errors.Is(err, custody.ErrAuthorityMismatch) {
		t.Fatalf("derived authority accepted after override: %v", err)
	}

	reassigned := custody.NewBatch("req-2", 2, 0).
		Transfer(custody.EventEscrow(1), custody.Treasury(), custody.TreasuryAuthority, 100, custody.JournalTypeAdjustment).
		Build()
	if err := b.Apply(reassigned); err != nil {
		t.Fatalf("override authority rejected: %v", err)
	}
}

func TestBook_BurnTracksBoundary(t *testing.T) {
	b := custody.NewBook()
	deposit(t, b, custody.UserWallet(7), 1000)

	batch := custody.NewBatch("req-1", 1, 0).
		Burn(custody.UserWallet(7), custody.UserAuthority(7), 400, custody.JournalTypeWithdrawal).
		Build()
	if err := b.Apply(batch); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := b.TotalBurned(); got != 400 {
		t.Errorf("burned: got %d, want 400", got)
	}
	if err := b.ValidateConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestBatch_Validate(t *testing.T) {
	empty := custody.NewBatch("req-1", 1, 0).Build()
	if err := empty.Validate(); !errors.Is(err, custody.ErrEmptyBatch) {
		t.Errorf("empty batch: got %v, want ErrEmptyBatch", err)
	}

	// Zero-amount legs are dropped by the builder, not validated.
	skipped := custody.NewBatch("req-2", 2, 0).
		Transfer(custody.UserWallet(7), custody.UserEscrow(7), custody.UserAuthority(7), 0, custody.JournalTypeLock).
		Build()
	if !errors.Is(skipped.Validate(), custody.ErrEmptyBatch) {
		t.Error("zero-amount leg was not skipped")
	}
}
