package request

import (
	"time"

	"github.com/google/uuid"
)

// LockFunds moves spendable balance into the user's escrow bucket,
// drawing promotional credit first. The split chosen at lock time is
// recorded per order and echoed back on release.
type LockFunds struct {
	RequestID uuid.UUID
	UserID    uint64
	Amount    uint64
	Sequence  int64
	Timestamp time.Time
}

func (l *LockFunds) IdempotencyKey() string {
	return l.RequestID.String()
}

func (l *LockFunds) RequestType() RequestType {
	return RequestTypeLockFunds
}

func (l *LockFunds) EventID() *uint64 {
	return nil // Fund boundary request
}

func (l *LockFunds) SourceSequence() int64 {
	return l.Sequence
}

// ReleaseFunds returns escrowed balance to the user. LockID names the
// lock whose funding record governs the promotional component; Promo is
// the caller's echo of that component and is capped by the record —
// the engine never trusts it beyond what was locked.
type ReleaseFunds struct {
	RequestID uuid.UUID
	LockID    uuid.UUID
	UserID    uint64
	Amount    uint64
	Promo     uint64
	Sequence  int64
	Timestamp time.Time
}

func (r *ReleaseFunds) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *ReleaseFunds) RequestType() RequestType {
	return RequestTypeReleaseFunds
}

func (r *ReleaseFunds) EventID() *uint64 {
	return nil
}

func (r *ReleaseFunds) SourceSequence() int64 {
	return r.Sequence
}

// Deposit credits a user wallet from the external boundary.
type Deposit struct {
	DepositID uuid.UUID
	UserID    uint64
	Amount    uint64
	Sequence  int64
	Timestamp time.Time
}

func (d *Deposit) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *Deposit) RequestType() RequestType {
	return RequestTypeDeposit
}

func (d *Deposit) EventID() *uint64 {
	return nil
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}

// Withdraw debits a user wallet out across the external boundary.
type Withdraw struct {
	WithdrawalID uuid.UUID
	UserID       uint64
	Amount       uint64
	Sequence     int64
	Timestamp    time.Time
}

func (w *Withdraw) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *Withdraw) RequestType() RequestType {
	return RequestTypeWithdraw
}

func (w *Withdraw) EventID() *uint64 {
	return nil
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}

// GrantPromo credits promotional balance to a user. Operator-only;
// the credit enters from the external boundary like a deposit.
type GrantPromo struct {
	RequestID uuid.UUID
	Signer    string
	UserID    uint64
	Amount    uint64
	Sequence  int64
	Timestamp time.Time
}

func (g *GrantPromo) IdempotencyKey() string {
	return g.RequestID.String()
}

func (g *GrantPromo) RequestType() RequestType {
	return RequestTypeGrantPromo
}

func (g *GrantPromo) EventID() *uint64 {
	return nil
}

func (g *GrantPromo) SourceSequence() int64 {
	return g.Sequence
}

