package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"OutcomeLedger/internal/request"
)

// GRPCIngestService provides admin/manual request injection via gRPC.
// gRPC ingest is for operator actions and manual injection, not for
// high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	requestChan chan<- request.Request
}

func NewGRPCIngestService(requestChan chan<- request.Request) *GRPCIngestService {
	return &GRPCIngestService{requestChan: requestChan}
}

func (s *GRPCIngestService) send(ctx context.Context, req request.Request) error {
	select {
	case s.requestChan <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCreateEvent manually injects a CreateEvent request.
func (s *GRPCIngestService) InjectCreateEvent(
	ctx context.Context,
	signer string,
	payer uint64,
	eventID uint64,
	commissionRate uint64,
	maxPrice uint64,
) error {
	if maxPrice == 0 {
		return fmt.Errorf("max price must be positive")
	}

	return s.send(ctx, &request.CreateEvent{
		RequestID:      uuid.New(),
		Signer:         signer,
		Payer:          payer,
		NewEventID:     eventID,
		CommissionRate: commissionRate,
		MaxPrice:       maxPrice,
		Sequence:       time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
		Timestamp:      time.Now(),
	})
}

// InjectResolveEvent manually injects a ResolveEvent request.
func (s *GRPCIngestService) InjectResolveEvent(
	ctx context.Context,
	signer string,
	eventID uint64,
	outcome string,
) error {
	parsed, err := parseOutcome(outcome)
	if err != nil {
		return err
	}

	return s.send(ctx, &request.ResolveEvent{
		RequestID: uuid.New(),
		Signer:    signer,
		Event:     eventID,
		Outcome:   parsed,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now(),
	})
}

// InjectCloseEvent manually injects a CloseEvent request.
func (s *GRPCIngestService) InjectCloseEvent(
	ctx context.Context,
	signer string,
	payer uint64,
	eventID uint64,
) error {
	return s.send(ctx, &request.CloseEvent{
		RequestID: uuid.New(),
		Signer:    signer,
		Payer:     payer,
		Event:     eventID,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now(),
	})
}

// InjectDeposit manually injects a Deposit request.
func (s *GRPCIngestService) InjectDeposit(
	ctx context.Context,
	userID uint64,
	amount uint64,
) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}

	return s.send(ctx, &request.Deposit{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now(),
	})
}

// InjectWithdraw manually injects a Withdraw request.
func (s *GRPCIngestService) InjectWithdraw(
	ctx context.Context,
	userID uint64,
	amount uint64,
) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}

	return s.send(ctx, &request.Withdraw{
		WithdrawalID: uuid.New(),
		UserID:       userID,
		Amount:       amount,
		Sequence:     time.Now().UnixMicro(),
		Timestamp:    time.Now(),
	})
}

// InjectGrantPromo manually injects a GrantPromo request.
func (s *GRPCIngestService) InjectGrantPromo(
	ctx context.Context,
	signer string,
	userID uint64,
	amount uint64,
) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}

	return s.send(ctx, &request.GrantPromo{
		RequestID: uuid.New(),
		Signer:    signer,
		UserID:    userID,
		Amount:    amount,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now(),
	})
}
