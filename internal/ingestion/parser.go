package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/position"
	"OutcomeLedger/internal/request"
)

// ParseRawRequest converts a RawRequest (JSON bytes + request type
// string) into a typed request.Request. The ingestion shell validates,
// parses, and converts raw messages before sending them to the
// deterministic engine.
func ParseRawRequest(raw RawRequest, requestType string) (request.Request, error) {
	switch requestType {
	case "BuyOrder":
		return parseBuyOrder(raw.Data)
	case "SellOrder":
		return parseSellOrder(raw.Data)
	case "ClosePosition":
		return parseClosePosition(raw.Data)
	case "CreateEvent":
		return parseCreateEvent(raw.Data)
	case "ResolveEvent":
		return parseResolveEvent(raw.Data)
	case "CloseEvent":
		return parseCloseEvent(raw.Data)
	case "GrantPromo":
		return parseGrantPromo(raw.Data)
	case "LockFunds":
		return parseLockFunds(raw.Data)
	case "ReleaseFunds":
		return parseReleaseFunds(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	default:
		return nil, fmt.Errorf("unknown request type: %s", requestType)
	}
}

// DecodeStoredRequest rebuilds a typed request from a persisted
// envelope row (request type + the JSON payload written at apply time).
// Used by startup replay.
func DecodeStoredRequest(requestType string, payload []byte) (request.Request, error) {
	var req request.Request
	switch requestType {
	case "BuyOrder":
		req = &request.BuyOrder{}
	case "SellOrder":
		req = &request.SellOrder{}
	case "ClosePosition":
		req = &request.ClosePosition{}
	case "CreateEvent":
		req = &request.CreateEvent{}
	case "ResolveEvent":
		req = &request.ResolveEvent{}
	case "CloseEvent":
		req = &request.CloseEvent{}
	case "GrantPromo":
		req = &request.GrantPromo{}
	case "LockFunds":
		req = &request.LockFunds{}
	case "ReleaseFunds":
		req = &request.ReleaseFunds{}
	case "Deposit":
		req = &request.Deposit{}
	case "Withdraw":
		req = &request.Withdraw{}
	default:
		return nil, fmt.Errorf("unknown stored request type: %s", requestType)
	}

	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("decode stored %s: %w", requestType, err)
	}
	return req, nil
}

// Wire formats for the gateway subjects. Field names follow the
// upstream JSON contract (snake_case); amounts and prices are
// fixed-point integers, timestamps unix microseconds.

type buyOrderWire struct {
	OrderID        string `json:"order_id"`
	UserID         uint64 `json:"user_id"`
	EventID        uint64 `json:"event_id"`
	Side           string `json:"side"`
	UnitPrice      uint64 `json:"unit_price"`
	Quantity       uint64 `json:"quantity"`
	CommissionRate uint64 `json:"commission_rate"`
	Sequence       int64  `json:"sequence"`
	Timestamp      int64  `json:"timestamp"`
}

type sellOrderWire struct {
	OrderID   string `json:"order_id"`
	UserID    uint64 `json:"user_id"`
	EventID   uint64 `json:"event_id"`
	Side      string `json:"side"`
	UnitPrice uint64 `json:"unit_price"`
	Quantity  uint64 `json:"quantity"`
	Promo     uint64 `json:"promo"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type closePositionWire struct {
	RequestID string `json:"request_id"`
	UserID    uint64 `json:"user_id"`
	EventID   uint64 `json:"event_id"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type createEventWire struct {
	RequestID      string `json:"request_id"`
	Signer         string `json:"signer"`
	Payer          uint64 `json:"payer"`
	EventID        uint64 `json:"event_id"`
	CommissionRate uint64 `json:"commission_rate"`
	MaxPrice       uint64 `json:"max_price"`
	Sequence       int64  `json:"sequence"`
	Timestamp      int64  `json:"timestamp"`
}

type resolveEventWire struct {
	RequestID string `json:"request_id"`
	Signer    string `json:"signer"`
	EventID   uint64 `json:"event_id"`
	Outcome   string `json:"outcome"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type closeEventWire struct {
	RequestID string `json:"request_id"`
	Signer    string `json:"signer"`
	Payer     uint64 `json:"payer"`
	EventID   uint64 `json:"event_id"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type fundsWire struct {
	RequestID string `json:"request_id"`
	LockID    string `json:"lock_id"` // release only: the lock being unwound
	UserID    uint64 `json:"user_id"`
	Amount    uint64 `json:"amount"`
	Promo     uint64 `json:"promo"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type grantPromoWire struct {
	RequestID string `json:"request_id"`
	Signer    string `json:"signer"`
	UserID    uint64 `json:"user_id"`
	Amount    uint64 `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseSide(s string) (position.Side, error) {
	switch s {
	case "yes":
		return position.SideYes, nil
	case "no":
		return position.SideNo, nil
	default:
		return 0, fmt.Errorf("invalid side: %q", s)
	}
}

func parseOutcome(s string) (market.Outcome, error) {
	switch s {
	case "yes":
		return market.OutcomeYes, nil
	case "no":
		return market.OutcomeNo, nil
	case "void":
		return market.OutcomeVoid, nil
	default:
		return market.OutcomeUnresolved, fmt.Errorf("invalid outcome: %q", s)
	}
}

func parseBuyOrder(data []byte) (request.Request, error) {
	var w buyOrderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal buy order: %w", err)
	}

	orderID, err := uuid.Parse(w.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %w", err)
	}

	side, err := parseSide(w.Side)
	if err != nil {
		return nil, err
	}

	return &request.BuyOrder{
		OrderID:        orderID,
		UserID:         w.UserID,
		Event:          w.EventID,
		Side:           side,
		UnitPrice:      w.UnitPrice,
		Quantity:       w.Quantity,
		CommissionRate: w.CommissionRate,
		Sequence:       w.Sequence,
		Timestamp:      time.UnixMicro(w.Timestamp),
	}, nil
}

func parseSellOrder(data []byte) (request.Request, error) {
	var w sellOrderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal sell order: %w", err)
	}

	orderID, err := uuid.Parse(w.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %w", err)
	}

	side, err := parseSide(w.Side)
	if err != nil {
		return nil, err
	}

	return &request.SellOrder{
		OrderID:   orderID,
		UserID:    w.UserID,
		Event:     w.EventID,
		Side:      side,
		UnitPrice: w.UnitPrice,
		Quantity:  w.Quantity,
		Promo:     w.Promo,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseClosePosition(data []byte) (request.Request, error) {
	var w closePositionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal close position: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.ClosePosition{
		RequestID: requestID,
		UserID:    w.UserID,
		Event:     w.EventID,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseCreateEvent(data []byte) (request.Request, error) {
	var w createEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal create event: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.CreateEvent{
		RequestID:      requestID,
		Signer:         w.Signer,
		Payer:          w.Payer,
		NewEventID:     w.EventID,
		CommissionRate: w.CommissionRate,
		MaxPrice:       w.MaxPrice,
		Sequence:       w.Sequence,
		Timestamp:      time.UnixMicro(w.Timestamp),
	}, nil
}

func parseResolveEvent(data []byte) (request.Request, error) {
	var w resolveEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal resolve event: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	outcome, err := parseOutcome(w.Outcome)
	if err != nil {
		return nil, err
	}

	return &request.ResolveEvent{
		RequestID: requestID,
		Signer:    w.Signer,
		Event:     w.EventID,
		Outcome:   outcome,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseCloseEvent(data []byte) (request.Request, error) {
	var w closeEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal close event: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.CloseEvent{
		RequestID: requestID,
		Signer:    w.Signer,
		Payer:     w.Payer,
		Event:     w.EventID,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseLockFunds(data []byte) (request.Request, error) {
	var w fundsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal lock funds: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.LockFunds{
		RequestID: requestID,
		UserID:    w.UserID,
		Amount:    w.Amount,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseReleaseFunds(data []byte) (request.Request, error) {
	var w fundsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal release funds: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}
	lockID, err := uuid.Parse(w.LockID)
	if err != nil {
		return nil, fmt.Errorf("invalid lock_id: %w", err)
	}

	return &request.ReleaseFunds{
		RequestID: requestID,
		LockID:    lockID,
		UserID:    w.UserID,
		Amount:    w.Amount,
		Promo:     w.Promo,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseDeposit(data []byte) (request.Request, error) {
	var w fundsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal deposit: %w", err)
	}

	depositID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.Deposit{
		DepositID: depositID,
		UserID:    w.UserID,
		Amount:    w.Amount,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}

func parseWithdraw(data []byte) (request.Request, error) {
	var w fundsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal withdraw: %w", err)
	}

	withdrawalID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.Withdraw{
		WithdrawalID: withdrawalID,
		UserID:       w.UserID,
		Amount:       w.Amount,
		Sequence:     w.Sequence,
		Timestamp:    time.UnixMicro(w.Timestamp),
	}, nil
}

func parseGrantPromo(data []byte) (request.Request, error) {
	var w grantPromoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal grant promo: %w", err)
	}

	requestID, err := uuid.Parse(w.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id: %w", err)
	}

	return &request.GrantPromo{
		RequestID: requestID,
		Signer:    w.Signer,
		UserID:    w.UserID,
		Amount:    w.Amount,
		Sequence:  w.Sequence,
		Timestamp: time.UnixMicro(w.Timestamp),
	}, nil
}
