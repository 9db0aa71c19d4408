package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"OutcomeLedger/internal/ingestion"
	"OutcomeLedger/internal/market"
	"OutcomeLedger/internal/position"
	"OutcomeLedger/internal/request"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawRequest {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawRequest{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseBuyOrder(t *testing.T) {
	payload := map[string]interface{}{
		"order_id":        "550e8400-e29b-41d4-a716-446655440000",
		"user_id":         uint64(7),
		"event_id":        uint64(12),
		"side":            "yes",
		"unit_price":      int64(300_000),
		"quantity":        int64(3),
		"commission_rate": int64(10),
		"sequence":        int64(42),
		"timestamp":       int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawRequest(raw, "BuyOrder")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	buy, ok := req.(*request.BuyOrder)
	if !ok {
		t.Fatalf("expected *request.BuyOrder, got %T", req)
	}

	if buy.UserID != 7 {
		t.Errorf("user_id: got %d, want 7", buy.UserID)
	}
	if buy.Event != 12 {
		t.Errorf("event_id: got %d, want 12", buy.Event)
	}
	if buy.Side != position.SideYes {
		t.Errorf("side: got %d, want SideYes", buy.Side)
	}
	if buy.UnitPrice != 300_000 {
		t.Errorf("unit_price: got %d, want 300_000", buy.UnitPrice)
	}
	if buy.Quantity != 3 {
		t.Errorf("quantity: got %d, want 3", buy.Quantity)
	}
	if buy.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", buy.Sequence)
	}
	if buy.RequestType() != request.RequestTypeBuyOrder {
		t.Errorf("request type: got %v, want BuyOrder", buy.RequestType())
	}
}

func TestParseSellOrder_CarriesPromo(t *testing.T) {
	payload := map[string]interface{}{
		"order_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    uint64(7),
		"event_id":   uint64(12),
		"side":       "no",
		"unit_price": int64(400_000),
		"quantity":   int64(2),
		"promo":      int64(150_000),
		"sequence":   int64(43),
		"timestamp":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawRequest(raw, "SellOrder")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sell, ok := req.(*request.SellOrder)
	if !ok {
		t.Fatalf("expected *request.SellOrder, got %T", req)
	}

	if sell.Side != position.SideNo {
		t.Errorf("side: got %d, want SideNo", sell.Side)
	}
	if sell.Promo != 150_000 {
		t.Errorf("promo: got %d, want 150_000", sell.Promo)
	}
}

func TestParseResolveEvent(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"signer":     "ops-key",
		"event_id":   uint64(12),
		"outcome":    "void",
		"sequence":   int64(3),
		"timestamp":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawRequest(raw, "ResolveEvent")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	res, ok := req.(*request.ResolveEvent)
	if !ok {
		t.Fatalf("expected *request.ResolveEvent, got %T", req)
	}

	if res.Outcome != market.OutcomeVoid {
		t.Errorf("outcome: got %v, want OutcomeVoid", res.Outcome)
	}
	if res.Signer != "ops-key" {
		t.Errorf("signer: got %s, want ops-key", res.Signer)
	}
	if id := res.EventID(); id == nil || *id != 12 {
		t.Errorf("event id: got %v, want 12", id)
	}
}

func TestParseLockFunds_NoEventPartition(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    uint64(7),
		"amount":     int64(1_000_000),
		"sequence":   int64(1),
		"timestamp":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawRequest(raw, "LockFunds")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lock, ok := req.(*request.LockFunds)
	if !ok {
		t.Fatalf("expected *request.LockFunds, got %T", req)
	}

	if lock.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", lock.Amount)
	}
	if lock.EventID() != nil {
		t.Error("fund boundary requests must not carry an event partition")
	}
}

func TestParseReleaseFunds_CarriesLockID(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"lock_id":    "650e8400-e29b-41d4-a716-446655440001",
		"user_id":    uint64(7),
		"amount":     int64(1_000_000),
		"promo":      int64(250_000),
		"sequence":   int64(2),
		"timestamp":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawRequest(raw, "ReleaseFunds")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rel, ok := req.(*request.ReleaseFunds)
	if !ok {
		t.Fatalf("expected *request.ReleaseFunds, got %T", req)
	}
	if rel.LockID.String() != "650e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("lock id: got %s", rel.LockID)
	}
	if rel.Promo != 250_000 {
		t.Errorf("promo: got %d, want 250_000", rel.Promo)
	}
}

func TestParseReleaseFunds_MissingLockID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    uint64(7),
		"amount":     int64(1_000_000),
		"sequence":   int64(2),
		"timestamp":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawRequest(raw, "ReleaseFunds"); err == nil {
		t.Fatal("expected error for release without lock_id")
	}
}

func TestParseInvalidSide_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"order_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    uint64(7),
		"event_id":   uint64(12),
		"side":       "maybe",
		"unit_price": int64(1),
		"quantity":   int64(1),
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawRequest(raw, "BuyOrder"); err == nil {
		t.Fatal("expected error for invalid side")
	}
}

func TestParseInvalidOutcome_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"signer":     "ops-key",
		"event_id":   uint64(12),
		"outcome":    "unresolved",
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawRequest(raw, "ResolveEvent"); err == nil {
		t.Fatal("expected error for invalid outcome")
	}
}

func TestParseUnknownRequestType_Fails(t *testing.T) {
	raw := ingestion.RawRequest{Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawRequest(raw, "NonExistentType"); err == nil {
		t.Fatal("expected error for unknown request type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawRequest{Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawRequest(raw, "BuyOrder"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"order_id":   "not-a-uuid",
		"user_id":    uint64(7),
		"event_id":   uint64(12),
		"side":       "yes",
		"unit_price": int64(1),
		"quantity":   int64(1),
		"sequence":   int64(0),
		"timestamp":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawRequest(raw, "BuyOrder"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestDecodeStoredRequest_RoundTrip(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    uint64(7),
		"amount":     int64(5_000),
		"sequence":   int64(9),
		"timestamp":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	orig, err := ingestion.ParseRawRequest(raw, "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	stored, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal stored: %v", err)
	}

	decoded, err := ingestion.DecodeStoredRequest("Deposit", stored)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	dep, ok := decoded.(*request.Deposit)
	if !ok {
		t.Fatalf("expected *request.Deposit, got %T", decoded)
	}
	if dep.Amount != 5_000 || dep.UserID != 7 || dep.Sequence != 9 {
		t.Errorf("decoded mismatch: %+v", dep)
	}
	if dep.IdempotencyKey() != orig.IdempotencyKey() {
		t.Errorf("idempotency key changed across round trip")
	}
}
