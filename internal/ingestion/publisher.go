package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes applied requests to NATS for downstream
// consumers. Outbound messages are published after persistence is
// confirmed. Subjects follow the pattern market.ledger.{request_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableRequest
}

// PublishableRequest is an applied request ready for outbound publishing.
type PublishableRequest struct {
	Sequence       int64       `json:"sequence"`
	RequestType    string      `json:"request_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	EventID        *uint64     `json:"event_id,omitempty"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableRequest) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, req); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", req.Sequence, err)
				// Non-fatal: downstream consumers can query the request log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, req PublishableRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	// Subject: market.ledger.{request_type}.{event_id}
	subject := fmt.Sprintf("market.ledger.%s", req.RequestType)
	if req.EventID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *req.EventID)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound ledger stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARKET_LEDGER",
		Subjects:  []string{"market.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream MARKET_LEDGER")
	return nil
}
