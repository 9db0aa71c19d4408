package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds
// requests into the settlement engine via the requestChan. NATS
// JetStream is the primary high-throughput ingestion surface; each
// subject maps to a request type.
type NATSSubscriber struct {
	js          jetstream.JetStream
	requestChan chan<- RawRequest
	consumers   []jetstream.ConsumeContext
}

// RawRequest is the parsed-but-untyped request from NATS, ready for
// the shell to validate and convert into a typed request.Request
// before sending to the engine.
type RawRequest struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to request types.
type SubjectConfig struct {
	Subject      string
	RequestType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "market.orders.buy.>", RequestType: "BuyOrder", ConsumerName: "ledger-orders-buy", StreamName: "MARKET_ORDERS"},
		{Subject: "market.orders.sell.>", RequestType: "SellOrder", ConsumerName: "ledger-orders-sell", StreamName: "MARKET_ORDERS"},
		{Subject: "market.positions.close.>", RequestType: "ClosePosition", ConsumerName: "ledger-positions-close", StreamName: "MARKET_ORDERS"},
		{Subject: "market.events.create.>", RequestType: "CreateEvent", ConsumerName: "ledger-events-create", StreamName: "MARKET_ADMIN"},
		{Subject: "market.events.resolve.>", RequestType: "ResolveEvent", ConsumerName: "ledger-events-resolve", StreamName: "MARKET_ADMIN"},
		{Subject: "market.events.close.>", RequestType: "CloseEvent", ConsumerName: "ledger-events-close", StreamName: "MARKET_ADMIN"},
		{Subject: "market.promo.grant.>", RequestType: "GrantPromo", ConsumerName: "ledger-promo-grant", StreamName: "MARKET_ADMIN"},
		{Subject: "market.funds.lock.>", RequestType: "LockFunds", ConsumerName: "ledger-funds-lock", StreamName: "MARKET_FUNDS"},
		{Subject: "market.funds.release.>", RequestType: "ReleaseFunds", ConsumerName: "ledger-funds-release", StreamName: "MARKET_FUNDS"},
		{Subject: "market.funds.deposit.>", RequestType: "Deposit", ConsumerName: "ledger-funds-deposit", StreamName: "MARKET_FUNDS"},
		{Subject: "market.funds.withdraw.>", RequestType: "Withdraw", ConsumerName: "ledger-funds-withdraw", StreamName: "MARKET_FUNDS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, requestChan chan<- RawRequest) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		requestChan: requestChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawRequest{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.requestChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "MARKET_ORDERS",
			Subjects:  []string{"market.orders.>", "market.positions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "MARKET_ADMIN",
			Subjects:  []string{"market.events.>", "market.promo.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "MARKET_FUNDS",
			Subjects:  []string{"market.funds.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
