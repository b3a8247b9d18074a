package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/event"
	"EqaLedger/internal/ledger"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/state"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultMaxDeliver bounds redelivery of a message the core keeps rejecting.
const DefaultMaxDeliver = 5

// NATSSubscriber consumes the inbound JetStream subjects and hands every
// message to Router as a RawEvent.
type NATSSubscriber struct {
	js         jetstream.JetStream
	eventChan  chan<- RawEvent
	consumers  []jetstream.ConsumeContext
	maxDeliver int
	logger     zerolog.Logger
}

// RawEvent is a message that has not been parsed yet.
type RawEvent struct {
	Subject   string
	EventType event.EventType
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed or a duplicate
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // permanently rejected, never redeliver
}

// SubjectConfig maps one NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    event.EventType
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the inbound subjects, one per event type.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "eqa.mint", EventType: event.EventTypeMintRequested, ConsumerName: "ledger-mint", StreamName: "EQA_ISSUANCE"},
		{Subject: "eqa.redeem", EventType: event.EventTypeRedeemRequested, ConsumerName: "ledger-redeem", StreamName: "EQA_ISSUANCE"},
		{Subject: "eqa.collateral.deposit", EventType: event.EventTypeCollateralDeposited, ConsumerName: "ledger-collateral-deposit", StreamName: "EQA_COLLATERAL"},
		{Subject: "eqa.collateral.withdraw", EventType: event.EventTypeCollateralWithdrawn, ConsumerName: "ledger-collateral-withdraw", StreamName: "EQA_COLLATERAL"},
		{Subject: "eqa.collateral.update", EventType: event.EventTypeCollateralUpdated, ConsumerName: "ledger-collateral-update", StreamName: "EQA_COLLATERAL"},
		{Subject: "eqa.liquidation.check", EventType: event.EventTypeLiquidationCheckRequested, ConsumerName: "ledger-liquidation-check", StreamName: "EQA_RISK"},
		{Subject: "eqa.admin.fees", EventType: event.EventTypeFeeParamsUpdated, ConsumerName: "ledger-admin-fees", StreamName: "EQA_ADMIN"},
		{Subject: "eqa.admin.liquidation", EventType: event.EventTypeLiquidationConfigUpdated, ConsumerName: "ledger-admin-liquidation", StreamName: "EQA_ADMIN"},
		{Subject: "eqa.oracle.price", EventType: event.EventTypePriceUpdated, ConsumerName: "ledger-oracle-price", StreamName: "EQA_ORACLE"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, maxDeliver int, logger zerolog.Logger) *NATSSubscriber {
	if maxDeliver <= 0 {
		maxDeliver = DefaultMaxDeliver
	}
	return &NATSSubscriber{
		js:         js,
		eventChan:  eventChan,
		maxDeliver: maxDeliver,
		logger:     logger,
	}
}

// Subscribe creates one durable consumer per subject with explicit ack.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, durablePrefix string, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		name := durablePrefix + cfg.ConsumerName
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       name,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    ns.maxDeliver,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", name, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.NakWithDelay(time.Second) },
				TermFunc:  func() { _ = msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", name, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", name).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		inboundStream("EQA_ISSUANCE", "eqa.mint", "eqa.redeem"),
		inboundStream("EQA_COLLATERAL", "eqa.collateral.>"),
		inboundStream("EQA_RISK", "eqa.liquidation.>"),
		inboundStream("EQA_ADMIN", "eqa.admin.>"),
		inboundStream("EQA_ORACLE", "eqa.oracle.>"),
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

func inboundStream(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("eqaledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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

// Router parses raw messages, submits them to the core loop and settles the
// NATS message according to the result.
type Router struct {
	parser   *Parser
	commands chan<- Command
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewRouter(parser *Parser, commands chan<- Command, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	return &Router{parser: parser, commands: commands, metrics: metrics, logger: logger}
}

// Run processes messages one at a time until ctx is cancelled or in closes.
func (r *Router) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			r.handle(ctx, raw)
		}
	}
}

func (r *Router) handle(ctx context.Context, raw RawEvent) {
	evt, err := r.parser.ParseRawEvent(raw)
	if err != nil {
		reason := ingestRejectReason(err)
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Str("reason", reason).Msg("message rejected at ingestion")
		r.count(raw.Subject, "rejected")
		if r.metrics != nil {
			r.metrics.IngestRejected.WithLabelValues(reason).Inc()
		}
		settle(raw.TermFunc)
		return
	}

	reply := make(chan Result, 1)
	select {
	case r.commands <- Command{Event: evt, ReceivedAt: raw.Timestamp, Reply: reply}:
	case <-ctx.Done():
		settle(raw.NakFunc)
		return
	}

	var res Result
	select {
	case res = <-reply:
	case <-ctx.Done():
		settle(raw.NakFunc)
		return
	}

	switch {
	case res.Err == nil:
		r.count(raw.Subject, "applied")
		settle(raw.AckFunc)
	case errors.Is(res.Err, core.ErrSequenceGap):
		// The missing predecessor may still arrive.
		r.count(raw.Subject, "retry")
		settle(raw.NakFunc)
	default:
		r.logger.Info().Err(res.Err).Str("subject", raw.Subject).Str("key", evt.IdempotencyKey()).Msg("event rejected by core")
		r.count(raw.Subject, "rejected")
		settle(raw.TermFunc)
	}
}

func (r *Router) count(subject, result string) {
	if r.metrics != nil {
		r.metrics.NATSMessages.WithLabelValues(subject, result).Inc()
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}

func ingestRejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrUnauthorized):
		return "unauthorized_relayer"
	case errors.Is(err, ledger.ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, ledger.ErrInvalidHolder):
		return "invalid_holder"
	default:
		return "malformed"
	}
}
