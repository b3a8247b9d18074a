package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"EqaLedger/internal/event"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/state"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundSubjectPrefix = "eqa.ledger.events."
	InsolventAlertSubject = "eqa.ledger.alerts.insolvent"
)

// StreamPublisher is the part of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes persisted events for downstream consumers on
// eqa.ledger.events.<event_type>, and insolvency alerts for the liquidator.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of an envelope.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Partition      string          `json:"partition"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// Subject is the outbound subject for this event.
func (e PublishableEvent) Subject() string {
	return OutboundSubjectPrefix + e.EventType
}

// InsolvencyAlert tells the external liquidator that a check failed.
type InsolvencyAlert struct {
	Collateral         int64     `json:"collateral"`
	Supply             int64     `json:"supply"`
	RequiredCollateral int64     `json:"required_collateral"`
	CurrentRatio       uint64    `json:"current_ratio"`
	ThresholdRatio     uint64    `json:"threshold_ratio"`
	Shortfall          int64     `json:"shortfall"`
	LiquidationFeeRate uint64    `json:"liquidation_fee"`
	DetectedAt         time.Time `json:"detected_at"`
}

func NewInsolvencyAlert(signal state.LiquidationSignal, at time.Time) InsolvencyAlert {
	return InsolvencyAlert{
		Collateral:         signal.Report.Collateral,
		Supply:             signal.Report.Supply,
		RequiredCollateral: signal.Report.RequiredCollateral,
		CurrentRatio:       signal.Report.CurrentRatio,
		ThresholdRatio:     signal.Report.ThresholdRatio,
		Shortfall:          signal.Shortfall,
		LiquidationFeeRate: signal.LiquidationFeeRate,
		DetectedAt:         at,
	}
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt.Subject(), evt); err != nil {
				// Downstream consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("seq", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// PublishAlert publishes an insolvency alert synchronously.
func (op *OutboundPublisher) PublishAlert(ctx context.Context, alert InsolvencyAlert) error {
	if err := op.publish(ctx, InsolventAlertSubject, alert); err != nil {
		return fmt.Errorf("publish insolvency alert: %w", err)
	}
	return nil
}

func (op *OutboundPublisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if _, err := op.js.Publish(ctx, subject, data); err != nil {
		return err
	}
	if op.metrics != nil {
		op.metrics.PublishedEvents.WithLabelValues(subject).Inc()
	}
	return nil
}

// EnsureOutboundStream creates the outbound events and alerts stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "EQA_LEDGER",
		Subjects:  []string{"eqa.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "EQA_LEDGER").Msg("ensured outbound stream")
	return nil
}
