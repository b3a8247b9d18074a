package main

import (
	"context"
	"errors"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/state"

	"github.com/rs/zerolog"
)

// coreLoop is the only goroutine that touches the deterministic core after
// recovery. NATS and gRPC traffic both arrive as ingestion.Commands.
type coreLoop struct {
	core     *core.DeterministicCore
	commands <-chan ingestion.Command

	// Optional. Sends never block the loop.
	snapshots chan<- *core.SnapshotState
	alerts    chan<- state.LiquidationSignal

	snapshotInterval int64
	metrics          *observability.Metrics
	logger           zerolog.Logger
	now              func() time.Time
}

func (l *coreLoop) run(ctx context.Context) error {
	lastSnapshot := l.core.GetSequence()
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return nil

		case cmd, ok := <-l.commands:
			if !ok {
				return nil
			}
			l.apply(cmd)

			seq := l.core.GetSequence()
			if l.snapshotInterval > 0 && seq-lastSnapshot >= l.snapshotInterval {
				if l.offerSnapshot() {
					lastSnapshot = seq
				}
			}
		}
	}
}

func (l *coreLoop) apply(cmd ingestion.Command) {
	out, err := l.core.ProcessEvent(cmd.Event)
	cmd.Respond(ingestion.Result{Outcome: out, Err: err})

	if l.metrics != nil && !cmd.ReceivedAt.IsZero() {
		l.metrics.IngestToApply.WithLabelValues(cmd.Event.EventType().String()).
			Observe(l.now().Sub(cmd.ReceivedAt).Seconds())
	}

	if out.Signal != nil && l.alerts != nil {
		select {
		case l.alerts <- *out.Signal:
		default:
			l.logger.Error().Int64("shortfall", out.Signal.Shortfall).Msg("alert queue full, insolvency alert dropped")
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, state.ErrInsufficientCollateral) && out.Signal != nil:
		l.logger.Warn().
			Int64("shortfall", out.Signal.Shortfall).
			Uint64("ratio", out.Signal.Report.CurrentRatio).
			Msg("liquidation check failed")
	default:
		l.logger.Debug().Err(err).
			Str("type", cmd.Event.EventType().String()).
			Str("key", cmd.Event.IdempotencyKey()).
			Msg("event rejected")
	}
}

// offerSnapshot hands the current state to the snapshot writer if it is idle.
func (l *coreLoop) offerSnapshot() bool {
	if l.snapshots == nil {
		return false
	}
	select {
	case l.snapshots <- l.core.CreateSnapshotState():
		return true
	default:
		return false
	}
}

// drain answers every queued command so no caller waits on a dead loop.
func (l *coreLoop) drain() {
	for {
		select {
		case cmd, ok := <-l.commands:
			if !ok {
				return
			}
			cmd.Respond(ingestion.Result{Err: ingestion.ErrShuttingDown})
		default:
			return
		}
	}
}
