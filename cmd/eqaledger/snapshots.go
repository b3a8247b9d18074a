package main

import (
	"context"
	"fmt"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// snapshotStore is the part of persistence.SnapshotManager the writer uses.
type snapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
	StateHashAt(ctx context.Context, sequence int64) ([32]byte, error)
}

var _ snapshotStore = (*persistence.SnapshotManager)(nil)

// snapshotWriter saves snapshots off the core goroutine. A snapshot is only
// marked verified once the event log holds the same state hash at its
// sequence, so recovery never starts from state the log cannot reproduce.
type snapshotWriter struct {
	store   snapshotStore
	metrics *observability.Metrics
	logger  zerolog.Logger

	verifyAttempts int
	verifyDelay    time.Duration
}

func newSnapshotWriter(store snapshotStore, metrics *observability.Metrics, logger zerolog.Logger) *snapshotWriter {
	return &snapshotWriter{
		store:          store,
		metrics:        metrics,
		logger:         logger,
		verifyAttempts: 20,
		verifyDelay:    250 * time.Millisecond,
	}
}

func (w *snapshotWriter) run(ctx context.Context, in <-chan *core.SnapshotState) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-in:
			if !ok {
				return nil
			}
			if err := w.take(ctx, snap); err != nil {
				w.logger.Error().Err(err).Int64("seq", snap.Sequence).Msg("snapshot failed")
			}
		}
	}
}

// take saves snap and verifies it against the event log.
func (w *snapshotWriter) take(ctx context.Context, snap *core.SnapshotState) error {
	if snap.Sequence == 0 {
		return nil
	}
	start := time.Now()

	size, err := w.store.SaveSnapshot(ctx, snap, start.UTC())
	if err != nil {
		return err
	}
	if err := w.verify(ctx, snap); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		w.metrics.SnapshotSizeBytes.Set(float64(size))
		w.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	w.logger.Info().Int64("seq", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return nil
}

func (w *snapshotWriter) verify(ctx context.Context, snap *core.SnapshotState) error {
	var lastErr error
	for attempt := 0; attempt < w.verifyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.verifyDelay):
			}
		}

		stored, err := w.store.StateHashAt(ctx, snap.Sequence)
		if err != nil {
			// The persistence worker may not have committed this sequence yet.
			lastErr = err
			continue
		}
		if stored != snap.StateHash {
			return fmt.Errorf("snapshot seq=%d hash %x does not match log %x", snap.Sequence, snap.StateHash, stored)
		}
		return w.store.MarkVerified(ctx, snap.Sequence)
	}
	return fmt.Errorf("snapshot seq=%d left unverified: %w", snap.Sequence, lastErr)
}
