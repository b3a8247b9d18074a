package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoveryLog is the part of persistence.SnapshotManager recovery reads.
type recoveryLog interface {
	LoadLatestSnapshot(ctx context.Context) (*persistence.SnapshotRecord, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
	StateHashAt(ctx context.Context, sequence int64) ([32]byte, error)
}

// recoverCore restores the latest verified snapshot and replays the log tail.
// Every replayed event must reproduce the state hash stored with it.
func recoverCore(ctx context.Context, c *core.DeterministicCore, log recoveryLog, metrics *observability.Metrics, logger zerolog.Logger) (int64, error) {
	from := int64(1)

	rec, err := log.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		if err := c.RestoreFromSnapshot(rec.State); err != nil {
			return 0, fmt.Errorf("restore snapshot %s: %w", rec.SnapshotID, err)
		}
		from = rec.State.Sequence + 1
		logger.Info().
			Int64("seq", rec.State.Sequence).
			Int("keys", len(rec.State.IdempotencyKeys)).
			Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, replaying from genesis")
	}

	start := time.Now()
	c.BeginReplay()
	replayed, err := replayFrom(ctx, c, log, from)
	c.EndReplay()
	if err != nil {
		return replayed, err
	}
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}

	if rec != nil && replayed == 0 {
		stored, err := log.StateHashAt(ctx, rec.State.Sequence)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Snapshot taken ahead of the last committed batch; nothing to compare.
			logger.Warn().Int64("seq", rec.State.Sequence).Msg("snapshot sequence not in event log")
		case err != nil:
			return 0, err
		case stored != c.GetStateHash():
			return 0, fmt.Errorf("state hash mismatch after restore at seq=%d: log %x, core %x",
				rec.State.Sequence, stored, c.GetStateHash())
		}
	}

	logger.Info().Int64("replayed", replayed).Int64("seq", c.GetSequence()).Msg("recovery complete")
	return replayed, nil
}

func replayFrom(ctx context.Context, c *core.DeterministicCore, log recoveryLog, from int64) (int64, error) {
	var replayed int64
	for {
		rows, err := log.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			evt, err := persistence.DecodeEvent(row)
			if err != nil {
				return replayed, err
			}
			out, err := c.ProcessEvent(evt)
			if err != nil {
				return replayed, fmt.Errorf("replay seq=%d: %w", row.Sequence, err)
			}
			if out.Sequence != row.Sequence {
				return replayed, fmt.Errorf("replay seq=%d applied as seq=%d", row.Sequence, out.Sequence)
			}
			stored, err := row.StoredStateHash()
			if err != nil {
				return replayed, fmt.Errorf("replay seq=%d: %w", row.Sequence, err)
			}
			if stored != out.StateHash {
				return replayed, fmt.Errorf("state hash mismatch at seq=%d: log %x, replay %x", row.Sequence, stored, out.StateHash)
			}
			replayed++
		}

		from = rows[len(rows)-1].Sequence + 1
	}
}
