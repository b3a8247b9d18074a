package main

import (
	"context"
	"testing"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/state"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, interval int64) (*ingestion.Submitter, chan *core.SnapshotState, chan state.LiquidationSignal, func()) {
	t.Helper()
	commands := make(chan ingestion.Command, 16)
	snapshots := make(chan *core.SnapshotState, 1)
	alerts := make(chan state.LiquidationSignal, 4)

	loop := &coreLoop{
		core:             newTargetCore(t),
		commands:         commands,
		snapshots:        snapshots,
		alerts:           alerts,
		snapshotInterval: interval,
		logger:           zerolog.Nop(),
		now:              time.Now,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.run(ctx)
	}()

	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return ingestion.NewSubmitter(commands), snapshots, alerts, stop
}

func TestCoreLoop_SnapshotsEveryInterval(t *testing.T) {
	sub, snapshots, _, _ := startLoop(t, 2)
	ctx := context.Background()

	out, err := sub.Submit(ctx, depositEvent(1_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Sequence)
	require.Empty(t, snapshots)

	_, err = sub.Submit(ctx, depositEvent(2_000_000))
	require.NoError(t, err)

	select {
	case snap := <-snapshots:
		require.Equal(t, int64(2), snap.Sequence)
		require.Equal(t, int64(3_000_000), snap.Collateral[depositEvent(0).Source])
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot after two events")
	}
}

func TestCoreLoop_FailedCheckRaisesAlert(t *testing.T) {
	sub, _, alerts, _ := startLoop(t, 0)
	ctx := context.Background()

	_, err := sub.Submit(ctx, depositEvent(1_000_000))
	require.NoError(t, err)

	out, err := sub.Submit(ctx, checkEvent(1_000_000))
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)
	require.NotNil(t, out.Signal)

	select {
	case sig := <-alerts:
		require.Equal(t, int64(100_000), sig.Shortfall)
	case <-time.After(time.Second):
		t.Fatal("expected an insolvency alert")
	}
}

func TestCoreLoop_ShutdownAnswersQueuedCommands(t *testing.T) {
	commands := make(chan ingestion.Command, 4)
	reply := make(chan ingestion.Result, 1)
	commands <- ingestion.Command{Event: depositEvent(1), Reply: reply}

	loop := &coreLoop{core: newTargetCore(t), commands: commands, logger: zerolog.Nop(), now: time.Now}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, loop.run(ctx))

	select {
	case res := <-reply:
		// The loop may pick the command before it sees the cancellation.
		if res.Err != nil {
			require.ErrorIs(t, res.Err, ingestion.ErrShuttingDown)
		}
	default:
		t.Fatal("queued command left unanswered")
	}
}
