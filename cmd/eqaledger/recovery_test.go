package main

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/event"
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	snapshot *persistence.SnapshotRecord
	rows     []persistence.EventRow
}

func (f *fakeLog) LoadLatestSnapshot(context.Context) (*persistence.SnapshotRecord, error) {
	return f.snapshot, nil
}

func (f *fakeLog) LoadEventsFrom(_ context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	var out []persistence.EventRow
	for _, r := range f.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLog) StateHashAt(_ context.Context, seq int64) ([32]byte, error) {
	for _, r := range f.rows {
		if r.Sequence == seq {
			return r.StoredStateHash()
		}
	}
	return [32]byte{}, fmt.Errorf("state hash at seq=%d: %w", seq, sql.ErrNoRows)
}

// sourceCore records every persisted envelope as an event log row.
type sourceCore struct {
	*core.DeterministicCore
	persist chan core.CoreOutput
	rows    []persistence.EventRow
}

func newSourceCore(t *testing.T) *sourceCore {
	t.Helper()
	persist := make(chan core.CoreOutput, 64)
	c, err := core.NewDeterministicCore(core.DefaultConfig(), persist, nil, nil, nil)
	require.NoError(t, err)
	return &sourceCore{DeterministicCore: c, persist: persist}
}

func (s *sourceCore) apply(t *testing.T, evt event.Event) {
	t.Helper()
	_, err := s.ProcessEvent(evt)
	require.NoError(t, err)
	for {
		select {
		case out := <-s.persist:
			s.rows = append(s.rows, persistence.NewEventRow(out.Envelope))
		default:
			return
		}
	}
}

func newTargetCore(t *testing.T) *core.DeterministicCore {
	t.Helper()
	c, err := core.NewDeterministicCore(core.DefaultConfig(), nil, nil, nil, nil)
	require.NoError(t, err)
	return c
}

func stamp(n int64) time.Time {
	return time.UnixMicro(1_700_000_000_000_000 + n).UTC()
}

func depositEvent(amount int64) *event.CollateralDeposited {
	return &event.CollateralDeposited{
		RequestID: uuid.New(),
		Source:    ledger.SourceAxelarUSDC,
		Amount:    amount,
		Relayer:   "axelar-gateway-local",
		Timestamp: stamp(1),
	}
}

func mintEvent(holder string, amount int64) *event.MintRequested {
	price := fpmath.One()
	return &event.MintRequested{
		RequestID: uuid.New(),
		Holder:    holder,
		Amount:    amount,
		Price:     &price,
		Timestamp: stamp(2),
	}
}

func redeemEvent(holder string, amount int64) *event.RedeemRequested {
	price := fpmath.One()
	return &event.RedeemRequested{
		RequestID: uuid.New(),
		Holder:    holder,
		Amount:    amount,
		Price:     &price,
		Timestamp: stamp(3),
	}
}

func checkEvent(supply int64) *event.LiquidationCheckRequested {
	return &event.LiquidationCheckRequested{
		RequestID: uuid.New(),
		Supply:    &supply,
		Timestamp: stamp(4),
	}
}

func TestRecoverCore_ReplaysFromGenesis(t *testing.T) {
	src := newSourceCore(t)
	src.apply(t, depositEvent(10_000_000))
	src.apply(t, mintEvent("terra1alice", 1_000_000))
	src.apply(t, redeemEvent("terra1alice", 500_000))
	src.apply(t, checkEvent(1_000_000))
	require.Len(t, src.rows, 4)

	target := newTargetCore(t)
	replayed, err := recoverCore(context.Background(), target, &fakeLog{rows: src.rows}, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(4), replayed)
	require.Equal(t, src.GetSequence(), target.GetSequence())
	require.Equal(t, src.GetStateHash(), target.GetStateHash())
	require.Equal(t, src.View().Supply, target.View().Supply)
	require.Equal(t, src.View().BalanceOf("terra1alice"), target.View().BalanceOf("terra1alice"))
}

func TestRecoverCore_SnapshotPlusTail(t *testing.T) {
	src := newSourceCore(t)
	src.apply(t, depositEvent(10_000_000))
	src.apply(t, mintEvent("terra1bob", 2_000_000))
	snap := src.CreateSnapshotState()
	src.apply(t, redeemEvent("terra1bob", 1_000_000))
	src.apply(t, depositEvent(5_000_000))

	log := &fakeLog{
		snapshot: &persistence.SnapshotRecord{SnapshotID: uuid.New(), State: snap, Verified: true},
		rows:     src.rows,
	}
	target := newTargetCore(t)
	replayed, err := recoverCore(context.Background(), target, log, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(2), replayed)
	require.Equal(t, src.GetStateHash(), target.GetStateHash())
	require.Equal(t, int64(15_000_000), target.View().TotalLocked)
}

func TestRecoverCore_SnapshotWithoutTailChecksLogHash(t *testing.T) {
	src := newSourceCore(t)
	src.apply(t, depositEvent(10_000_000))
	src.apply(t, mintEvent("terra1carol", 1_000_000))
	snap := src.CreateSnapshotState()

	log := &fakeLog{
		snapshot: &persistence.SnapshotRecord{SnapshotID: uuid.New(), State: snap, Verified: true},
		rows:     src.rows,
	}
	replayed, err := recoverCore(context.Background(), newTargetCore(t), log, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Zero(t, replayed)

	tampered := append([]persistence.EventRow(nil), src.rows...)
	tampered[1].StateHash = make([]byte, 32)
	log.rows = tampered
	_, err = recoverCore(context.Background(), newTargetCore(t), log, nil, zerolog.Nop())
	require.ErrorContains(t, err, "state hash mismatch after restore")
}

func TestRecoverCore_TamperedLogFailsReplay(t *testing.T) {
	src := newSourceCore(t)
	src.apply(t, depositEvent(10_000_000))
	src.apply(t, mintEvent("terra1dave", 1_000_000))

	rows := append([]persistence.EventRow(nil), src.rows...)
	rows[1].StateHash = make([]byte, 32)

	_, err := recoverCore(context.Background(), newTargetCore(t), &fakeLog{rows: rows}, nil, zerolog.Nop())
	require.ErrorContains(t, err, "state hash mismatch at seq=2")
}

func TestRecoverCore_ReplaysPastRejectedSourceSequences(t *testing.T) {
	src := newSourceCore(t)
	src.apply(t, depositEvent(10_000_000))

	m1 := mintEvent("terra1erin", 1_000_000)
	m1.Sequence = 1
	src.apply(t, m1)

	r2 := redeemEvent("terra1erin", 9_000_000)
	r2.Sequence = 2
	_, err := src.ProcessEvent(r2)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	m3 := mintEvent("terra1erin", 1_000_000)
	m3.Sequence = 3
	src.apply(t, m3)

	r4 := redeemEvent("terra1erin", 9_000_000)
	r4.Sequence = 4
	_, err = src.ProcessEvent(r4)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Len(t, src.rows, 3)

	target := newTargetCore(t)
	replayed, err := recoverCore(context.Background(), target, &fakeLog{rows: src.rows}, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(3), replayed)
	require.Equal(t, src.GetStateHash(), target.GetStateHash())

	// seq 4 was consumed by the rejected redeem, so the partition resumes at 5
	m5 := mintEvent("terra1erin", 1_000_000)
	m5.Sequence = 5
	_, err = target.ProcessEvent(m5)
	require.NoError(t, err)
}
