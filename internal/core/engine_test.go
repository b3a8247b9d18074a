package core_test

import (
	"math/rand"
	"testing"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/event"
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/oracle"
	"EqaLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

type testCore struct {
	*core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
}

func newTestCore(t *testing.T, mutate func(*core.Config)) *testCore {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.IdempotencyCapacity = 1024
	if mutate != nil {
		mutate(&cfg)
	}
	persist := make(chan core.CoreOutput, 1024)
	proj := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(cfg, persist, proj, nil, nil)
	require.NoError(t, err)
	return &testCore{DeterministicCore: c, persist: persist, proj: proj}
}

func zeroFees(cfg *core.Config) {
	cfg.Fees.BaseFeeRate = fpmath.Decimal{}
}

func ts(n int64) time.Time {
	return time.UnixMicro(1_000_000 + n*1_000).UTC()
}

func peg() *fpmath.Decimal {
	p := fpmath.One()
	return &p
}

func deposit(src ledger.CollateralSource, amount int64) *event.CollateralDeposited {
	return &event.CollateralDeposited{
		RequestID: uuid.New(),
		Source:    src,
		Amount:    amount,
		Relayer:   "relayer",
		Timestamp: ts(1),
	}
}

func withdraw(src ledger.CollateralSource, amount int64) *event.CollateralWithdrawn {
	return &event.CollateralWithdrawn{
		RequestID: uuid.New(),
		Source:    src,
		Amount:    amount,
		Relayer:   "relayer",
		Timestamp: ts(2),
	}
}

func mint(holder string, amount int64, price *fpmath.Decimal) *event.MintRequested {
	return &event.MintRequested{
		RequestID: uuid.New(),
		Holder:    holder,
		Amount:    amount,
		Price:     price,
		Timestamp: ts(3),
	}
}

func redeem(holder string, amount int64, price *fpmath.Decimal) *event.RedeemRequested {
	return &event.RedeemRequested{
		RequestID: uuid.New(),
		Holder:    holder,
		Amount:    amount,
		Price:     price,
		Timestamp: ts(4),
	}
}

func check(supply int64) *event.LiquidationCheckRequested {
	return &event.LiquidationCheckRequested{
		RequestID: uuid.New(),
		Supply:    &supply,
		Timestamp: ts(5),
	}
}

func priceUpdate(price string, seq int64) *event.PriceUpdated {
	return &event.PriceUpdated{
		Denom:         oracle.DefaultDenom,
		Price:         fpmath.MustParseDecimal(price),
		PriceSequence: seq,
		Timestamp:     ts(seq),
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func mustApply(t *testing.T, c *testCore, evt event.Event) core.Outcome {
	t.Helper()
	out, err := c.ProcessEvent(evt)
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	return out
}

// ============================================================================
// Collateral
// ============================================================================

func TestCollateralDeposits_AcrossSources(t *testing.T) {
	c := newTestCore(t, nil)

	mustApply(t, c, deposit(ledger.SourceAxelarUSDC, 60_000_000000))
	mustApply(t, c, deposit(ledger.SourceNobleUSDC, 40_000_000000))

	view := c.View()
	require.Equal(t, int64(100_000_000000), view.TotalLocked)
	require.Equal(t, int64(60_000_000000), view.Collateral[ledger.SourceAxelarUSDC])
	require.Equal(t, int64(40_000_000000), view.Collateral[ledger.SourceNobleUSDC])
	require.Equal(t, int64(2), view.Sequence)

	outputs := drainOutputs(c.persist)
	require.Len(t, outputs, 2)
	for i, o := range outputs {
		require.Equal(t, int64(i+1), o.Envelope.Sequence)
		require.Len(t, o.Batch.Journals, 1)
		require.Equal(t, ledger.JournalTypeCollateralDeposit, o.Batch.Journals[0].JournalType)
	}
}

func TestCollateralWithdraw_InsufficientLeavesStateUnchanged(t *testing.T) {
	c := newTestCore(t, nil)
	mustApply(t, c, deposit(ledger.SourceNobleUSDC, 1_000))
	hash := c.GetStateHash()

	_, err := c.ProcessEvent(withdraw(ledger.SourceNobleUSDC, 1_001))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.Equal(t, int64(1_000), c.View().TotalLocked)
	require.Equal(t, int64(1), c.GetSequence())
	require.Equal(t, hash, c.GetStateHash())
	require.Len(t, drainOutputs(c.persist), 1)
}

func TestCollateralUpdate_RequiresAuthorization(t *testing.T) {
	c := newTestCore(t, nil)
	mustApply(t, c, deposit(ledger.SourceAxelarUSDC, 500))

	update := &event.CollateralUpdated{
		RequestID: uuid.New(),
		Sender:    "someone",
		Balances:  map[ledger.CollateralSource]int64{ledger.SourceNobleUSDC: 700},
		Timestamp: ts(9),
	}
	_, err := c.ProcessEvent(update)
	require.ErrorIs(t, err, state.ErrUnauthorized)
	require.Equal(t, int64(500), c.View().TotalLocked)

	// A rejected command is not marked processed, so it can be resubmitted.
	update.SetAuthorized(true)
	mustApply(t, c, update)

	view := c.View()
	require.Equal(t, int64(0), view.Collateral[ledger.SourceAxelarUSDC])
	require.Equal(t, int64(700), view.Collateral[ledger.SourceNobleUSDC])
	require.Equal(t, int64(700), view.TotalLocked)

	outputs := drainOutputs(c.persist)
	require.Len(t, outputs, 2)
	require.Len(t, outputs[1].Batch.Journals, 2)
}

// ============================================================================
// Mint / Redeem
// ============================================================================

func TestMint_WithholdsFee(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.Fees.BaseFeeRate = fpmath.Percent(1)
	})

	out := mustApply(t, c, mint("alice", 100_000_000, peg()))
	require.NotNil(t, out.Mint)
	require.Equal(t, int64(1_000_000), out.Mint.Quote.Fee)
	require.Equal(t, int64(99_000_000), out.Mint.Minted())

	view := c.View()
	require.Equal(t, int64(99_000_000), view.Supply)
	require.Equal(t, int64(99_000_000), view.BalanceOf("alice"))
	require.Equal(t, int64(1_000_000), view.Withheld.Mint)

	outputs := drainOutputs(c.persist)
	require.Len(t, outputs, 1)
	j := outputs[0].Batch.Journals[0]
	require.Equal(t, ledger.NewHolderKey("alice"), j.DebitAccount)
	require.Equal(t, ledger.NewIssuanceKey(), j.CreditAccount)
	require.Equal(t, int64(99_000_000), j.Amount)
}

func TestRedeem_BurnsFullAmountPaysNet(t *testing.T) {
	c := newTestCore(t, nil)
	mustApply(t, c, mint("bob", 100_000_000, peg()))
	require.Equal(t, int64(99_900_000), c.View().BalanceOf("bob"))

	out := mustApply(t, c, redeem("bob", 50_000_000, peg()))
	require.NotNil(t, out.Redeem)
	require.Equal(t, int64(50_000_000), out.Redeem.Burned())
	require.Equal(t, int64(50_000), out.Redeem.Quote.Fee)
	require.Equal(t, int64(49_950_000), out.Redeem.Payout())

	view := c.View()
	require.Equal(t, int64(49_900_000), view.Supply)
	require.Equal(t, int64(49_900_000), view.BalanceOf("bob"))
	require.Equal(t, int64(50_000), view.Withheld.Redeem)
}

func TestRedeem_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	c := newTestCore(t, zeroFees)
	mustApply(t, c, mint("carol", 40_000000, peg()))
	before := c.View()

	_, err := c.ProcessEvent(redeem("carol", 50_000000, peg()))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	after := c.View()
	require.Same(t, before, after)
	require.Equal(t, int64(40_000000), after.BalanceOf("carol"))
	require.Equal(t, int64(40_000000), after.Supply)
	require.Equal(t, state.FeesWithheld{}, after.Withheld)
}

func TestRedeem_InsufficientFundsCheckedBeforePrice(t *testing.T) {
	c := newTestCore(t, nil)

	// No oracle price exists, yet the balance failure wins.
	_, err := c.ProcessEvent(redeem("nobody", 1, nil))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestMint_CapExceeded(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		zeroFees(cfg)
		cfg.SupplyCap = 1_000_000
	})
	mustApply(t, c, mint("dave", 600_000, peg()))

	_, err := c.ProcessEvent(mint("dave", 400_001, peg()))
	require.ErrorIs(t, err, ledger.ErrCapExceeded)
	require.Equal(t, int64(600_000), c.View().Supply)

	mustApply(t, c, mint("dave", 400_000, peg()))
	require.Equal(t, int64(1_000_000), c.View().Supply)
}

func TestMint_CapCountsNetIssuance(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) { cfg.SupplyCap = 1_000_000 })

	// gross is above the cap, but only the net 999_500 is issued
	out := mustApply(t, c, mint("dave", 1_000_500, peg()))
	require.Equal(t, int64(1_000), out.Mint.Quote.Fee)
	require.Equal(t, int64(999_500), c.View().Supply)
}

func TestMint_UsesLatestOraclePrice(t *testing.T) {
	c := newTestCore(t, nil)

	_, err := c.ProcessEvent(mint("erin", 1_000_000, nil))
	require.ErrorIs(t, err, oracle.ErrNoPrice)

	mustApply(t, c, priceUpdate("1.02", 1))
	out := mustApply(t, c, mint("erin", 1_000_000, nil))

	// 0.001 base + 0.02 deviation
	require.Equal(t, fpmath.MustParseDecimal("0.021"), out.Mint.Quote.Rate)
	require.Equal(t, int64(21_000), out.Mint.Quote.Fee)
}

func TestMint_UsesConfiguredPriceDenom(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) { cfg.PriceDenom = "USDC" })

	// a quote for another denom does not price the peg
	mustApply(t, c, priceUpdate("1.00", 1))
	_, err := c.ProcessEvent(mint("frank", 1_000_000, nil))
	require.ErrorIs(t, err, oracle.ErrNoPrice)

	mustApply(t, c, &event.PriceUpdated{
		Denom:         "USDC",
		Price:         fpmath.MustParseDecimal("1.00"),
		PriceSequence: 1,
		Timestamp:     ts(1),
	})
	out := mustApply(t, c, mint("frank", 1_000_000, nil))
	require.Equal(t, int64(1_000), out.Mint.Quote.Fee)

	price, err := c.View().ResolvePrice(nil)
	require.NoError(t, err)
	require.Equal(t, fpmath.One(), price)
}

func TestSupplyInvariant_RandomMintRedeem(t *testing.T) {
	c := newTestCore(t, nil)
	rng := rand.New(rand.NewSource(7))
	holders := []string{"h1", "h2", "h3"}

	for i := 0; i < 200; i++ {
		h := holders[rng.Intn(len(holders))]
		amount := rng.Int63n(5_000_000)
		if rng.Intn(2) == 0 {
			_, _ = c.ProcessEvent(mint(h, amount, peg()))
		} else {
			_, _ = c.ProcessEvent(redeem(h, amount, peg()))
		}

		view := c.View()
		var sum int64
		for _, holder := range holders {
			sum += view.BalanceOf(holder)
		}
		require.Equal(t, view.Supply, sum)
		require.GreaterOrEqual(t, view.Supply, int64(0))
	}
}

// ============================================================================
// Solvency
// ============================================================================

func TestLiquidationCheck_Solvent(t *testing.T) {
	c := newTestCore(t, nil)
	mustApply(t, c, deposit(ledger.SourceAxelarUSDC, 100_000_000000))

	out := mustApply(t, c, check(90_000_000000))
	require.NotNil(t, out.Solvency)
	require.Equal(t, state.SolvencyStatusSolvent, out.Solvency.Status)
	require.Equal(t, int64(99_000_000000), out.Solvency.RequiredCollateral)
	require.Nil(t, out.Signal)
}

func TestLiquidationCheck_InsolventSignals(t *testing.T) {
	c := newTestCore(t, nil)
	mustApply(t, c, deposit(ledger.SourceAxelarUSDC, 100_000_000000))
	drainOutputs(c.proj)
	seq := c.GetSequence()

	out, err := c.ProcessEvent(check(95_000_000000))
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)
	require.NotNil(t, out.Signal)
	require.Equal(t, int64(104_500_000000), out.Signal.Report.RequiredCollateral)
	require.Equal(t, int64(4_500_000000), out.Signal.Shortfall)
	require.Equal(t, uint64(5), out.Signal.LiquidationFeeRate)

	// nothing applied, but the read side hears about the failed check
	require.Equal(t, seq, c.GetSequence())
	projected := drainOutputs(c.proj)
	require.Len(t, projected, 1)
	require.Nil(t, projected[0].Envelope)
	require.Equal(t, state.SolvencyStatusInsolvent, projected[0].Solvency.Status)
}

func TestLiquidationCheck_BypassedWhenInactive(t *testing.T) {
	c := newTestCore(t, nil)
	inactive := false
	mustApply(t, c, &event.LiquidationConfigUpdated{
		RequestID:  uuid.New(),
		Sender:     "admin",
		Authorized: true,
		IsActive:   &inactive,
		Timestamp:  ts(1),
	})

	out := mustApply(t, c, check(95_000_000000))
	require.Equal(t, state.SolvencyStatusBypassed, out.Solvency.Status)
}

func TestLiquidationCheck_DefaultsToTrackedSupply(t *testing.T) {
	c := newTestCore(t, zeroFees)
	mustApply(t, c, deposit(ledger.SourceNobleUSDC, 1_000))
	mustApply(t, c, mint("frank", 1_000, peg()))

	_, err := c.ProcessEvent(&event.LiquidationCheckRequested{RequestID: uuid.New(), Timestamp: ts(6)})
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)

	mustApply(t, c, deposit(ledger.SourceNobleUSDC, 100))
	out := mustApply(t, c, &event.LiquidationCheckRequested{RequestID: uuid.New(), Price: peg(), Timestamp: ts(7)})
	require.Equal(t, uint64(110), out.Solvency.CurrentRatio)
	require.NotNil(t, out.Liquidation)
	require.Equal(t, int64(1_000), out.Liquidation.BackedValue)
}

// ============================================================================
// Admin params
// ============================================================================

func TestFeeParamsUpdate_Authorization(t *testing.T) {
	c := newTestCore(t, nil)
	base := fpmath.Permille(5)
	update := &event.FeeParamsUpdated{
		RequestID:   uuid.New(),
		Sender:      "mallory",
		BaseFeeRate: &base,
		Timestamp:   ts(1),
	}

	_, err := c.ProcessEvent(update)
	require.ErrorIs(t, err, state.ErrUnauthorized)
	require.Equal(t, fpmath.Permille(1), c.View().Fees.BaseFeeRate)

	update.SetAuthorized(true)
	mustApply(t, c, update)
	require.Equal(t, fpmath.Permille(5), c.View().Fees.BaseFeeRate)
}

func TestFeeParamsUpdate_RejectsCapAboveCeiling(t *testing.T) {
	c := newTestCore(t, nil)
	max := fpmath.Percent(11)
	_, err := c.ProcessEvent(&event.FeeParamsUpdated{
		RequestID:  uuid.New(),
		Authorized: true,
		MaxFeeRate: &max,
		Timestamp:  ts(1),
	})
	require.ErrorIs(t, err, state.ErrInvalidConfiguration)
	require.Equal(t, fpmath.Percent(5), c.View().Fees.MaxFeeRate)
}

func TestLiquidationConfigUpdate_RejectsLowThreshold(t *testing.T) {
	c := newTestCore(t, nil)
	threshold := uint64(99)
	_, err := c.ProcessEvent(&event.LiquidationConfigUpdated{
		RequestID:      uuid.New(),
		Authorized:     true,
		ThresholdRatio: &threshold,
		Timestamp:      ts(1),
	})
	require.ErrorIs(t, err, state.ErrInvalidConfiguration)
	require.Equal(t, uint64(110), c.View().Liquidation.ThresholdRatio)
}

func TestNewDeterministicCore_RejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Liquidation.LiquidationFeeRate = 21
	_, err := core.NewDeterministicCore(cfg, nil, nil, nil, nil)
	require.ErrorIs(t, err, state.ErrInvalidConfiguration)
}

// ============================================================================
// Idempotency, sequencing, hashing
// ============================================================================

func TestDuplicateEvent_Skipped(t *testing.T) {
	c := newTestCore(t, nil)
	evt := deposit(ledger.SourceAxelarUSDC, 10)

	mustApply(t, c, evt)
	out, err := c.ProcessEvent(evt)
	require.NoError(t, err)
	require.True(t, out.Duplicate)

	require.Equal(t, int64(10), c.View().TotalLocked)
	require.Len(t, drainOutputs(c.persist), 1)
}

type fakeDBChecker map[string]bool

func (f fakeDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	return f[eventType+":"+key], nil
}

func TestDuplicateEvent_CaughtByPostgresTier(t *testing.T) {
	evt := deposit(ledger.SourceAxelarUSDC, 10)
	db := fakeDBChecker{evt.EventType().String() + ":" + evt.IdempotencyKey(): true}

	c, err := core.NewDeterministicCore(core.DefaultConfig(), nil, nil, db, nil)
	require.NoError(t, err)

	out, err := c.ProcessEvent(evt)
	require.NoError(t, err)
	require.True(t, out.Duplicate)
	require.Equal(t, int64(0), c.View().TotalLocked)
}

func TestSourceSequence_GapAndOutOfOrder(t *testing.T) {
	c := newTestCore(t, nil)

	gap := deposit(ledger.SourceAxelarUSDC, 1)
	gap.Sequence = 2
	_, err := c.ProcessEvent(gap)
	require.ErrorIs(t, err, core.ErrSequenceGap)

	first := deposit(ledger.SourceAxelarUSDC, 1)
	first.Sequence = 1
	mustApply(t, c, first)

	replayed := deposit(ledger.SourceAxelarUSDC, 1)
	replayed.Sequence = 1
	_, err = c.ProcessEvent(replayed)
	require.ErrorIs(t, err, core.ErrOutOfOrder)

	// other partitions are independent
	other := deposit(ledger.SourceNobleUSDC, 1)
	other.Sequence = 1
	mustApply(t, c, other)
}

func TestSourceSequence_RejectedCommandConsumesSequence(t *testing.T) {
	c := newTestCore(t, zeroFees)

	m1 := mint("alice", 1_000_000, peg())
	m1.Sequence = 1
	mustApply(t, c, m1)

	r2 := redeem("alice", 5_000_000, peg())
	r2.Sequence = 2
	_, err := c.ProcessEvent(r2)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Equal(t, int64(1), c.GetSequence())

	m3 := mint("alice", 1_000_000, peg())
	m3.Sequence = 3
	out := mustApply(t, c, m3)
	require.Equal(t, int64(2), out.Sequence)
	require.Equal(t, int64(2_000_000), c.View().BalanceOf("alice"))

	// the rejected sequence cannot be reused
	retry := redeem("alice", 1, peg())
	retry.Sequence = 2
	_, err = c.ProcessEvent(retry)
	require.ErrorIs(t, err, core.ErrOutOfOrder)
}

func TestSourceSequence_ReplayAcceptsGapsThenResyncsOnce(t *testing.T) {
	c := newTestCore(t, nil)

	c.BeginReplay()
	d1 := deposit(ledger.SourceAxelarUSDC, 1)
	d1.Sequence = 1
	mustApply(t, c, d1)
	d3 := deposit(ledger.SourceAxelarUSDC, 1)
	d3.Sequence = 3
	mustApply(t, c, d3)
	c.EndReplay()

	// a rejected event after the last logged one may have consumed seq 4
	d5 := deposit(ledger.SourceAxelarUSDC, 1)
	d5.Sequence = 5
	mustApply(t, c, d5)

	d7 := deposit(ledger.SourceAxelarUSDC, 1)
	d7.Sequence = 7
	_, err := c.ProcessEvent(d7)
	require.ErrorIs(t, err, core.ErrSequenceGap)
}

func TestPriceUpdate_StaleIgnoredGapTolerated(t *testing.T) {
	c := newTestCore(t, nil)

	mustApply(t, c, priceUpdate("0.99", 5))
	out, err := c.ProcessEvent(priceUpdate("1.50", 3))
	require.NoError(t, err)
	require.True(t, out.Ignored)

	q, ok := c.View().Price(oracle.DefaultDenom)
	require.True(t, ok)
	require.Equal(t, fpmath.MustParseDecimal("0.99"), q.Price)
	require.Equal(t, int64(5), q.Sequence)
}

func TestHashChain_LinksAndIsDeterministic(t *testing.T) {
	events := func() []event.Event {
		return []event.Event{
			deposit(ledger.SourceAxelarUSDC, 60_000_000000),
			priceUpdate("1.0", 1),
			mint("alice", 1_000_000, nil),
			redeem("alice", 500_000, nil),
		}
	}

	run := func() []core.CoreOutput {
		c := newTestCore(t, nil)
		for _, evt := range events() {
			mustApply(t, c, evt)
		}
		return drainOutputs(c.persist)
	}

	a, b := run(), run()
	require.Len(t, a, 4)

	prev := core.GenesisHash()
	for i := range a {
		require.Equal(t, prev, a[i].Envelope.PrevHash)
		require.Equal(t, core.ChainHash(prev, a[i].Envelope.Sequence, a[i].StateDelta), a[i].Envelope.StateHash)
		require.Equal(t, a[i].Envelope.StateHash, b[i].Envelope.StateHash)
		prev = a[i].Envelope.StateHash
	}
}

func TestEnvelopePayload_DecodesToEvent(t *testing.T) {
	c := newTestCore(t, nil)
	evt := mint("grace", 2_000_000, peg())
	mustApply(t, c, evt)

	out := drainOutputs(c.persist)[0]
	decoded, err := event.Decode(out.Envelope.EventType, out.Envelope.Payload)
	require.NoError(t, err)
	require.Equal(t, evt.IdempotencyKey(), decoded.IdempotencyKey())
	require.Equal(t, "holder:grace", out.Envelope.Partition)
}

// ============================================================================
// Snapshot
// ============================================================================

func TestSnapshot_RestoreReproducesState(t *testing.T) {
	src := newTestCore(t, nil)
	mustApply(t, src, deposit(ledger.SourceAxelarUSDC, 50_000_000))
	mustApply(t, src, priceUpdate("1.01", 1))
	mustApply(t, src, mint("heidi", 10_000_000, nil))
	dup := deposit(ledger.SourceNobleUSDC, 7)
	mustApply(t, src, dup)

	snap := src.CreateSnapshotState()

	dst := newTestCore(t, nil)
	require.NoError(t, dst.RestoreFromSnapshot(snap))
	require.Equal(t, src.GetSequence(), dst.GetSequence())
	require.Equal(t, src.GetStateHash(), dst.GetStateHash())

	sv, dv := src.View(), dst.View()
	require.Equal(t, sv.Collateral, dv.Collateral)
	require.Equal(t, sv.Supply, dv.Supply)
	require.Equal(t, sv.Withheld, dv.Withheld)
	require.Equal(t, sv.BalanceOf("heidi"), dv.BalanceOf("heidi"))

	// restored idempotency keys still dedup
	out, err := dst.ProcessEvent(dup)
	require.NoError(t, err)
	require.True(t, out.Duplicate)

	// and the chain continues identically
	next := redeem("heidi", 1_000_000, nil)
	a := mustApply(t, src, next)
	b := mustApply(t, dst, next)
	require.Equal(t, a.StateHash, b.StateHash)
}
