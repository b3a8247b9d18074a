package core

import (
	"testing"

	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/state"

	"github.com/stretchr/testify/require"
)

func TestQuoteMint_DoesNotMutate(t *testing.T) {
	supply := ledger.NewTokenSupply(0)
	holders := ledger.NewHolderBalances()
	fees := state.NewFeeLedger()
	engine := NewMintRedeemEngine(supply, holders, fees)
	curve := state.NewFeeCurve(state.DefaultFeeParams())

	report, err := engine.QuoteMint(curve, 1_000_000, fpmath.MustParseDecimal("0.97"))
	require.NoError(t, err)
	require.Equal(t, int64(31_000), report.Quote.Fee) // 0.001 + 0.03
	require.Equal(t, int64(969_000), report.SupplyAfter)

	require.Equal(t, int64(0), supply.Total())
	require.Equal(t, state.FeesWithheld{}, fees.Withheld())
}

func TestQuoteMint_CapCountsNetOnly(t *testing.T) {
	curve := state.NewFeeCurve(state.DefaultFeeParams())

	// net = 1_000_000 - 1_000 fits exactly
	_, err := QuoteMint(curve, 1_000_000, fpmath.One(), 0, 999_000)
	require.NoError(t, err)

	_, err = QuoteMint(curve, 1_000_000, fpmath.One(), 1, 999_000)
	require.ErrorIs(t, err, ledger.ErrCapExceeded)
}

func TestQuoteMint_RejectsNegative(t *testing.T) {
	curve := state.NewFeeCurve(state.DefaultFeeParams())
	_, err := QuoteMint(curve, -1, fpmath.One(), 0, 0)
	require.ErrorIs(t, err, ledger.ErrNegativeAmount)
}

func TestQuoteRedeem_BalanceCheckedFirst(t *testing.T) {
	curve := state.NewFeeCurve(state.DefaultFeeParams())

	_, err := QuoteRedeem(curve, 50_000000, fpmath.One(), 40_000000, 100_000000)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	report, err := QuoteRedeem(curve, 40_000000, fpmath.One(), 40_000000, 100_000000)
	require.NoError(t, err)
	require.Equal(t, int64(40_000), report.Quote.Fee)
	require.Equal(t, int64(39_960_000), report.Payout())
	require.Equal(t, int64(60_000000), report.SupplyAfter)
}

func TestMint_InvalidHolderChangesNothing(t *testing.T) {
	supply := ledger.NewTokenSupply(0)
	fees := state.NewFeeLedger()
	engine := NewMintRedeemEngine(supply, ledger.NewHolderBalances(), fees)

	_, err := engine.Mint(state.NewFeeCurve(state.DefaultFeeParams()), "", 1_000, fpmath.One())
	require.ErrorIs(t, err, ledger.ErrInvalidHolder)
	require.Equal(t, int64(0), supply.Total())
	require.Equal(t, state.FeesWithheld{}, fees.Withheld())
}

func TestSequenceValidator_StartsAtOne(t *testing.T) {
	sv := NewSequenceValidator()
	require.Equal(t, int64(1), sv.GetExpectedSequence("collateral:noble_usdc"))
	require.NoError(t, sv.Check("collateral:noble_usdc", 0, false))
	require.NoError(t, sv.Check("collateral:noble_usdc", 1, false))

	sv.Advance("collateral:noble_usdc", 1)
	require.ErrorIs(t, sv.Check("collateral:noble_usdc", 1, false), ErrOutOfOrder)
	require.NoError(t, sv.Check("collateral:noble_usdc", 1, true))
	require.ErrorIs(t, sv.Check("collateral:noble_usdc", 3, false), ErrSequenceGap)
}

func TestIdempotencyChecker_EvictsOldest(t *testing.T) {
	ic, err := NewIdempotencyChecker(2, nil)
	require.NoError(t, err)

	ic.MarkProcessed("MintRequested", "a")
	ic.MarkProcessed("MintRequested", "b")
	ic.MarkProcessed("MintRequested", "c")

	dup, _ := ic.Check("MintRequested", "a")
	require.False(t, dup)
	dup, tier := ic.Check("MintRequested", "c")
	require.True(t, dup)
	require.Equal(t, DedupTierLRU, tier)
	require.Equal(t, []string{"MintRequested:b", "MintRequested:c"}, ic.Keys())
}
