package query

import (
	"context"
	"testing"

	"EqaLedger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, pageSize(0))
	assert.Equal(t, DefaultPageSize, pageSize(-3))
	assert.Equal(t, 25, pageSize(25))
	assert.Equal(t, DefaultPageSize, pageSize(DefaultPageSize+1))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "alice", escapeLike("alice"))
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
}

func TestQueryService_Postgres(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.collateral_balances (source, balance, last_sequence) VALUES
			('axelar_usdc', 700, 2), ('noble_usdc', 300, 3)
	`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO projections.holder_balances (holder, balance, last_sequence) VALUES ('alice', 400, 4)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE projections.supply SET total_supply = 400, last_sequence = 4 WHERE id = 1`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE projections.watermark SET last_sequence = 4 WHERE id = 1`)
	require.NoError(t, err)

	qs := NewQueryService(db)

	collateral, err := qs.GetCollateral(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), collateral.Total)
	assert.Equal(t, int64(4), collateral.AsOfSequence)
	require.Len(t, collateral.Sources, 2)
	assert.Equal(t, "axelar_usdc", collateral.Sources[0].Source)

	bal, err := qs.GetHolderBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(400), bal.Balance)

	unknown, err := qs.GetHolderBalance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, unknown.Balance)

	supply, err := qs.GetSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(400), supply.TotalSupply)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	checks, err := qs.GetLiquidationChecks(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, checks)
}
