package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"EqaLedger/internal/config"
	"EqaLedger/internal/core"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	testAdmin  = "eqa-admin"
	testRelay  = "axelar-gateway-local"
	testSource = "axelar_usdc"
)

type harness struct {
	core   *core.DeterministicCore
	server *GRPCServer
	client *LedgerClient
	http   *httptest.Server
}

// newHarness wires a real core behind the services, with a loop that
// answers commands the way cmd/eqaledger does.
func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := core.NewDeterministicCore(core.DefaultConfig(), nil, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	commands := make(chan ingestion.Command, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-commands:
				out, err := c.ProcessEvent(cmd.Event)
				cmd.Respond(ingestion.Result{Outcome: out, Err: err})
			}
		}
	}()

	cfg := config.Default()
	srv, err := NewGRPCServer("", "", Deps{
		Parser:       ingestion.NewParser(cfg.Network, ingestion.NewAuthorizer([]string{testAdmin})),
		Submitter:    ingestion.NewSubmitter(commands),
		Views:        c,
		Network:      "localnet",
		StaleTimeout: time.Minute,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return &harness{core: c, server: srv, client: NewLedgerClient(conn), http: httpSrv}
}

func (h *harness) deposit(t *testing.T, amount int64) {
	t.Helper()
	_, err := h.client.DepositCollateral(context.Background(), &ingestion.CollateralMessage{
		RequestID: uuid.NewString(),
		Source:    testSource,
		Amount:    amount,
		Relayer:   testRelay,
	})
	require.NoError(t, err)
}

func (h *harness) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(h.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestLedger_MintRedeemRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 2_000_000)

	mintReq := &ingestion.IssuanceMessage{
		RequestID: uuid.NewString(),
		Holder:    "alice",
		Amount:    1_000_000,
		Price:     "1",
	}
	minted, err := h.client.Mint(ctx, mintReq)
	require.NoError(t, err)
	assert.Equal(t, int64(2), minted.Sequence)
	assert.Equal(t, int64(1_000), minted.Fee)
	assert.Equal(t, int64(999_000), minted.Minted)
	assert.Equal(t, int64(999_000), minted.SupplyAfter)
	assert.Len(t, minted.StateHash, 64)

	// same request id: acknowledged, nothing applied
	again, err := h.client.Mint(ctx, mintReq)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, int64(2), again.Sequence)
	assert.Zero(t, again.Minted)

	redeemed, err := h.client.Redeem(ctx, &ingestion.IssuanceMessage{
		RequestID: uuid.NewString(),
		Holder:    "alice",
		Amount:    500_000,
		Price:     "1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), redeemed.Burned)
	assert.Equal(t, int64(500), redeemed.Fee)
	assert.Equal(t, int64(499_500), redeemed.Payout)
	assert.Equal(t, int64(499_000), redeemed.SupplyAfter)

	_, err = h.client.Redeem(ctx, &ingestion.IssuanceMessage{
		RequestID: uuid.NewString(),
		Holder:    "alice",
		Amount:    10_000_000,
		Price:     "1",
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	v := h.core.View()
	assert.Equal(t, int64(499_000), v.Supply)
	assert.Equal(t, int64(499_000), v.BalanceOf("alice"))
	assert.Equal(t, int64(1_000), v.Withheld.Mint)
	assert.Equal(t, int64(500), v.Withheld.Redeem)
}

func TestLedger_RequestErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.DepositCollateral(ctx, &ingestion.CollateralMessage{
		RequestID: uuid.NewString(),
		Source:    testSource,
		Amount:    1_000,
		Relayer:   "somebody-else",
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = h.client.DepositCollateral(ctx, &ingestion.CollateralMessage{
		RequestID: uuid.NewString(),
		Source:    "wormhole_usdc",
		Amount:    1_000,
		Relayer:   testRelay,
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// no price given and no oracle quote yet
	_, err = h.client.Mint(ctx, &ingestion.IssuanceMessage{Holder: "alice", Amount: 10})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = h.client.Mint(ctx, &ingestion.IssuanceMessage{Holder: "", Amount: 10, Price: "1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Zero(t, h.core.GetSequence())
}

func TestLedger_AdminUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.UpdateFeeParams(ctx, &ingestion.FeeParamsMessage{
		Sender:     "mallory",
		MaxFeeRate: "0.02",
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = h.client.UpdateFeeParams(ctx, &ingestion.FeeParamsMessage{
		Sender:     testAdmin,
		MaxFeeRate: "0.5",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	out, err := h.client.UpdateFeeParams(ctx, &ingestion.FeeParamsMessage{
		Sender:     testAdmin,
		MaxFeeRate: "0.02",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Sequence)

	threshold := uint64(150)
	_, err = h.client.UpdateLiquidationConfig(ctx, &ingestion.LiquidationConfigMessage{
		Sender:         testAdmin,
		ThresholdRatio: &threshold,
	})
	require.NoError(t, err)

	_, err = h.client.UpdateCollateral(ctx, &ingestion.CollateralUpdateMessage{
		Sender:   testAdmin,
		Balances: map[string]int64{"axelar_usdc": 700, "noble_usdc": 300},
	})
	require.NoError(t, err)

	var cfg ConfigResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/config", &cfg))
	assert.Equal(t, "0.02", cfg.Fees.MaxFeeRate.String())
	assert.Equal(t, uint64(150), cfg.Liquidation.ThresholdRatio)
	assert.Equal(t, "localnet", cfg.Network)
	assert.Equal(t, int64(3), cfg.AsOfSequence)

	var collateral query.CollateralResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/collateral", &collateral))
	assert.Equal(t, int64(1_000), collateral.Total)
	require.Len(t, collateral.Sources, 2)
}

func TestLedger_CheckLiquidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 1_000_000)

	_, err := h.client.Mint(ctx, &ingestion.IssuanceMessage{Holder: "alice", Amount: 1_000_000, Price: "1"})
	require.NoError(t, err)

	// 999_000 supply at 110% needs 1_098_900
	resp, err := h.client.CheckLiquidation(ctx, &ingestion.LiquidationCheckMessage{})
	require.NoError(t, err)
	assert.True(t, resp.Liquidate)
	assert.Equal(t, "insolvent", resp.Status)
	assert.Equal(t, int64(1_098_900), resp.RequiredCollateral)
	assert.Equal(t, int64(98_900), resp.Shortfall)
	assert.Equal(t, uint64(100), resp.CurrentRatio)
	assert.Zero(t, resp.Sequence)
	assert.Equal(t, int64(2), h.core.GetSequence())

	smaller := int64(500_000)
	resp, err = h.client.CheckLiquidation(ctx, &ingestion.LiquidationCheckMessage{Supply: &smaller, Price: "1"})
	require.NoError(t, err)
	assert.False(t, resp.Liquidate)
	assert.Equal(t, "solvent", resp.Status)
	assert.Equal(t, int64(3), resp.Sequence)
	require.NotNil(t, resp.Valuation)
	assert.Equal(t, int64(500_000), resp.Valuation.BackedValue)
}

func TestGateway_Routes(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, 5_000_000)

	body := `{"holder":"bob","amount":2000000,"price":"1"}`
	resp, err := http.Post(h.http.URL+"/v1/mint", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var minted MintResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&minted))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1_998_000), minted.Minted)

	resp, err = http.Post(h.http.URL+"/v1/mint", "application/json", strings.NewReader(`{"holder":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var supply SupplyView
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/supply", &supply))
	assert.Equal(t, int64(1_998_000), supply.TotalSupply)
	assert.Equal(t, int64(2_000), supply.FeesWithheld.Mint)
	assert.Equal(t, 1, supply.Holders)

	var bal query.HolderBalanceResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/balances/bob", &bal))
	assert.Equal(t, int64(1_998_000), bal.Balance)
	assert.Equal(t, int64(2), bal.AsOfSequence)

	// 0.1% base + 2% deviation
	var quote FeeQuoteResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/fees/quote?amount=1000000&price=1.02", &quote))
	assert.Equal(t, int64(21_000), quote.Fee)
	assert.Equal(t, int64(979_000), quote.Net)

	assert.Equal(t, http.StatusBadRequest, h.getJSON(t, "/v1/fees/quote?price=1", nil))

	// no oracle quote yet
	var failure errorResponse
	assert.Equal(t, http.StatusBadRequest, h.getJSON(t, "/v1/liquidation/status", &failure))
	assert.Equal(t, codes.FailedPrecondition.String(), failure.Code)

	_, err = h.client.SubmitPrice(context.Background(), &ingestion.PriceMessage{
		Denom:         "EQA",
		Price:         "1.05",
		PriceSequence: 1,
	})
	require.NoError(t, err)

	var liq LiquidationStatusResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/liquidation/status", &liq))
	assert.True(t, liq.IsSolvent)
	assert.Equal(t, uint64(110), liq.RequiredRatio)
	assert.Equal(t, int64(2_097_900), liq.BackedValue)

	var arb ArbitrageResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/arbitrage", &arb))
	assert.True(t, arb.Exists)
	assert.Equal(t, "sell", string(arb.Direction))
	assert.Equal(t, int64(100_000), arb.OptimalTradeSize)

	var prices []PriceResponse
	require.Equal(t, http.StatusOK, h.getJSON(t, "/v1/prices", &prices))
	require.Len(t, prices, 1)
	assert.False(t, prices[0].Stale)

	// projection-backed routes need a query service
	assert.Equal(t, http.StatusServiceUnavailable, h.getJSON(t, "/v1/liquidation/checks", nil))

	assert.Equal(t, http.StatusOK, h.getJSON(t, "/healthz", nil))
}

func TestSubmitterShutdown(t *testing.T) {
	commands := make(chan ingestion.Command)
	svc := newLedgerService(
		ingestion.NewParser(config.Default().Network, ingestion.NewAuthorizer(nil)),
		ingestion.NewSubmitter(commands),
	)
	go func() {
		cmd := <-commands
		cmd.Respond(ingestion.Result{Err: ingestion.ErrShuttingDown})
	}()

	_, err := svc.SubmitPrice(context.Background(), &ingestion.PriceMessage{Denom: "EQA", Price: "1", PriceSequence: 1})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
