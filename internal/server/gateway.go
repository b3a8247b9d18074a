package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ViewSource hands out the latest published core view.
// *core.DeterministicCore satisfies it.
type ViewSource interface {
	View() *core.View
}

// gateway serves the REST surface. Live reads come from the core view,
// history from the projections, writes go through the Ledger service.
type gateway struct {
	ledger       *ledgerService
	views        ViewSource
	query        *query.QueryService
	metrics      *observability.Metrics
	network      string
	staleTimeout time.Duration
	now          func() time.Time
}

func (g *gateway) register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern, endpoint string
		handler                   runtime.HandlerFunc
	}{
		{"GET", "/v1/collateral", "collateral", g.getCollateral},
		{"GET", "/v1/supply", "supply", g.getSupply},
		{"GET", "/v1/balances/{holder}", "balance", g.getBalance},
		{"GET", "/v1/balances/{holder}/journal", "journal", g.getJournal},
		{"GET", "/v1/fees/quote", "fee_quote", g.getFeeQuote},
		{"GET", "/v1/liquidation/status", "liquidation_status", g.getLiquidationStatus},
		{"GET", "/v1/liquidation/checks", "liquidation_checks", g.getLiquidationChecks},
		{"GET", "/v1/arbitrage", "arbitrage", g.getArbitrage},
		{"GET", "/v1/prices", "prices", g.getPrices},
		{"GET", "/v1/config", "config", g.getConfig},
		{"GET", "/v1/integrity", "integrity", g.getIntegrity},
		{"POST", "/v1/mint", "mint", g.postMint},
		{"POST", "/v1/redeem", "redeem", g.postRedeem},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, g.instrument(rt.endpoint, rt.handler)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (g *gateway) getCollateral(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v := g.views.View()
	resp := query.CollateralResponse{
		Sources:      make([]query.SourceBalance, 0, len(v.Collateral)),
		Total:        v.TotalLocked,
		AsOfSequence: v.Sequence,
	}
	for _, src := range ledger.AllSources() {
		resp.Sources = append(resp.Sources, query.SourceBalance{Source: src.String(), Balance: v.Collateral[src]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *gateway) getSupply(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v := g.views.View()
	var resp SupplyView
	resp.TotalSupply = v.Supply
	resp.SupplyCap = v.SupplyCap
	resp.FeesWithheld.Mint = v.Withheld.Mint
	resp.FeesWithheld.Redeem = v.Withheld.Redeem
	resp.Holders = v.HolderCount()
	resp.AsOfSequence = v.Sequence
	writeJSON(w, http.StatusOK, resp)
}

func (g *gateway) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	holder := params["holder"]
	if holder == "" {
		writeError(w, status.Error(codes.InvalidArgument, "holder is required"))
		return
	}
	v := g.views.View()
	writeJSON(w, http.StatusOK, query.HolderBalanceResponse{
		Holder:       holder,
		Balance:      v.BalanceOf(holder),
		AsOfSequence: v.Sequence,
	})
}

func (g *gateway) getJournal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if g.query == nil {
		writeError(w, status.Error(codes.Unavailable, "history is not available"))
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	before, err := optionalInt64Param(r, "before_sequence")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := g.query.GetJournalHistory(r.Context(), params["holder"], limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (g *gateway) getFeeQuote(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	amount, err := int64Param(r, "amount")
	if err != nil {
		writeError(w, err)
		return
	}
	v := g.views.View()
	price, err := g.price(r, v)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := v.FeeQuote(amount, price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeeQuoteResponse(quote))
}

// getLiquidationStatus evaluates supply (default: tracked supply) at price.
func (g *gateway) getLiquidationStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v := g.views.View()
	price, err := g.price(r, v)
	if err != nil {
		writeError(w, err)
		return
	}
	supply := v.Supply
	override, err := optionalInt64Param(r, "supply")
	if err != nil {
		writeError(w, err)
		return
	}
	if override != nil {
		if *override < 0 {
			writeError(w, fmt.Errorf("%w: supply=%d", ledger.ErrNegativeAmount, *override))
			return
		}
		supply = *override
	}
	st, err := v.LiquidationStatus(supply, price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidationStatusResponse(st, supply, price))
}

func (g *gateway) getLiquidationChecks(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.query == nil {
		writeError(w, status.Error(codes.Unavailable, "history is not available"))
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	before, err := optionalInt64Param(r, "before_id")
	if err != nil {
		writeError(w, err)
		return
	}
	checks, err := g.query.GetLiquidationChecks(r.Context(), limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (g *gateway) getArbitrage(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v := g.views.View()
	price, err := g.price(r, v)
	if err != nil {
		writeError(w, err)
		return
	}
	opp, err := v.ArbitrageOpportunity(price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ArbitrageResponse{
		Exists:           opp.Exists,
		Direction:        opp.Direction,
		Price:            price,
		Deviation:        opp.Deviation,
		ExpectedProfit:   opp.ExpectedProfit,
		OptimalTradeSize: opp.OptimalTradeSize,
	})
}

// getPrices lists the oracle book. Staleness is reported, never enforced.
func (g *gateway) getPrices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v := g.views.View()
	now := g.now()
	prices := make([]PriceResponse, 0, len(v.Prices))
	for _, q := range v.Prices {
		prices = append(prices, PriceResponse{
			Denom:       q.Denom,
			Price:       q.Price,
			Sequence:    q.Sequence,
			LastUpdated: q.LastUpdated,
			Stale:       q.IsStale(now, g.staleTimeout),
		})
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Denom < prices[j].Denom })
	writeJSON(w, http.StatusOK, prices)
}

func (g *gateway) getConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, newConfigResponse(g.views.View(), g.network))
}

func (g *gateway) getIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.query == nil {
		writeError(w, status.Error(codes.Unavailable, "history is not available"))
		return
	}
	report, err := g.query.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if !report.IsHealthy {
		code = http.StatusConflict
	}
	writeJSON(w, code, report)
}

func (g *gateway) postMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var msg ingestion.IssuanceMessage
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.ledger.Mint(r.Context(), &msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *gateway) postRedeem(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var msg ingestion.IssuanceMessage
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.ledger.Redeem(r.Context(), &msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// price reads ?price=, falling back to the latest oracle quote.
func (g *gateway) price(r *http.Request, v *core.View) (fpmath.Decimal, error) {
	raw := r.URL.Query().Get("price")
	if raw == "" {
		return v.ResolvePrice(nil)
	}
	p, err := fpmath.ParseDecimal(raw)
	if err != nil {
		return fpmath.Decimal{}, status.Errorf(codes.InvalidArgument, "price: %v", err)
	}
	return p, nil
}

// instrument records request count, latency and errors per endpoint.
func (g *gateway) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	if g.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)

		code := strconv.Itoa(rec.status)
		g.metrics.QueryRequests.WithLabelValues(endpoint, code).Inc()
		g.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusBadRequest {
			g.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err with the HTTP status matching its gRPC code.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorResponse{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ingestion.ErrMalformedMessage, err)
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return v, nil
}

func optionalInt64Param(r *http.Request, name string) (*int64, error) {
	if r.URL.Query().Get(name) == "" {
		return nil, nil
	}
	v, err := int64Param(r, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// intParam returns 0 when absent; the query service applies its default.
func intParam(r *http.Request, name string) (int, error) {
	v, err := optionalInt64Param(r, name)
	if err != nil || v == nil {
		return 0, err
	}
	if *v < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be >= 0", name)
	}
	return int(*v), nil
}
