package core

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"EqaLedger/internal/event"
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/oracle"
	"EqaLedger/internal/state"
)

// Config is the core's static configuration.
type Config struct {
	// Last applied sequence (0 on a fresh log).
	StartSequence       int64
	IdempotencyCapacity int
	// 0 means uncapped.
	SupplyCap   int64
	Fees        state.FeeParams
	Liquidation state.LiquidationConfig
	Arbitrage   state.ArbitrageParams
	// Oracle denom used when an event carries no explicit price.
	PriceDenom  string
}

func DefaultConfig() Config {
	return Config{
		IdempotencyCapacity: DefaultIdempotencyCapacity,
		PriceDenom:          oracle.DefaultDenom,
		Fees:                state.DefaultFeeParams(),
		Liquidation:         state.DefaultLiquidationConfig(),
		Arbitrage:           state.DefaultArbitrageParams(),
	}
}

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	collateral        *ledger.CollateralLedger
	supply            *ledger.TokenSupply
	holders           *ledger.HolderBalances
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	params            *state.ParamsManager
	feeLedger         *state.FeeLedger
	solvency          *state.SolvencyChecker
	mintRedeem        *MintRedeemEngine
	prices            *oracle.PriceBook
	priceDenom        string
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	// copy-on-write holder map backing published views
	holderView map[string]int64
	view       atomic.Pointer[View]
}

// CoreOutput is everything downstream workers need about one applied event.
// A failed solvency check is sent to projections only, with a nil Envelope.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Solvency   *state.SolvencyReport
}

// Outcome is the typed result of ProcessEvent.
type Outcome struct {
	Sequence  int64
	StateHash [32]byte

	Duplicate bool // already processed, nothing applied
	Ignored   bool // stale oracle sequence, nothing applied

	Mint        *MintReport
	Redeem      *RedeemReport
	Solvency    *state.SolvencyReport
	Liquidation *state.LiquidationStatus
	Signal      *state.LiquidationSignal // set when a check failed
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	params, err := state.NewParamsManager(cfg.Fees, cfg.Liquidation, cfg.Arbitrage)
	if err != nil {
		return nil, err
	}
	if cfg.SupplyCap < 0 {
		return nil, fmt.Errorf("%w: supply cap must be >= 0, got %d", state.ErrInvalidConfiguration, cfg.SupplyCap)
	}
	if cfg.PriceDenom == "" {
		cfg.PriceDenom = oracle.DefaultDenom
	}
	idempotency, err := NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker)
	if err != nil {
		return nil, err
	}

	collateral := ledger.NewCollateralLedger()
	supply := ledger.NewTokenSupply(cfg.SupplyCap)
	holders := ledger.NewHolderBalances()
	feeLedger := state.NewFeeLedger()

	c := &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		collateral:        collateral,
		supply:            supply,
		holders:           holders,
		journalGen:        ledger.NewJournalGenerator(),
		validator:         ledger.NewInvariantValidator(collateral, supply, holders),
		params:            params,
		feeLedger:         feeLedger,
		solvency:          state.NewSolvencyChecker(collateral),
		mintRedeem:        NewMintRedeemEngine(supply, holders, feeLedger),
		prices:            oracle.NewPriceBook(),
		priceDenom:        cfg.PriceDenom,
		idempotency:       idempotency,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
		holderView:        map[string]int64{},
	}
	c.publishView()
	return c, nil
}

// BeginReplay makes the core accept source-sequence gaps left by rejected
// events, which are never logged. Recovery brackets the replay with
// BeginReplay and EndReplay.
func (c *DeterministicCore) BeginReplay() {
	c.sequenceValidator.BeginReplay()
}

// EndReplay returns to strict source-sequence checks, with a one-time resync
// per partition.
func (c *DeterministicCore) EndReplay() {
	c.sequenceValidator.EndReplay()
}

// AttachDBChecker enables tier-2 dedup against the event log. Recovery
// replays the log before calling it, since every replayed key is in the log.
func (c *DeterministicCore) AttachDBChecker(db DBIdempotencyChecker) {
	c.idempotency.SetDBChecker(db)
}

// ProcessEvent is the main processing pipeline:
// dedup, sequence check, dispatch, validate, hash, emit.
// A rejected event leaves state, sequence and hash chain unchanged; only its
// source sequence is consumed.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (Outcome, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	partition := evt.Partition()
	sourceSequence := evt.SourceSequence()

	// Step 1: idempotency (two-tier)
	isDuplicate, tier := c.idempotency.Check(eventType, idempotencyKey)
	if isDuplicate {
		c.reject(eventType, "duplicate")
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, string(tier)).Inc()
		}
		return Outcome{Sequence: c.sequence, StateHash: c.hasher.GetPrevHash(), Duplicate: true}, nil
	}

	// Step 2: source sequence (price updates tolerate gaps, ignore stale)
	priceEvt, isPrice := evt.(*event.PriceUpdated)
	if isPrice {
		stale, gap := c.sequenceValidator.CheckPriceSequence(priceEvt.Denom, priceEvt.PriceSequence)
		if stale {
			c.reject(eventType, "stale_price")
			return Outcome{Sequence: c.sequence, StateHash: c.hasher.GetPrevHash(), Ignored: true}, nil
		}
		if gap && c.metrics != nil {
			c.metrics.PriceSequenceGap.WithLabelValues(priceEvt.Denom).Inc()
		}
	} else if err := c.sequenceValidator.Check(partition, sourceSequence, false); err != nil {
		c.reject(eventType, "sequence")
		if c.metrics != nil {
			if errors.Is(err, ErrSequenceGap) {
				c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
			} else {
				c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
			}
		}
		return Outcome{}, fmt.Errorf("sequence validation failed: %w", err)
	}

	ref := ledger.BatchRef{
		EventRef:  idempotencyKey,
		Sequence:  c.sequence + 1,
		Timestamp: evt.EventTimestamp().UnixMicro(),
	}

	// Step 3: dispatch; handlers mutate only once nothing can fail.
	// The source sequence is consumed either way.
	batch, outcome, err := c.dispatchEvent(evt, ref)
	if !isPrice {
		c.sequenceValidator.Advance(partition, sourceSequence)
	}
	if err != nil {
		c.reject(eventType, rejectReason(err))
		if outcome.Signal != nil {
			c.emitFailedCheck(outcome.Solvency)
		}
		return outcome, fmt.Errorf("%s rejected: %w", eventType, err)
	}

	// Step 4: the generated batch must be well-formed
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invalid batch for %s: %v", eventType, err))
	}

	// Step 5: invariant post-check
	if err := c.validator.ValidateAll(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", eventType, err))
	}

	if isPrice {
		c.sequenceValidator.AdvancePrice(priceEvt.Denom, priceEvt.PriceSequence)
	}

	// Step 6: hash chain
	c.sequence++
	stateDigest := c.computeStateDigest(batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %s: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      evt.EventTimestamp(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Solvency:   outcome.Solvency,
	}

	// Step 7: emit. Persistence blocks (backpressure); projections drop
	// when full and catch up via rebuild.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	c.sendProjection(output)

	// Step 8: mark processed and publish the new view
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	if outcome.Mint != nil || outcome.Redeem != nil {
		c.holderView = c.holders.Snapshot()
	}
	c.publishView()

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.recordStateMetrics()
	}

	outcome.Sequence = c.sequence
	outcome.StateHash = stateHash
	return outcome, nil
}

func (c *DeterministicCore) sendProjection(output CoreOutput) {
	if c.projectionChan == nil {
		return
	}
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}
}

// emitFailedCheck records a failed solvency check for the read side.
// It carries no envelope: nothing was applied.
func (c *DeterministicCore) emitFailedCheck(report *state.SolvencyReport) {
	if c.metrics != nil {
		c.metrics.LiquidationSignal.Inc()
		c.metrics.SolvencyRatio.Set(float64(report.CurrentRatio))
	}
	c.sendProjection(CoreOutput{Solvency: report})
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, state.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, state.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, oracle.ErrNoPrice):
		return "no_price"
	case errors.Is(err, fpmath.ErrOverflow), errors.Is(err, fpmath.ErrDivideByZero):
		return "arithmetic"
	default:
		return "invalid"
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	switch e := evt.(type) {
	case *event.MintRequested:
		return c.handleMint(e, ref)
	case *event.RedeemRequested:
		return c.handleRedeem(e, ref)
	case *event.CollateralDeposited:
		return c.handleCollateralDeposited(e, ref)
	case *event.CollateralWithdrawn:
		return c.handleCollateralWithdrawn(e, ref)
	case *event.CollateralUpdated:
		return c.handleCollateralUpdated(e, ref)
	case *event.LiquidationCheckRequested:
		return c.handleLiquidationCheck(e, ref)
	case *event.FeeParamsUpdated:
		return c.handleFeeParamsUpdated(e, ref)
	case *event.LiquidationConfigUpdated:
		return c.handleLiquidationConfigUpdated(e, ref)
	case *event.PriceUpdated:
		return c.handlePriceUpdated(e, ref)
	default:
		return nil, Outcome{}, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *DeterministicCore) resolvePrice(explicit *fpmath.Decimal) (fpmath.Decimal, error) {
	if explicit != nil {
		return *explicit, nil
	}
	q, err := c.prices.Latest(c.priceDenom)
	if err != nil {
		return fpmath.Decimal{}, err
	}
	return q.Price, nil
}

func (c *DeterministicCore) handleMint(evt *event.MintRequested, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	price, err := c.resolvePrice(evt.Price)
	if err != nil {
		return nil, Outcome{}, err
	}
	report, err := c.mintRedeem.Mint(c.params.FeeCurve(), evt.Holder, evt.Amount, price)
	if err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateMint(ref, evt.Holder, report.Minted()), Outcome{Mint: &report}, nil
}

func (c *DeterministicCore) handleRedeem(evt *event.RedeemRequested, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	// An underfunded caller is rejected before a price is even needed.
	if have := c.holders.BalanceOf(evt.Holder); have < evt.Amount {
		return nil, Outcome{}, fmt.Errorf("redeem: %w: balance=%d, amount=%d",
			ledger.ErrInsufficientFunds, have, evt.Amount)
	}
	price, err := c.resolvePrice(evt.Price)
	if err != nil {
		return nil, Outcome{}, err
	}
	report, err := c.mintRedeem.Redeem(c.params.FeeCurve(), evt.Holder, evt.Amount, price)
	if err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateRedeem(ref, evt.Holder, report.Burned()), Outcome{Redeem: &report}, nil
}

func (c *DeterministicCore) handleCollateralDeposited(evt *event.CollateralDeposited, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	if err := c.collateral.Deposit(evt.Source, evt.Amount); err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateCollateralDeposit(ref, evt.Source, evt.Amount), Outcome{}, nil
}

func (c *DeterministicCore) handleCollateralWithdrawn(evt *event.CollateralWithdrawn, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	if err := c.collateral.Withdraw(evt.Source, evt.Amount); err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateCollateralWithdraw(ref, evt.Source, evt.Amount), Outcome{}, nil
}

func (c *DeterministicCore) handleCollateralUpdated(evt *event.CollateralUpdated, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	if !evt.Authorized {
		return nil, Outcome{}, fmt.Errorf("update collateral by %q: %w", evt.Sender, state.ErrUnauthorized)
	}
	before := c.collateral.Balances()
	if err := c.collateral.Set(evt.Balances); err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateCollateralAdjustment(ref, before, c.collateral.Balances()), Outcome{}, nil
}

// handleLiquidationCheck decides solvency; it never seizes collateral.
// A failed check returns the signal together with ErrInsufficientCollateral.
func (c *DeterministicCore) handleLiquidationCheck(evt *event.LiquidationCheckRequested, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	supply := c.supply.Total()
	if evt.Supply != nil {
		if *evt.Supply < 0 {
			return nil, Outcome{}, fmt.Errorf("liquidation check: %w: supply=%d", ledger.ErrNegativeAmount, *evt.Supply)
		}
		supply = *evt.Supply
	}
	cfg := c.params.Liquidation()

	var outcome Outcome
	if price, err := c.resolvePrice(evt.Price); err == nil {
		status, err := c.solvency.Status(supply, price, cfg)
		if err != nil {
			return nil, Outcome{}, err
		}
		outcome.Liquidation = &status
	}

	report, err := c.solvency.CheckAndSignal(supply, cfg)
	if err != nil {
		if errors.Is(err, state.ErrInsufficientCollateral) {
			signal := state.NewLiquidationSignal(report, cfg)
			outcome.Solvency = &report
			outcome.Signal = &signal
			return nil, outcome, err
		}
		return nil, Outcome{}, err
	}
	outcome.Solvency = &report
	return c.journalGen.GenerateEmpty(ref), outcome, nil
}

func (c *DeterministicCore) handleFeeParamsUpdated(evt *event.FeeParamsUpdated, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	update := state.FeeParamsUpdate{
		PegTarget:          evt.PegTarget,
		BaseFeeRate:        evt.BaseFeeRate,
		MaxFeeRate:         evt.MaxFeeRate,
		DeviationThreshold: evt.DeviationThreshold,
	}
	if _, err := c.params.UpdateFeeParams(update, evt.Authorized); err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateEmpty(ref), Outcome{}, nil
}

func (c *DeterministicCore) handleLiquidationConfigUpdated(evt *event.LiquidationConfigUpdated, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	update := state.LiquidationConfigUpdate{
		ThresholdRatio:     evt.ThresholdRatio,
		LiquidationFeeRate: evt.LiquidationFeeRate,
		IsActive:           evt.IsActive,
		OracleAddress:      evt.OracleAddress,
	}
	if _, err := c.params.UpdateLiquidationConfig(update, evt.Authorized); err != nil {
		return nil, Outcome{}, err
	}
	return c.journalGen.GenerateEmpty(ref), Outcome{}, nil
}

// handlePriceUpdated stores an oracle quote. No journals: prices are not balances.
func (c *DeterministicCore) handlePriceUpdated(evt *event.PriceUpdated, ref ledger.BatchRef) (*ledger.Batch, Outcome, error) {
	if evt.Denom == "" {
		return nil, Outcome{}, fmt.Errorf("price update: empty denom")
	}
	c.prices.Update(oracle.PriceQuote{
		Denom:       evt.Denom,
		Price:       evt.Price,
		LastUpdated: evt.Timestamp,
		Sequence:    evt.PriceSequence,
	})
	return c.journalGen.GenerateEmpty(ref), Outcome{}, nil
}

// computeStateDigest creates canonical bytes for the state hash: every
// collateral source, supply, fee totals, params, prices and the balances of
// the holders the batch touched.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 256)

	for _, src := range ledger.AllSources() {
		digest = appendString(digest, ledger.NewPoolCollateralKey(src).AccountPath())
		digest = appendInt64LE(digest, c.collateral.Balance(src))
	}
	digest = appendInt64LE(digest, c.collateral.Total())
	digest = appendInt64LE(digest, c.supply.Total())

	withheld := c.feeLedger.Withheld()
	digest = appendInt64LE(digest, withheld.Mint)
	digest = appendInt64LE(digest, withheld.Redeem)

	fees := c.params.Fees()
	digest = appendString(digest, fees.PegTarget.String())
	digest = appendString(digest, fees.BaseFeeRate.String())
	digest = appendString(digest, fees.MaxFeeRate.String())
	digest = appendString(digest, fees.DeviationThreshold.String())

	liq := c.params.Liquidation()
	digest = appendInt64LE(digest, int64(liq.ThresholdRatio))
	digest = appendInt64LE(digest, int64(liq.LiquidationFeeRate))
	if liq.IsActive {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	digest = appendString(digest, liq.OracleAddress)

	for _, q := range c.prices.All() {
		digest = appendString(digest, q.Denom)
		digest = appendString(digest, q.Price.String())
		digest = appendInt64LE(digest, q.Sequence)
	}

	holders := make(map[string]struct{})
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope == ledger.AccountScopeHolder {
				holders[key.Entity] = struct{}{}
			}
		}
	}
	sorted := make([]string, 0, len(holders))
	for h := range holders {
		sorted = append(sorted, h)
	}
	sort.Strings(sorted)
	for _, h := range sorted {
		digest = appendString(digest, ledger.NewHolderKey(h).AccountPath())
		digest = appendInt64LE(digest, c.holders.BalanceOf(h))
	}

	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt64LE(buf, int64(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *DeterministicCore) recordStateMetrics() {
	for src, bal := range c.collateral.Balances() {
		c.metrics.CollateralLocked.WithLabelValues(src.String()).Set(float64(bal))
	}
	c.metrics.CollateralTotal.Set(float64(c.collateral.Total()))
	c.metrics.TokenSupply.Set(float64(c.supply.Total()))
	withheld := c.feeLedger.Withheld()
	c.metrics.FeesWithheld.WithLabelValues("mint").Set(float64(withheld.Mint))
	c.metrics.FeesWithheld.WithLabelValues("redeem").Set(float64(withheld.Redeem))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.Len()))
	if ratio, err := state.CurrentRatio(c.collateral.Total(), c.supply.Total()); err == nil {
		c.metrics.SolvencyRatio.Set(float64(ratio))
	}
}

func (c *DeterministicCore) publishView() {
	c.view.Store(&View{
		Sequence:    c.sequence,
		StateHash:   c.hasher.GetPrevHash(),
		Collateral:  c.collateral.Balances(),
		TotalLocked: c.collateral.Total(),
		Supply:      c.supply.Total(),
		SupplyCap:   c.supply.Cap(),
		Withheld:    c.feeLedger.Withheld(),
		Fees:        c.params.Fees(),
		Liquidation: c.params.Liquidation(),
		Arbitrage:   c.params.Arbitrage(),
		Prices:      c.prices.All(),
		PriceDenom:  c.priceDenom,
		holders:     c.holderView,
	})
}

// View returns the latest published state. Safe from any goroutine.
func (c *DeterministicCore) View() *View {
	return c.view.Load()
}

// GetSequence returns the last applied global sequence.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
