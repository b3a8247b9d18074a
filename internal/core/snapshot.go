package core

import (
	"fmt"

	"EqaLedger/internal/ledger"
	"EqaLedger/internal/oracle"
	"EqaLedger/internal/state"
)

// SnapshotState is the complete in-memory state needed for a warm restart.
// It is JSON-encoded by the persistence layer.
type SnapshotState struct {
	Sequence        int64                             `json:"sequence"`
	StateHash       [32]byte                          `json:"state_hash"`
	Collateral      map[ledger.CollateralSource]int64 `json:"collateral"`
	Supply          int64                             `json:"supply"`
	Holders         map[string]int64                  `json:"holders"`
	Fees            state.FeeParams                   `json:"fees"`
	Liquidation     state.LiquidationConfig           `json:"liquidation"`
	Arbitrage       state.ArbitrageParams             `json:"arbitrage"`
	Withheld        state.FeesWithheld                `json:"withheld"`
	Prices          []oracle.PriceQuote               `json:"prices"`
	SequenceState   map[string]int64                  `json:"sequence_state"`
	IdempotencyKeys []string                          `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence,
		StateHash:       c.hasher.GetPrevHash(),
		Collateral:      c.collateral.Balances(),
		Supply:          c.supply.Total(),
		Holders:         c.holders.Snapshot(),
		Fees:            c.params.Fees(),
		Liquidation:     c.params.Liquidation(),
		Arbitrage:       c.params.Arbitrage(),
		Withheld:        c.feeLedger.Withheld(),
		Prices:          c.prices.All(),
		SequenceState:   c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state with snap.
// Events after snap.Sequence are then replayed through ProcessEvent.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.collateral.Set(snap.Collateral); err != nil {
		return fmt.Errorf("restore collateral: %w", err)
	}
	c.supply.Restore(snap.Supply)
	c.holders.Restore(snap.Holders)
	c.params.Restore(snap.Fees, snap.Liquidation, snap.Arbitrage)
	c.feeLedger.Restore(snap.Withheld)
	c.prices.Restore(snap.Prices)
	c.sequenceValidator.Restore(snap.SequenceState)
	c.idempotency.Warm(snap.IdempotencyKeys)

	c.sequence = snap.Sequence
	c.hasher.SetPrevHash(snap.StateHash)

	if err := c.validator.ValidateAll(); err != nil {
		return fmt.Errorf("restored state violates invariants: %w", err)
	}
	c.holderView = c.holders.Snapshot()
	c.publishView()
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}
