package ledger

import (
	"fmt"

	fpmath "EqaLedger/internal/math"
)

// CollateralLedger tracks the pooled collateral per source.
// totalLocked is recomputed from balances on every mutation and a mutation
// only becomes visible once both are computed, so a failed call changes nothing.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type CollateralLedger struct {
	balances    map[CollateralSource]int64
	totalLocked int64
}

func NewCollateralLedger() *CollateralLedger {
	balances := make(map[CollateralSource]int64, numSources)
	for _, src := range AllSources() {
		balances[src] = 0
	}
	return &CollateralLedger{balances: balances}
}

// Deposit adds amount to a source.
func (cl *CollateralLedger) Deposit(source CollateralSource, amount int64) error {
	if !source.Valid() {
		return fmt.Errorf("deposit: %w: %d", ErrUnknownSource, int32(source))
	}
	if amount < 0 {
		return fmt.Errorf("deposit %s: %w: %d", source, ErrNegativeAmount, amount)
	}

	next, err := fpmath.CheckedAdd(cl.balances[source], amount)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", source, err)
	}
	return cl.commit(map[CollateralSource]int64{source: next})
}

// Withdraw removes amount from a source; no partial withdrawals.
func (cl *CollateralLedger) Withdraw(source CollateralSource, amount int64) error {
	if !source.Valid() {
		return fmt.Errorf("withdraw: %w: %d", ErrUnknownSource, int32(source))
	}
	if amount < 0 {
		return fmt.Errorf("withdraw %s: %w: %d", source, ErrNegativeAmount, amount)
	}

	have := cl.balances[source]
	if have < amount {
		return fmt.Errorf("withdraw %s: %w: have=%d, need=%d", source, ErrInsufficientBalance, have, amount)
	}
	return cl.commit(map[CollateralSource]int64{source: have - amount})
}

// Set overwrites every balance; sources absent from the map become zero.
func (cl *CollateralLedger) Set(balances map[CollateralSource]int64) error {
	next := make(map[CollateralSource]int64, numSources)
	for _, src := range AllSources() {
		next[src] = 0
	}
	for src, amount := range balances {
		if !src.Valid() {
			return fmt.Errorf("set: %w: %d", ErrUnknownSource, int32(src))
		}
		if amount < 0 {
			return fmt.Errorf("set %s: %w: %d", src, ErrNegativeAmount, amount)
		}
		next[src] = amount
	}
	return cl.commit(next)
}

func (cl *CollateralLedger) commit(updates map[CollateralSource]int64) error {
	next := make(map[CollateralSource]int64, numSources)
	for src, bal := range cl.balances {
		next[src] = bal
	}
	for src, bal := range updates {
		next[src] = bal
	}

	total, err := sumBalances(next)
	if err != nil {
		return fmt.Errorf("recompute total: %w", err)
	}

	cl.balances = next
	cl.totalLocked = total
	return nil
}

func sumBalances(balances map[CollateralSource]int64) (int64, error) {
	values := make([]int64, 0, numSources)
	for _, src := range AllSources() {
		values = append(values, balances[src])
	}
	return fpmath.SumNonNegative(values...)
}

// Total returns total_locked.
func (cl *CollateralLedger) Total() int64 {
	return cl.totalLocked
}

func (cl *CollateralLedger) Balance(source CollateralSource) int64 {
	return cl.balances[source]
}

// Balances returns a copy of all balances (for snapshots and views)
func (cl *CollateralLedger) Balances() map[CollateralSource]int64 {
	out := make(map[CollateralSource]int64, len(cl.balances))
	for k, v := range cl.balances {
		out[k] = v
	}
	return out
}

// ValidateTotal checks total_locked == Σ balances and every balance >= 0
func (cl *CollateralLedger) ValidateTotal() error {
	sum, err := sumBalances(cl.balances)
	if err != nil {
		return fmt.Errorf("collateral balances invalid: %w", err)
	}
	if sum != cl.totalLocked {
		return fmt.Errorf("collateral total drifted: total_locked=%d, sum=%d", cl.totalLocked, sum)
	}
	return nil
}
