package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	collateral *CollateralLedger
	supply     *TokenSupply
	holders    BalanceBook
}

func NewInvariantValidator(collateral *CollateralLedger, supply *TokenSupply, holders BalanceBook) *InvariantValidator {
	return &InvariantValidator{
		collateral: collateral,
		supply:     supply,
		holders:    holders,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCollateral verifies total_locked == Σ balances
func (v *InvariantValidator) ValidateCollateral() error {
	return v.collateral.ValidateTotal()
}

// ValidateSupply verifies total_supply >= 0 and total_supply == Σ holder balances
func (v *InvariantValidator) ValidateSupply() error {
	total := v.supply.Total()
	if total < 0 {
		return fmt.Errorf("total supply is negative: %d", total)
	}

	sum, err := v.holders.Sum()
	if err != nil {
		return fmt.Errorf("holder balances invalid: %w", err)
	}
	if sum != total {
		return fmt.Errorf("supply mismatch: total_supply=%d, Σ holder balances=%d", total, sum)
	}
	return nil
}

// ValidateAll runs every state invariant.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateCollateral(); err != nil {
		return err
	}
	return v.ValidateSupply()
}
