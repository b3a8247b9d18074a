package state

import (
	"fmt"

	fpmath "EqaLedger/internal/math"
)

// FeesWithheld is the cumulative fee that was never issued (mint) or never paid
// out (redeem). It is a reporting figure, not a balance: nothing holds it.
type FeesWithheld struct {
	Mint   int64
	Redeem int64
}

// FeeLedger accumulates FeesWithheld.
type FeeLedger struct {
	withheld FeesWithheld
}

func NewFeeLedger() *FeeLedger {
	return &FeeLedger{}
}

func (fl *FeeLedger) RecordMintFee(fee int64) error {
	next, err := fpmath.CheckedAdd(fl.withheld.Mint, fee)
	if err != nil {
		return fmt.Errorf("record mint fee: %w", err)
	}
	fl.withheld.Mint = next
	return nil
}

func (fl *FeeLedger) RecordRedeemFee(fee int64) error {
	next, err := fpmath.CheckedAdd(fl.withheld.Redeem, fee)
	if err != nil {
		return fmt.Errorf("record redeem fee: %w", err)
	}
	fl.withheld.Redeem = next
	return nil
}

func (fl *FeeLedger) Withheld() FeesWithheld {
	return fl.withheld
}

func (fl *FeeLedger) Restore(w FeesWithheld) {
	fl.withheld = w
}
