package state

import (
	"fmt"

	fpmath "EqaLedger/internal/math"
)

// LiquidationStatus is the read-only liquidation view for a supply at a price.
type LiquidationStatus struct {
	IsSolvent          bool
	CurrentRatio       uint64
	RequiredRatio      uint64
	CollateralValue    int64
	RequiredCollateral int64
	BackedValue        int64 // floor(supply * price)
	Active             bool
}

// Status reports collateralization without signalling.
// IsSolvent follows the same threshold rule as CheckAndSignal.
func (sc *SolvencyChecker) Status(supply int64, price fpmath.Decimal, cfg LiquidationConfig) (LiquidationStatus, error) {
	report, err := sc.Evaluate(supply, cfg.ThresholdRatio)
	if err != nil {
		return LiquidationStatus{}, err
	}
	backed, err := price.MulAmount(supply)
	if err != nil {
		return LiquidationStatus{}, fmt.Errorf("backed value: %w", err)
	}
	return LiquidationStatus{
		IsSolvent:          report.Status == SolvencyStatusSolvent,
		CurrentRatio:       report.CurrentRatio,
		RequiredRatio:      cfg.ThresholdRatio,
		CollateralValue:    report.Collateral,
		RequiredCollateral: report.RequiredCollateral,
		BackedValue:        backed,
		Active:             cfg.IsActive,
	}, nil
}

// LiquidationSignal is handed to the external liquidator when a check fails.
type LiquidationSignal struct {
	Report             SolvencyReport
	Shortfall          int64
	LiquidationFeeRate uint64
}

func NewLiquidationSignal(report SolvencyReport, cfg LiquidationConfig) LiquidationSignal {
	return LiquidationSignal{
		Report:             report,
		Shortfall:          report.Shortfall(),
		LiquidationFeeRate: cfg.LiquidationFeeRate,
	}
}

// Penalty returns floor(amount * liquidation_fee / 100) for a liquidated amount.
func (s LiquidationSignal) Penalty(amount int64) (int64, error) {
	return fpmath.MulDiv(amount, int64(s.LiquidationFeeRate), 100)
}
