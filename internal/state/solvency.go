package state

import (
	"errors"
	"fmt"
	"math"

	fpmath "EqaLedger/internal/math"
)

// SolvencyStatus represents the protocol's collateralization health
type SolvencyStatus int

const (
	SolvencyStatusUnknown SolvencyStatus = iota // no decision was reached
	SolvencyStatusSolvent
	SolvencyStatusInsolvent
	SolvencyStatusBypassed // liquidation checks switched off
)

func (s SolvencyStatus) String() string {
	switch s {
	case SolvencyStatusSolvent:
		return "solvent"
	case SolvencyStatusInsolvent:
		return "insolvent"
	case SolvencyStatusBypassed:
		return "bypassed"
	default:
		return "unknown"
	}
}

// RequiredCollateral returns floor(supply * threshold / 100).
// Truncation makes the check at least as strict as the nominal ratio.
func RequiredCollateral(supply int64, thresholdRatio uint64) (int64, error) {
	if thresholdRatio > math.MaxInt64 {
		return 0, fpmath.ErrOverflow
	}
	required, err := fpmath.MulDiv(supply, int64(thresholdRatio), 100)
	if err != nil {
		return 0, fmt.Errorf("required collateral: %w", err)
	}
	return required, nil
}

// CurrentRatio returns floor(collateral * 100 / supply), or 0 for an empty system.
// A ratio beyond uint64 saturates at MaxUint64.
func CurrentRatio(collateral, supply int64) (uint64, error) {
	if supply == 0 {
		return 0, nil
	}
	ratio, err := fpmath.MulDivSat(collateral, 100, supply)
	if err != nil {
		return 0, fmt.Errorf("current ratio: %w", err)
	}
	return ratio, nil
}

// IsSolvent reports collateral >= RequiredCollateral. Zero supply is always solvent.
// A requirement too large for int64 exceeds any collateral, so it is insolvent.
func IsSolvent(collateral, supply int64, thresholdRatio uint64) (bool, error) {
	if supply == 0 {
		return true, nil
	}
	required, err := RequiredCollateral(supply, thresholdRatio)
	if errors.Is(err, fpmath.ErrOverflow) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return collateral >= required, nil
}

// SolvencyReport is the outcome of one solvency check.
type SolvencyReport struct {
	Status             SolvencyStatus
	Collateral         int64
	Supply             int64
	RequiredCollateral int64
	CurrentRatio       uint64
	ThresholdRatio     uint64
}

// Shortfall is the collateral missing to reach the threshold (0 when solvent).
func (r SolvencyReport) Shortfall() int64 {
	if r.Collateral >= r.RequiredCollateral {
		return 0
	}
	return r.RequiredCollateral - r.Collateral
}

// CollateralTotaler exposes the pool total the checker reads.
type CollateralTotaler interface {
	Total() int64
}

// SolvencyChecker decides whether outstanding supply is adequately backed.
// It only decides: seizing or selling collateral belongs to the external liquidator.
type SolvencyChecker struct {
	collateral CollateralTotaler
}

func NewSolvencyChecker(collateral CollateralTotaler) *SolvencyChecker {
	return &SolvencyChecker{collateral: collateral}
}

// Evaluate computes the report without signalling. Solvency is decided first;
// the reported requirement saturates at MaxInt64.
func (sc *SolvencyChecker) Evaluate(supply int64, thresholdRatio uint64) (SolvencyReport, error) {
	collateral := sc.collateral.Total()

	solvent, err := IsSolvent(collateral, supply, thresholdRatio)
	if err != nil {
		return SolvencyReport{}, err
	}
	required, err := RequiredCollateral(supply, thresholdRatio)
	if errors.Is(err, fpmath.ErrOverflow) {
		required = math.MaxInt64
	} else if err != nil {
		return SolvencyReport{}, err
	}
	ratio, err := CurrentRatio(collateral, supply)
	if err != nil {
		return SolvencyReport{}, err
	}

	status := SolvencyStatusSolvent
	if !solvent {
		status = SolvencyStatusInsolvent
	}
	return SolvencyReport{
		Status:             status,
		Collateral:         collateral,
		Supply:             supply,
		RequiredCollateral: required,
		CurrentRatio:       ratio,
		ThresholdRatio:     thresholdRatio,
	}, nil
}

// CheckAndSignal fails with ErrInsufficientCollateral when not solvent.
// With cfg.IsActive false the check is bypassed and the report says so.
func (sc *SolvencyChecker) CheckAndSignal(supply int64, cfg LiquidationConfig) (SolvencyReport, error) {
	if !cfg.IsActive {
		return SolvencyReport{
			Status:         SolvencyStatusBypassed,
			Collateral:     sc.collateral.Total(),
			Supply:         supply,
			ThresholdRatio: cfg.ThresholdRatio,
		}, nil
	}

	report, err := sc.Evaluate(supply, cfg.ThresholdRatio)
	if err != nil {
		return SolvencyReport{}, err
	}
	if report.Status == SolvencyStatusInsolvent {
		return report, fmt.Errorf("%w: collateral=%d, required=%d, ratio=%d%%, threshold=%d%%",
			ErrInsufficientCollateral, report.Collateral, report.RequiredCollateral,
			report.CurrentRatio, report.ThresholdRatio)
	}
	return report, nil
}
