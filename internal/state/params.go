package state

import (
	"fmt"

	fpmath "EqaLedger/internal/math"
)

const (
	// MinThresholdRatio is the lowest accepted collateralization threshold (percent).
	MinThresholdRatio uint64 = 100
	// MaxLiquidationFeeRate caps the liquidation penalty (percent).
	MaxLiquidationFeeRate uint64 = 20
)

var (
	// FeeRateCeiling is the policy maximum for max_fee_rate.
	FeeRateCeiling = fpmath.Percent(10)
	// MaxRewardPercentage caps the arbitrage reward share.
	MaxRewardPercentage = fpmath.Percent(50)
)

// FeeParams configures the deviation fee curve.
type FeeParams struct {
	PegTarget          fpmath.Decimal
	BaseFeeRate        fpmath.Decimal
	MaxFeeRate         fpmath.Decimal
	DeviationThreshold fpmath.Decimal // arbitrage opportunity trigger only
}

func DefaultFeeParams() FeeParams {
	return FeeParams{
		PegTarget:          fpmath.One(),
		BaseFeeRate:        fpmath.Permille(1), // 0.1%
		MaxFeeRate:         fpmath.Percent(5),
		DeviationThreshold: fpmath.Percent(1),
	}
}

// ValidateFeeParams checks peg > 0, base <= max, max <= FeeRateCeiling.
func ValidateFeeParams(p FeeParams) error {
	if p.PegTarget.IsZero() {
		return fmt.Errorf("%w: peg_target must be > 0", ErrInvalidConfiguration)
	}
	if p.BaseFeeRate.Cmp(p.MaxFeeRate) > 0 {
		return fmt.Errorf("%w: base_fee_rate (%s) must be <= max_fee_rate (%s)",
			ErrInvalidConfiguration, p.BaseFeeRate, p.MaxFeeRate)
	}
	if p.MaxFeeRate.Cmp(FeeRateCeiling) > 0 {
		return fmt.Errorf("%w: max_fee_rate (%s) exceeds ceiling %s",
			ErrInvalidConfiguration, p.MaxFeeRate, FeeRateCeiling)
	}
	return nil
}

// FeeParamsUpdate is a partial update; nil fields keep their current value.
type FeeParamsUpdate struct {
	PegTarget          *fpmath.Decimal
	BaseFeeRate        *fpmath.Decimal
	MaxFeeRate         *fpmath.Decimal
	DeviationThreshold *fpmath.Decimal
}

func (u FeeParamsUpdate) apply(p FeeParams) FeeParams {
	if u.PegTarget != nil {
		p.PegTarget = *u.PegTarget
	}
	if u.BaseFeeRate != nil {
		p.BaseFeeRate = *u.BaseFeeRate
	}
	if u.MaxFeeRate != nil {
		p.MaxFeeRate = *u.MaxFeeRate
	}
	if u.DeviationThreshold != nil {
		p.DeviationThreshold = *u.DeviationThreshold
	}
	return p
}

// LiquidationConfig configures the solvency check.
type LiquidationConfig struct {
	ThresholdRatio     uint64 // percent, e.g. 110
	LiquidationFeeRate uint64 // percent penalty applied by the external liquidator
	IsActive           bool   // false bypasses CheckAndSignal
	OracleAddress      string
}

func DefaultLiquidationConfig() LiquidationConfig {
	return LiquidationConfig{
		ThresholdRatio:     110,
		LiquidationFeeRate: 5,
		IsActive:           true,
	}
}

func ValidateLiquidationConfig(c LiquidationConfig) error {
	if c.ThresholdRatio < MinThresholdRatio {
		return fmt.Errorf("%w: threshold_ratio must be >= %d, got %d",
			ErrInvalidConfiguration, MinThresholdRatio, c.ThresholdRatio)
	}
	if c.LiquidationFeeRate > MaxLiquidationFeeRate {
		return fmt.Errorf("%w: liquidation_fee must be <= %d, got %d",
			ErrInvalidConfiguration, MaxLiquidationFeeRate, c.LiquidationFeeRate)
	}
	return nil
}

// LiquidationConfigUpdate is a partial update; nil fields keep their current value.
type LiquidationConfigUpdate struct {
	ThresholdRatio     *uint64
	LiquidationFeeRate *uint64
	IsActive           *bool
	OracleAddress      *string
}

func (u LiquidationConfigUpdate) apply(c LiquidationConfig) LiquidationConfig {
	if u.ThresholdRatio != nil {
		c.ThresholdRatio = *u.ThresholdRatio
	}
	if u.LiquidationFeeRate != nil {
		c.LiquidationFeeRate = *u.LiquidationFeeRate
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	if u.OracleAddress != nil {
		c.OracleAddress = *u.OracleAddress
	}
	return c
}

// ArbitrageParams configures the opportunity query.
type ArbitrageParams struct {
	RewardPercentage fpmath.Decimal
}

func DefaultArbitrageParams() ArbitrageParams {
	return ArbitrageParams{RewardPercentage: fpmath.Percent(10)}
}

func ValidateArbitrageParams(p ArbitrageParams) error {
	if p.RewardPercentage.Cmp(MaxRewardPercentage) > 0 {
		return fmt.Errorf("%w: reward_percentage (%s) must be <= %s",
			ErrInvalidConfiguration, p.RewardPercentage, MaxRewardPercentage)
	}
	return nil
}

// ParamsManager owns admin-controlled configuration.
// Setters take the caller's authorization result; they never look it up.
type ParamsManager struct {
	fees        FeeParams
	liquidation LiquidationConfig
	arbitrage   ArbitrageParams
}

func NewParamsManager(fees FeeParams, liquidation LiquidationConfig, arbitrage ArbitrageParams) (*ParamsManager, error) {
	if err := ValidateFeeParams(fees); err != nil {
		return nil, err
	}
	if err := ValidateLiquidationConfig(liquidation); err != nil {
		return nil, err
	}
	if err := ValidateArbitrageParams(arbitrage); err != nil {
		return nil, err
	}
	return &ParamsManager{fees: fees, liquidation: liquidation, arbitrage: arbitrage}, nil
}

func (pm *ParamsManager) Fees() FeeParams                { return pm.fees }
func (pm *ParamsManager) Liquidation() LiquidationConfig { return pm.liquidation }
func (pm *ParamsManager) Arbitrage() ArbitrageParams     { return pm.arbitrage }

// FeeCurve returns the curve for the current fee params.
func (pm *ParamsManager) FeeCurve() FeeCurve {
	return NewFeeCurve(pm.fees)
}

func (pm *ParamsManager) UpdateFeeParams(update FeeParamsUpdate, authorized bool) (FeeParams, error) {
	if !authorized {
		return pm.fees, fmt.Errorf("update fee params: %w", ErrUnauthorized)
	}
	next := update.apply(pm.fees)
	if err := ValidateFeeParams(next); err != nil {
		return pm.fees, fmt.Errorf("update fee params: %w", err)
	}
	pm.fees = next
	return next, nil
}

func (pm *ParamsManager) UpdateLiquidationConfig(update LiquidationConfigUpdate, authorized bool) (LiquidationConfig, error) {
	if !authorized {
		return pm.liquidation, fmt.Errorf("update liquidation config: %w", ErrUnauthorized)
	}
	next := update.apply(pm.liquidation)
	if err := ValidateLiquidationConfig(next); err != nil {
		return pm.liquidation, fmt.Errorf("update liquidation config: %w", err)
	}
	pm.liquidation = next
	return next, nil
}

// Restore replaces all params from a snapshot without validation.
func (pm *ParamsManager) Restore(fees FeeParams, liquidation LiquidationConfig, arbitrage ArbitrageParams) {
	pm.fees = fees
	pm.liquidation = liquidation
	pm.arbitrage = arbitrage
}
