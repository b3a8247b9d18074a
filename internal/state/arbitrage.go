package state

import (
	"fmt"

	fpmath "EqaLedger/internal/math"
)

// OptimalTradeSize is the fixed suggested trade size in atomic units.
const OptimalTradeSize int64 = 100_000

// Direction tells arbitrageurs which side restores the peg.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ArbitrageOpportunity is the result of the opportunity query.
type ArbitrageOpportunity struct {
	Exists           bool
	Direction        Direction
	Deviation        fpmath.Decimal
	ExpectedProfit   fpmath.Decimal
	OptimalTradeSize int64
}

// FindOpportunity reports an opportunity once deviation exceeds DeviationThreshold.
// Above peg the token should be sold, at or below peg bought.
func FindOpportunity(price fpmath.Decimal, fees FeeParams, arb ArbitrageParams) (ArbitrageOpportunity, error) {
	deviation := Deviation(price, fees.PegTarget)

	profit, err := deviation.Mul(arb.RewardPercentage)
	if err != nil {
		return ArbitrageOpportunity{}, fmt.Errorf("expected profit: %w", err)
	}

	direction := DirectionBuy
	if price.Cmp(fees.PegTarget) > 0 {
		direction = DirectionSell
	}

	return ArbitrageOpportunity{
		Exists:           deviation.Cmp(fees.DeviationThreshold) > 0,
		Direction:        direction,
		Deviation:        deviation,
		ExpectedProfit:   profit,
		OptimalTradeSize: OptimalTradeSize,
	}, nil
}
