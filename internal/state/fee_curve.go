package state

import (
	"fmt"

	fpmath "EqaLedger/internal/math"
)

// FeeCurve maps a price deviation from peg to a fee rate:
//
//	rate = min(base_fee_rate + deviation, max_fee_rate)
//
// The direction of the deviation never affects the rate.
type FeeCurve struct {
	params FeeParams
}

func NewFeeCurve(params FeeParams) FeeCurve {
	return FeeCurve{params: params}
}

func (fc FeeCurve) Params() FeeParams { return fc.params }

// Deviation returns |price - target|.
func Deviation(price, target fpmath.Decimal) fpmath.Decimal {
	return price.AbsDiff(target)
}

// FeeRate is non-decreasing in deviation and bounded by [base, max].
func (fc FeeCurve) FeeRate(deviation fpmath.Decimal) fpmath.Decimal {
	rate, err := fc.params.BaseFeeRate.Add(deviation)
	if err != nil {
		// base + deviation beyond 256 bits is certainly past the cap
		return fc.params.MaxFeeRate
	}
	return fpmath.MinDecimal(rate, fc.params.MaxFeeRate)
}

// RateAt returns the fee rate for a market price.
func (fc FeeCurve) RateAt(price fpmath.Decimal) fpmath.Decimal {
	return fc.FeeRate(Deviation(price, fc.params.PegTarget))
}

// Fee returns floor(amount * rate).
func Fee(amount int64, rate fpmath.Decimal) (int64, error) {
	fee, err := rate.MulAmount(amount)
	if err != nil {
		return 0, fmt.Errorf("fee on %d at %s: %w", amount, rate, err)
	}
	return fee, nil
}

// FeeQuote is the fee breakdown for one mint or redeem amount.
type FeeQuote struct {
	Amount    int64
	Price     fpmath.Decimal
	Deviation fpmath.Decimal
	Rate      fpmath.Decimal
	Fee       int64
	Net       int64
}

// Quote applies the curve to amount at price.
func (fc FeeCurve) Quote(amount int64, price fpmath.Decimal) (FeeQuote, error) {
	deviation := Deviation(price, fc.params.PegTarget)
	rate := fc.FeeRate(deviation)
	fee, err := Fee(amount, rate)
	if err != nil {
		return FeeQuote{}, err
	}
	return FeeQuote{
		Amount:    amount,
		Price:     price,
		Deviation: deviation,
		Rate:      rate,
		Fee:       fee,
		Net:       amount - fee,
	}, nil
}
