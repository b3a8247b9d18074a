package math

import (
	"errors"
	stdmath "math"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow     = errors.New("fixedpoint: overflow")
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	ErrNegative     = errors.New("fixedpoint: negative operand")
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// AmountConfig is the atomic precision of collateral and EQA amounts (USDC-style 6 decimals).
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// RateConfig is the precision of prices, rates and deviations ("atomics").
	RateConfig = DecimalConfig{DecimalPrecision: 18, Scale: 1_000_000_000_000_000_000}
)

// MulDiv computes floor(a * b / d) with a 256-bit intermediate.
// All operands must be non-negative; the result must fit in int64.
func MulDiv(a, b, d int64) (int64, error) {
	if a < 0 || b < 0 || d < 0 {
		return 0, ErrNegative
	}
	if d == 0 {
		return 0, ErrDivideByZero
	}
	return mulDivU256(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)), uint256.NewInt(uint64(d)))
}

// MulDivSat is MulDiv with the result clamped to MaxUint64 instead of
// failing. Only negative operands and a zero divisor are errors.
func MulDivSat(a, b, d int64) (uint64, error) {
	if a < 0 || b < 0 || d < 0 {
		return 0, ErrNegative
	}
	if d == 0 {
		return 0, ErrDivideByZero
	}
	z := new(uint256.Int).Mul(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)))
	z.Div(z, uint256.NewInt(uint64(d)))
	if !z.IsUint64() {
		return stdmath.MaxUint64, nil
	}
	return z.Uint64(), nil
}

func mulDivU256(x, y, d *uint256.Int) (int64, error) {
	if d.IsZero() {
		return 0, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return 0, ErrOverflow
	}
	return toInt64(z)
}

func toInt64(z *uint256.Int) (int64, error) {
	if !z.IsUint64() || z.Uint64() > stdmath.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(z.Uint64()), nil
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > stdmath.MaxInt64-b) || (b < 0 && a < stdmath.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub returns a - b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	if (b < 0 && a > stdmath.MaxInt64+b) || (b > 0 && a < stdmath.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// SumNonNegative adds values left to right, rejecting negatives and overflow.
func SumNonNegative(values ...int64) (int64, error) {
	var total int64
	for _, v := range values {
		if v < 0 {
			return 0, ErrNegative
		}
		next, err := CheckedAdd(total, v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
