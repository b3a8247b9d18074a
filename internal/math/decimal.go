package math

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimal is an unsigned fixed-point value with RateConfig precision.
// Prices, fee rates and deviations use it; the zero value is 0.
type Decimal struct {
	atomics uint256.Int
}

var rateScale = uint256.NewInt(uint64(RateConfig.Scale))

// NewDecimalFromAtomics wraps a raw 18-decimal integer.
func NewDecimalFromAtomics(atomics uint64) Decimal {
	var d Decimal
	d.atomics.SetUint64(atomics)
	return d
}

// One returns 1.0.
func One() Decimal {
	return NewDecimalFromAtomics(uint64(RateConfig.Scale))
}

// Percent returns p / 100.
func Percent(p uint64) Decimal {
	var d Decimal
	d.atomics.Mul(uint256.NewInt(p), uint256.NewInt(uint64(RateConfig.Scale/100)))
	return d
}

// Permille returns p / 1000.
func Permille(p uint64) Decimal {
	var d Decimal
	d.atomics.Mul(uint256.NewInt(p), uint256.NewInt(uint64(RateConfig.Scale/1000)))
	return d
}

// ParseDecimal parses a non-negative decimal string such as "1.02" or "0.001".
// More than 18 fractional digits is an error rather than a silent truncation.
func ParseDecimal(s string) (Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	if v.IsNegative() {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, ErrNegative)
	}

	scaled := v.Shift(int32(RateConfig.DecimalPrecision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Decimal{}, fmt.Errorf("parse decimal %q: more than %d fractional digits",
			s, RateConfig.DecimalPrecision)
	}

	u, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, ErrOverflow)
	}
	return Decimal{atomics: *u}, nil
}

// MustParseDecimal is ParseDecimal for constants and tests.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) String() string {
	return decimal.NewFromBigInt(d.atomics.ToBig(), -int32(RateConfig.DecimalPrecision)).String()
}

// Atomics returns a copy of the raw 18-decimal integer.
func (d Decimal) Atomics() *uint256.Int {
	return d.atomics.Clone()
}

func (d Decimal) IsZero() bool {
	return d.atomics.IsZero()
}

func (d Decimal) Cmp(o Decimal) int {
	return d.atomics.Cmp(&o.atomics)
}

func (d Decimal) Add(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.atomics.AddOverflow(&d.atomics, &o.atomics); overflow {
		return Decimal{}, ErrOverflow
	}
	return out, nil
}

// AbsDiff returns |d - o|.
func (d Decimal) AbsDiff(o Decimal) Decimal {
	var out Decimal
	if d.atomics.Lt(&o.atomics) {
		out.atomics.Sub(&o.atomics, &d.atomics)
	} else {
		out.atomics.Sub(&d.atomics, &o.atomics)
	}
	return out
}

// Mul returns floor(d * o).
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.atomics.MulDivOverflow(&d.atomics, &o.atomics, rateScale); overflow {
		return Decimal{}, ErrOverflow
	}
	return out, nil
}

// MulAmount returns floor(amount * d) for a non-negative atomic amount.
func (d Decimal) MulAmount(amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegative
	}
	return mulDivU256(uint256.NewInt(uint64(amount)), &d.atomics, rateScale)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b Decimal) Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := ParseDecimal(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
