// Package num is the fixed-precision decimal arithmetic used for every
// price, quantity and monetary value in the exchange. Values carry
// Precision fractional digits, arithmetic is exact (no binary floats),
// rounding is half-to-even, and the canonical interchange form is a
// base-10 string.
package num

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by a Dec.
const Precision = 18

// guardPrecision is the scale used for intermediate division, exp and ln
// results before the final half-even rounding back to Precision.
const guardPrecision = Precision + 6

var decimalPattern = regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`)

// Dec is an immutable fixed-precision decimal.
type Dec struct {
	d decimal.Decimal
}

// ZeroDec returns 0.
func ZeroDec() Dec { return Dec{decimal.Zero} }

// OneDec returns 1.
func OneDec() Dec { return Dec{decimal.NewFromInt(1)} }

// NewDec returns i as a Dec.
func NewDec(i int64) Dec { return Dec{decimal.NewFromInt(i)} }

// NewDecWithPrec returns i * 10^-prec, e.g. NewDecWithPrec(5, 2) == 0.05.
func NewDecWithPrec(i int64, prec int32) Dec { return Dec{decimal.New(i, -prec)} }

// NewDecFromStr parses a canonical decimal string: an optional sign, an
// integer part and at most Precision fractional digits. Exponent notation
// and other forms are rejected.
func NewDecFromStr(s string) (Dec, error) {
	if !decimalPattern.MatchString(s) {
		return Dec{}, ErrInvalidDecimal.Wrapf("malformed decimal %q", s)
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > Precision {
		return Dec{}, ErrInvalidDecimal.Wrapf("%q exceeds %d fractional digits", s, Precision)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Dec{}, ErrInvalidDecimal.Wrap(err.Error())
	}
	return Dec{d}, nil
}

// MustNewDecFromStr is NewDecFromStr that panics on error. For constants
// and tests only.
func MustNewDecFromStr(s string) Dec {
	d, err := NewDecFromStr(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Add returns x + y.
func (x Dec) Add(y Dec) Dec { return Dec{x.d.Add(y.d)} }

// Sub returns x - y.
func (x Dec) Sub(y Dec) Dec { return Dec{x.d.Sub(y.d)} }

// Mul returns x * y rounded half-even to Precision.
func (x Dec) Mul(y Dec) Dec { return Dec{x.d.Mul(y.d).RoundBank(Precision)} }

// Quo returns x / y computed with guard digits and rounded half-even to
// Precision. Division by zero panics, as it does in the underlying library.
func (x Dec) Quo(y Dec) Dec {
	return Dec{x.d.DivRound(y.d, guardPrecision).RoundBank(Precision)}
}

// Neg returns -x.
func (x Dec) Neg() Dec { return Dec{x.d.Neg()} }

// Abs returns |x|.
func (x Dec) Abs() Dec { return Dec{x.d.Abs()} }

// Exp returns e^x rounded half-even to Precision. The Taylor expansion is
// evaluated with guard digits; callers feeding it shifted log-sum-exp
// arguments (always <= 0) stay well inside its stable range.
func (x Dec) Exp() Dec {
	e, err := x.d.ExpTaylor(guardPrecision)
	if err != nil {
		// ExpTaylor only fails on pathological precision arguments,
		// which guardPrecision is not.
		panic(fmt.Sprintf("num: exp(%s): %v", x.d, err))
	}
	return Dec{e.RoundBank(Precision)}
}

// Ln returns the natural logarithm of x, or ErrLogDomain for x <= 0.
func (x Dec) Ln() (Dec, error) {
	if !x.d.IsPositive() {
		return Dec{}, ErrLogDomain.Wrapf("ln(%s)", x.d)
	}
	l, err := x.d.Ln(guardPrecision)
	if err != nil {
		return Dec{}, ErrLogDomain.Wrap(err.Error())
	}
	return Dec{l.RoundBank(Precision)}, nil
}

// RoundBank rounds half-even to the given number of fractional digits.
func (x Dec) RoundBank(places int32) Dec { return Dec{x.d.RoundBank(places)} }

// Cmp returns -1, 0 or 1.
func (x Dec) Cmp(y Dec) int { return x.d.Cmp(y.d) }

// Equal reports x == y.
func (x Dec) Equal(y Dec) bool { return x.d.Equal(y.d) }

// GT reports x > y.
func (x Dec) GT(y Dec) bool { return x.d.GreaterThan(y.d) }

// GTE reports x >= y.
func (x Dec) GTE(y Dec) bool { return x.d.GreaterThanOrEqual(y.d) }

// LT reports x < y.
func (x Dec) LT(y Dec) bool { return x.d.LessThan(y.d) }

// LTE reports x <= y.
func (x Dec) LTE(y Dec) bool { return x.d.LessThanOrEqual(y.d) }

// IsZero reports x == 0.
func (x Dec) IsZero() bool { return x.d.IsZero() }

// IsPositive reports x > 0.
func (x Dec) IsPositive() bool { return x.d.IsPositive() }

// IsNegative reports x < 0.
func (x Dec) IsNegative() bool { return x.d.IsNegative() }

// MinDec returns the smaller of x and y.
func MinDec(x, y Dec) Dec {
	if x.LTE(y) {
		return x
	}
	return y
}

// MaxDec returns the larger of x and y.
func MaxDec(x, y Dec) Dec {
	if x.GTE(y) {
		return x
	}
	return y
}

// SumDec returns the sum of xs, zero for an empty slice.
func SumDec(xs []Dec) Dec {
	total := ZeroDec()
	for _, x := range xs {
		total = total.Add(x)
	}
	return total
}

// String returns the shortest exact representation, for logs and errors.
func (x Dec) String() string { return x.d.String() }

// StringFixed renders x with exactly the given number of fractional digits.
// The wire always uses StringFixed(Precision).
func (x Dec) StringFixed(places int32) string { return x.d.StringFixed(places) }

// Float64 returns the nearest binary float. Only for metrics and skiplist
// scoring; never feed the result back into book or pricing arithmetic.
func (x Dec) Float64() float64 { return x.d.InexactFloat64() }

// MarshalJSON renders the canonical quoted string at full precision.
func (x Dec) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.d.StringFixed(Precision) + `"`), nil
}

// UnmarshalJSON accepts a quoted canonical string or a bare JSON number.
func (x *Dec) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	d, err := NewDecFromStr(s)
	if err != nil {
		return err
	}
	*x = d
	return nil
}
