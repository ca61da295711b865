// Package amount implements the unsigned 7-decimal fixed-point quantities used
// for balances, emission rates and voting shares.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of implied decimal places on every quantity.
const Decimals = 7

var (
	ErrOverflow  = errors.New("amount: arithmetic overflow")
	ErrUnderflow = errors.New("amount: arithmetic underflow")
	ErrDivByZero = errors.New("amount: division by zero")
	ErrNegative  = errors.New("amount: negative value")
	ErrPrecision = errors.New("amount: more than 7 decimal places")
)

// Unit is 1.0000000 in fixed-point form. Treat as read-only.
var Unit = uint256.NewInt(10_000_000)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// New returns a fresh value holding v.
func New(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Units returns whole * Unit.
func Units(whole uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), Unit)
}

// Clone copies v, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return Zero()
	}
	return v.Clone()
}

// IsZero treats nil as zero.
func IsZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	a, b = Clone(a), Clone(b)
	if a.Lt(b) {
		return a
	}
	return b
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(Clone(a), Clone(b))
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// SubFloor returns a-b clamped at zero.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	diff, underflow := new(uint256.Int).SubOverflow(Clone(a), Clone(b))
	if underflow {
		return Zero()
	}
	return diff
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// MulDiv returns floor(a*b/d) using a 512-bit intermediate product.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if IsZero(d) {
		return nil, ErrDivByZero
	}
	result, overflow := new(uint256.Int).MulDivOverflow(Clone(a), Clone(b), d)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// FromBig converts a persisted big integer. Nil maps to zero.
func FromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return Zero(), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ToBig converts for persistence. Nil maps to zero.
func ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

// Parse reads a human decimal string such as "12.5" into fixed-point form.
func Parse(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount: empty value")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("amount: parse %q: %w", trimmed, err)
	}
	if value.Sign() < 0 {
		return nil, ErrNegative
	}
	scaled := value.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrPrecision
	}
	return FromBig(scaled.BigInt())
}

// ParseRaw reads an integer string already expressed in fixed-point units.
func ParseRaw(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount: invalid integer %q", trimmed)
	}
	return FromBig(value)
}

// Format renders v as a human decimal string, e.g. 45_0000000 -> "45".
func Format(v *uint256.Int) string {
	return decimal.NewFromBigInt(ToBig(v), -Decimals).String()
}

// FormatFixed renders v with all 7 decimal places.
func FormatFixed(v *uint256.Int) string {
	return decimal.NewFromBigInt(ToBig(v), -Decimals).StringFixed(Decimals)
}
