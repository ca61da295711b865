package amount

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestParseAndFormat(t *testing.T) {
	cases := []struct {
		raw  string
		want uint64
		out  string
	}{
		{"1", 10_000_000, "1"},
		{"45", 450_000_000, "45"},
		{"0.0000001", 1, "0.0000001"},
		{"12.5", 125_000_000, "12.5"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got.Uint64() != tc.want {
			t.Fatalf("parse %q: got %d want %d", tc.raw, got.Uint64(), tc.want)
		}
		if Format(got) != tc.out {
			t.Fatalf("format %d: got %s want %s", tc.want, Format(got), tc.out)
		}
	}
	if FormatFixed(New(5)) != "0.0000005" {
		t.Fatalf("unexpected fixed format: %s", FormatFixed(New(5)))
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	if _, err := Parse("-1"); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	if _, err := Parse("0.00000001"); !errors.Is(err, ErrPrecision) {
		t.Fatalf("expected ErrPrecision, got %v", err)
	}
	if _, err := Parse("abc"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCheckedArithmetic(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, New(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Sub(New(1), New(2)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if got := SubFloor(New(1), New(2)); !got.IsZero() {
		t.Fatalf("expected floor at zero, got %s", got)
	}
	if _, err := MulDiv(New(1), New(1), nil); !errors.Is(err, ErrDivByZero) {
		t.Fatalf("expected div by zero, got %v", err)
	}
	// a*b exceeds 256 bits but the quotient fits.
	got, err := MulDiv(max, New(4), New(8))
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	want := new(uint256.Int).Rsh(max, 1)
	if !got.Eq(want) {
		t.Fatalf("unexpected muldiv: got %s want %s", got, want)
	}
}

func TestBigRoundTrip(t *testing.T) {
	v := Units(123)
	back, err := FromBig(ToBig(v))
	if err != nil {
		t.Fatalf("from big: %v", err)
	}
	if !back.Eq(v) {
		t.Fatalf("round trip mismatch")
	}
	if _, err := FromBig(big.NewInt(-1)); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	zero, err := FromBig(nil)
	if err != nil || !zero.IsZero() {
		t.Fatalf("nil should map to zero")
	}
}
