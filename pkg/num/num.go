// Package num holds the 1e18 fixed-point helpers shared by the ledger, the
// settlement math and the API layer. Amounts and prices are *uint256.Int.
package num

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by prices.
const Decimals = 18

// BpsDenominator is the fee rate denominator (10000 bps = 100%).
const BpsDenominator = 10000

var (
	ErrOverflow = errors.New("uint256 overflow")
	ErrNegative = errors.New("negative value")
	ErrFraction = errors.New("value has more than 18 fractional digits")
)

var scale = uint256.NewInt(1_000_000_000_000_000_000)

// Scale returns a fresh copy of 1e18.
func Scale() *uint256.Int { return new(uint256.Int).Set(scale) }

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone copies x; nil is treated as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return Zero()
	}
	return new(uint256.Int).Set(x)
}

// MulDiv returns floor(x*y/d) using a 512-bit intermediate.
// Overflow is reported when the quotient does not fit in 256 bits.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s/%s", ErrOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// MulPrice computes amount*price/1e18, truncating.
func MulPrice(amount, price *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, price, scale)
}

// ApplyBps computes amount*bps/10000, truncating.
func ApplyBps(amount *uint256.Int, bps uint16) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsDenominator))
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s+%s", ErrOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Sub returns x-y. The caller guarantees x >= y.
func Sub(x, y *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(x, y)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// ParseInt parses a base-10 integer string ("1500000000000000000").
func ParseInt(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return z, nil
}

// ParseUnits converts a human decimal ("1.5") into 1e18 fixed point.
func ParseUnits(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegative, s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrFraction, s)
	}
	z, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, s)
	}
	return z, nil
}

// MustParseUnits is ParseUnits for constants and tests.
func MustParseUnits(s string) *uint256.Int {
	z, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return z
}

// FormatUnits renders a 1e18 fixed-point value as a human decimal.
func FormatUnits(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -Decimals).String()
}

// ParseAmount accepts either a plain integer in base units or, when
// human is true, a decimal in whole units.
func ParseAmount(s string, human bool) (*uint256.Int, error) {
	if human {
		return ParseUnits(s)
	}
	return ParseInt(s)
}
