// Package money converts between API decimal amounts and the integer minor
// units the ledger stores, and computes commission splits.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits carried by every amount.
const Scale int32 = 2

// MaxBasisPoints is 100%.
const MaxBasisPoints = 10_000

var (
	// ErrInvalidAmount is returned for unparsable, non-positive or over-precise amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	minorFactor = decimal.New(1, Scale)
)

// Parse converts a decimal string such as "40" or "40.25" into minor units.
// More than Scale fractional digits is rejected rather than rounded.
func Parse(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal major-unit value into minor units.
func FromDecimal(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	minor := d.Mul(minorFactor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, Scale)
	}
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return minor.IntPart(), nil
}

// Format renders minor units as a fixed-point decimal string.
func Format(minor int64) string {
	return decimal.New(minor, -Scale).StringFixed(Scale)
}

// Commission returns the share of amount owed at the given rate in basis
// points, rounded down to the minor unit so the payee never receives less
// than its exact share.
func Commission(amount int64, basisPoints int) int64 {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	if basisPoints >= MaxBasisPoints {
		return amount
	}
	share := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(basisPoints))).
		Div(decimal.NewFromInt(MaxBasisPoints))
	return share.Floor().IntPart()
}
