// Package money represents INR amounts in paise (the gateway's minor unit).
//
// Balances are stored and added as integers so the ledger never accumulates
// floating point error. Conversion to and from rupees happens only at the
// edges (JSON, request parsing, log output) through shopspring/decimal.
package money

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the gateway account settles in.
const Currency = "INR"

const minorPerMajor = 100

// Amount is a quantity of paise.
type Amount int64

var maxPaise = decimal.NewFromInt(1 << 53)

var (
	errTooPrecise = errors.New("money: amount has more than two decimal places")
	errNegative   = errors.New("money: amount must not be negative")
)

// FromDecimal converts a rupee value to paise. It rejects negative values and
// fractions of a paisa instead of rounding them.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, errNegative
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, errTooPrecise
	}
	if minor.GreaterThan(maxPaise) {
		return 0, fmt.Errorf("money: amount %s out of range", d.String())
	}
	return Amount(minor.IntPart()), nil
}

// Parse reads a rupee string such as "12.50".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parsing %q: %w", s, err)
	}
	return FromDecimal(d)
}

// Rupees builds an Amount from whole rupees and paise, e.g. Rupees(1, 50) is ₹1.50.
func Rupees(major, minor int64) Amount {
	return Amount(major*minorPerMajor + minor)
}

// Paise returns the amount in the gateway's minor unit.
func (a Amount) Paise() int64 {
	return int64(a)
}

// Decimal returns the amount in rupees.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String formats the amount with exactly two decimals.
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// MarshalJSON renders rupees as a JSON number (150 paise → 1.5).
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal().String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	b = bytes.Trim(b, `"`)
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
