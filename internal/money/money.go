package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a value is not a finite decimal
var ErrInvalidAmount = errors.New("invalid amount")

// Bounds of a usable amount. Larger exponents make rounding allocate
// arbitrarily large numbers.
const (
	maxInputLen = 64
	maxExponent = 18
	maxDigits   = 30
)

// Currency describes how amounts in a currency are stored
type Currency struct {
	Code          string `json:"code"`
	DecimalDigits int32  `json:"decimal_digits"`
}

var currencies = map[string]Currency{
	"RUB": {Code: "RUB", DecimalDigits: 2},
	"USD": {Code: "USD", DecimalDigits: 2},
	"EUR": {Code: "EUR", DecimalDigits: 2},
	"GBP": {Code: "GBP", DecimalDigits: 2},
	"CNY": {Code: "CNY", DecimalDigits: 2},
	"KZT": {Code: "KZT", DecimalDigits: 2},
	"JPY": {Code: "JPY", DecimalDigits: 0},
	"KRW": {Code: "KRW", DecimalDigits: 0},
	"BHD": {Code: "BHD", DecimalDigits: 3},
	"KWD": {Code: "KWD", DecimalDigits: 3},
}

// Lookup returns the currency registered under code
func Lookup(code string) (Currency, bool) {
	c, ok := currencies[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// Parse converts a decimal string into an amount
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if len(s) > maxInputLen {
		return decimal.Zero, fmt.Errorf("%w: too long", ErrInvalidAmount)
	}
	// decimal.NewFromString accepts exponents but never NaN or Inf
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if exp := d.Exponent(); exp < -maxExponent || exp > maxExponent || d.NumDigits() > maxDigits {
		return decimal.Zero, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}
	return d, nil
}

// RoundTo rounds half away from zero to the given number of digits
func RoundTo(d decimal.Decimal, digits int32) decimal.Decimal {
	return d.Round(digits)
}

// Round rounds an amount to the currency's declared precision
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return RoundTo(d, c.DecimalDigits)
}

// Add sums amounts
func Add(amounts ...decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum
}

// Negate flips the sign of an amount
func Negate(d decimal.Decimal) decimal.Decimal {
	return d.Neg()
}

// Compare returns -1, 0 or 1
func Compare(a, b decimal.Decimal) int {
	return a.Cmp(b)
}
