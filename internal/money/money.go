// Package money converts between free-text amounts and integer cents.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for amounts that cannot be parsed or are not positive.
var ErrInvalidAmount = errors.New("invalid amount")

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// ParseCents parses a user-entered amount such as "200", "$1,250.50" or
// "AUD 99.9" into cents, rounding half away from zero. The rounded result
// must be at least one cent and fit in an int64.
func ParseCents(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(strings.ToUpper(cleaned), "AUD")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	c := d.Mul(hundred).Round(0)
	if !c.IsPositive() {
		return 0, fmt.Errorf("%w: must be at least 0.01", ErrInvalidAmount)
	}
	if c.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return c.IntPart(), nil
}

// FormatCents renders cents as a plain decimal string with two places, e.g. "180.00".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Percent returns pct percent of cents, truncated toward zero.
func Percent(cents int64, pct int) int64 {
	return decimal.NewFromInt(cents).Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Truncate(0).IntPart()
}
