package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatMinor renders an integer amount of minor units as a decimal string
func FormatMinor(amount int64, decimals int32) string {
	return decimal.New(amount, -decimals).StringFixed(decimals)
}

// ParseMinor converts a decimal string into integer minor units. Amounts with
// more precision than decimals are rejected rather than rounded.
func ParseMinor(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return scaled.IntPart(), nil
}

// FormatMultiplier renders hundredths as "1.85"
func FormatMultiplier(hundredths int64) string {
	return fmt.Sprintf("%d.%02d", hundredths/100, hundredths%100)
}

// ParseMultiplier parses "1.85" into hundredths
func ParseMultiplier(s string) (int64, error) {
	return ParseMinor(s, 2)
}
