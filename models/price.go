package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizePrice rounds a price to cents.
func NormalizePrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatPrice renders a price the way the storefront stores it ("19.50").
func FormatPrice(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParsePrice parses a storefront price string. An empty string is an error.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return d, nil
}

// PriceMatches compares a local price with a storefront price string after rounding both to
// cents. Unparseable remote prices never match.
func PriceMatches(local decimal.Decimal, remote string) bool {
	r, err := ParsePrice(remote)
	if err != nil {
		return false
	}
	return NormalizePrice(local).Equal(NormalizePrice(r))
}
