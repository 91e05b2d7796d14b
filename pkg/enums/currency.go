package enums

import (
	"fmt"
	"strings"
)

// Currency is an upper-case ISO 4217 code.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyJPY Currency = "JPY"
)

// DefaultCurrency settles payments when neither invoices nor the caller name one.
const DefaultCurrency = CurrencyUSD

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// Lower returns the lower-case form expected by the payment processor.
func (c Currency) Lower() string {
	return strings.ToLower(string(c))
}

// IsValid reports whether the value looks like an ISO 4217 code.
func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// NormalizeCurrency trims and upper-cases raw input. Blank input yields "".
func NormalizeCurrency(value string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(value)))
}

// ParseCurrency normalizes and validates a raw currency code.
func ParseCurrency(value string) (Currency, error) {
	c := NormalizeCurrency(value)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
