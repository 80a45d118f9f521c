package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Money is a price in the smallest currency unit. Catalog prices are
// configured in major units and converted once, so all arithmetic is
// integer-only.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`     // cents, pence, ...
	Currency string `json:"currency" yaml:"currency"` // ISO 4217 lowercase
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// ParseMajor converts a decimal major-unit string ("49", "49.5", "49.00")
// into Money. More fractional digits than the currency supports is an error.
func ParseMajor(s, currency string) (Money, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("money: empty amount")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	decimals := currencyDecimals(currency)
	if len(frac) > decimals {
		return Money{}, fmt.Errorf("money: %q has more than %d decimal places", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	var minor int64
	if frac != "" {
		minor, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
		}
	}

	amount := major*pow10(decimals) + minor
	if negative {
		amount = -amount
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// FromMajor converts whole major units into Money.
func FromMajor(units int64, currency string) Money {
	currency = strings.ToLower(currency)
	return Money{Amount: units * pow10(currencyDecimals(currency)), Currency: currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// FormatMajor returns the major unit string without currency symbol:
// "49.00" for USD(4900), "100" for a zero-decimal currency.
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return strconv.FormatInt(m.Amount, 10)
	}

	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}
	div := pow10(decimals)
	return fmt.Sprintf("%s%d.%0*d", sign, abs/div, decimals, abs%div)
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

func pow10(n int) int64 {
	out := int64(1)
	for range n {
		out *= 10
	}
	return out
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	case "jpy":
		return "¥"
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "pyg", "idr":
		return 0
	}
	return 2
}
