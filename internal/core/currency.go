package core

import "strings"

// Currency is an ISO-4217 style code. All money inside a vault shares the
// vault's currency; the engine rejects cross-currency arithmetic.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
)

// minorUnits maps a currency to the number of fraction digits used when
// converting between major units (user input, "10.50") and the stored
// integer minor units (1050).
var minorUnits = map[Currency]int{
	EUR: 2,
	USD: 2,
	GBP: 2,
	JPY: 0,
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := minorUnits[c]; !ok {
		return "", &Error{Kind: KindCurrencyMismatch, Entity: "currency", ID: string(c), Msg: "unsupported currency"}
	}
	return c, nil
}

// MinorUnits returns the number of fraction digits for the currency.
// Unknown currencies fall back to 2, matching the common case.
func (c Currency) MinorUnits() int {
	if n, ok := minorUnits[c]; ok {
		return n
	}
	return 2
}

func (c Currency) String() string { return string(c) }
