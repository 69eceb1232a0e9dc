// Package core holds the domain model of the ledger: money, vaults,
// wallets, cash flows, transactions and the structured errors the engine
// reports.
//
// All monetary values are integer minor units (cents for EUR) to avoid
// floating-point drift; arithmetic between differing currencies is rejected.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Money is a fixed-precision signed amount tagged with a currency.
type Money struct {
	Minor    int64
	Currency Currency
}

// NewMoney builds an amount from raw minor units.
func NewMoney(minor int64, currency Currency) Money {
	return Money{Minor: minor, Currency: currency}
}

// ParseMajor converts a major-unit decimal string into Money, scaled by the
// currency's minor units.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign, and rejects more fraction digits than the currency
// allows:
//
//	ParseMajor("10,50", EUR) -> {1050 EUR}
//	ParseMajor("12.345", EUR) -> error
func ParseMajor(s string, currency Currency) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, InvalidAmountError("empty amount")
	}

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = strings.TrimSpace(s[1:])
	case strings.HasPrefix(s, "+"):
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return Money{}, InvalidAmountError("empty amount")
	}

	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, InvalidAmountError("invalid amount")
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		return Money{}, InvalidAmountError("invalid amount")
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return Money{}, InvalidAmountError("invalid amount")
		}
	}

	allowed := currency.MinorUnits()
	if len(fracPart) > allowed {
		return Money{}, InvalidAmountError("too many decimals")
	}
	for len(fracPart) < allowed {
		fracPart += "0"
	}

	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Money{}, InvalidAmountError("amount too large")
	}
	var frac int64
	if fracPart != "" {
		if frac, err = strconv.ParseInt(fracPart, 10, 64); err != nil {
			return Money{}, InvalidAmountError("invalid amount")
		}
	}

	scale := int64(1)
	for i := 0; i < allowed; i++ {
		scale *= 10
	}
	const maxInt64 = 1<<63 - 1
	if major > (maxInt64-frac)/scale {
		return Money{}, InvalidAmountError("amount too large")
	}

	minor := major*scale + frac
	if neg {
		minor = -minor
	}
	return Money{Minor: minor, Currency: currency}, nil
}

// Add returns m+other, rejecting mixed currencies.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &Error{Kind: KindCurrencyMismatch, Entity: "money",
			Msg: fmt.Sprintf("cannot add %s to %s", other.Currency, m.Currency)}
	}
	return Money{Minor: m.Minor + other.Minor, Currency: m.Currency}, nil
}

// Sub returns m-other, rejecting mixed currencies.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &Error{Kind: KindCurrencyMismatch, Entity: "money",
			Msg: fmt.Sprintf("cannot subtract %s from %s", other.Currency, m.Currency)}
	}
	return Money{Minor: m.Minor - other.Minor, Currency: m.Currency}, nil
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Minor: -m.Minor, Currency: m.Currency}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Minor > 0 }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Minor == 0 }

// Format renders the amount as "<sign><major>.<frac> <CODE>", e.g.
// "-12.34 EUR". Currencies without minor units render without a fraction.
func (m Money) Format() string {
	sign := ""
	abs := m.Minor
	if abs < 0 {
		sign = "-"
		abs = -abs
	}

	units := m.Currency.MinorUnits()
	if units == 0 {
		return fmt.Sprintf("%s%d %s", sign, abs, m.Currency)
	}

	scale := int64(1)
	for i := 0; i < units; i++ {
		scale *= 10
	}
	return fmt.Sprintf("%s%d.%0*d %s", sign, abs/scale, units, abs%scale, m.Currency)
}

// Validate rejects non-positive amounts and unknown currencies. Operation
// inputs must be strictly positive; signedness comes from the transaction
// kind, not the caller.
func (m Money) Validate() error {
	if m.Minor <= 0 {
		return InvalidAmountError("amount must be greater than zero")
	}
	if _, err := ParseCurrency(string(m.Currency)); err != nil {
		return err
	}
	return nil
}
