package core

import (
	"errors"
	"testing"
)

func TestParseMajor(t *testing.T) {
	cases := []struct {
		in       string
		currency Currency
		out      int64
		ok       bool
	}{
		{"1", EUR, 100, true},
		{"1.0", EUR, 100, true},
		{"1.23", EUR, 123, true},
		{"1,23", EUR, 123, true},
		{"0.01", EUR, 1, true},
		{" 2.50 ", EUR, 250, true},
		{"-1", EUR, -100, true},
		{"+1.00", EUR, 100, true},
		{"150", JPY, 150, true},
		{"1.005", EUR, 0, false}, // more decimals than EUR allows
		{"1.5", JPY, 0, false},   // JPY has no minor units
		{"abc", EUR, 0, false},
		{"1.2.3", EUR, 0, false},
		{"", EUR, 0, false},
		{"-", EUR, 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMajor(tc.in, tc.currency)
		if tc.ok {
			if err != nil || got.Minor != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Minor, err)
			}
			if got.Currency != tc.currency {
				t.Fatalf("%q expected currency %s, got %s", tc.in, tc.currency, got.Currency)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
			}
		}
	}
}

func TestMoneyFormat(t *testing.T) {
	cases := []struct {
		m   Money
		out string
	}{
		{NewMoney(0, EUR), "0.00 EUR"},
		{NewMoney(1, EUR), "0.01 EUR"},
		{NewMoney(10, EUR), "0.10 EUR"},
		{NewMoney(1050, EUR), "10.50 EUR"},
		{NewMoney(-1050, EUR), "-10.50 EUR"},
		{NewMoney(150, JPY), "150 JPY"},
	}
	for _, tc := range cases {
		if got := tc.m.Format(); got != tc.out {
			t.Fatalf("%+v expected %q, got %q", tc.m, tc.out, got)
		}
	}
}

func TestMoneyArithmeticRejectsMixedCurrencies(t *testing.T) {
	if _, err := NewMoney(100, EUR).Add(NewMoney(100, USD)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if _, err := NewMoney(100, EUR).Sub(NewMoney(100, USD)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}

	sum, err := NewMoney(100, EUR).Add(NewMoney(-30, EUR))
	if err != nil || sum.Minor != 70 {
		t.Fatalf("expected 70, got %d (err=%v)", sum.Minor, err)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := NewMoney(100, EUR).Validate(); err != nil {
		t.Fatalf("positive amount should validate: %v", err)
	}
	if err := NewMoney(0, EUR).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount expected ErrInvalidAmount, got %v", err)
	}
	if err := NewMoney(-1, EUR).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount expected ErrInvalidAmount, got %v", err)
	}
	if err := NewMoney(100, Currency("XXX")).Validate(); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("unknown currency expected ErrCurrencyMismatch, got %v", err)
	}
}
