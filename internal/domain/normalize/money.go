package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountToken   = regexp.MustCompile(`\d[\d.,' ]*\d|\d`)
	currencyToken = regexp.MustCompile(`\b[A-Z]{3}\b`)
)

var currencySymbols = []struct {
	symbol string
	code   string
}{
	// longest first so "CA$" wins over "$"
	{"CA$", "CAD"},
	{"AU$", "AUD"},
	{"NZ$", "NZD"},
	{"US$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"$", "USD"},
}

var knownCurrencies = map[string]int{
	"USD": 2, "EUR": 2, "GBP": 2, "CAD": 2, "AUD": 2, "NZD": 2, "CHF": 2,
	"SEK": 2, "NOK": 2, "DKK": 2, "PLN": 2, "CZK": 2, "JPY": 0, "KRW": 0,
}

// ParseMoney converts a human price string into integer minor units and an
// ISO currency code. Strings without a symbol or code use defaultCurrency.
// Both "1,299.99" and "1.299,99" read as 1299.99.
func ParseMoney(s, defaultCurrency string) (int64, string, error) {
	currency := detectCurrency(s)
	if currency == "" {
		currency = strings.ToUpper(defaultCurrency)
	}
	raw := amountToken.FindString(s)
	if raw == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrNoAmount, s)
	}
	whole, frac, err := splitAmount(raw)
	if err != nil {
		return 0, "", fmt.Errorf("parse amount %q: %w", s, err)
	}

	exp, ok := knownCurrencies[currency]
	if !ok {
		exp = 2
	}
	minor, err := toMinor(whole, frac, exp)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", err, s)
	}
	return minor, currency, nil
}

func detectCurrency(s string) string {
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			return cs.code
		}
	}
	for _, code := range currencyToken.FindAllString(s, -1) {
		if _, ok := knownCurrencies[code]; ok {
			return code
		}
	}
	return ""
}

// splitAmount decides which separator, if any, is the decimal mark.
func splitAmount(raw string) (whole, frac string, err error) {
	raw = strings.NewReplacer(" ", "", "'", "").Replace(raw)
	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	decimal := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal = max(lastDot, lastComma)
	case lastDot >= 0:
		decimal = decimalCandidate(raw, lastDot, '.')
	case lastComma >= 0:
		decimal = decimalCandidate(raw, lastComma, ',')
	}

	if decimal < 0 {
		whole = stripSeparators(raw)
	} else {
		whole = stripSeparators(raw[:decimal])
		frac = raw[decimal+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if _, err := strconv.ParseInt(whole, 10, 64); err != nil {
		return "", "", err
	}
	if frac != "" {
		if _, err := strconv.ParseUint(frac, 10, 64); err != nil {
			return "", "", err
		}
	}
	return whole, frac, nil
}

// decimalCandidate treats a single separator followed by one or two digits as
// the decimal mark; a group of three is a thousands separator.
func decimalCandidate(raw string, idx int, sep byte) int {
	if strings.Count(raw, string(sep)) > 1 {
		return -1
	}
	if n := len(raw) - idx - 1; n == 1 || n == 2 {
		return idx
	}
	return -1
}

func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(s)
}

func toMinor(whole, frac string, exp int) (int64, error) {
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrAmountRange
	}
	scale := int64(1)
	for i := 0; i < exp; i++ {
		scale *= 10
	}
	if w > math.MaxInt64/scale {
		return 0, ErrAmountRange
	}
	minor := w * scale
	if exp == 0 || frac == "" {
		return minor, nil
	}
	for len(frac) < exp+1 {
		frac += "0"
	}
	f, _ := strconv.ParseInt(frac[:exp], 10, 64)
	if frac[exp] >= '5' {
		f++
	}
	if minor > math.MaxInt64-f {
		return 0, ErrAmountRange
	}
	return minor + f, nil
}
