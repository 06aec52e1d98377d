package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern matches a currency token ("INR", "Rs", "Rs.", any case) followed by a numeral
// with optional comma grouping and decimal fraction, e.g. "Rs. 1,250.50" or "INR500".
var amountPattern = regexp.MustCompile(`(?i)(?:INR|Rs\.?)\s*([\d,]+\.?\d*)`)

var hundred = decimal.NewFromInt(100)

// Amount returns the first amount in text as paise. Amounts with more than two fractional
// digits are rounded to the nearest paisa.
func Amount(text string) (int64, bool) {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return ParseRupees(m[1])
}

// ParseRupees converts a rupee numeral such as "1,250.5" into paise.
func ParseRupees(raw string) (int64, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	raw = strings.TrimSuffix(raw, ".")
	if raw == "" {
		return 0, false
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	minor := value.Round(2).Mul(hundred)
	if !minor.IsPositive() || !minor.IsInteger() {
		return 0, false
	}
	if minor.BigInt().IsInt64() {
		return minor.IntPart(), true
	}
	return 0, false
}
