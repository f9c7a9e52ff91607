package extract

import (
	"strconv"
	"strings"
)

// CleanIndianNumber parses amounts as they appear in Indian accounting
// exports: comma separators (including lakh/crore grouping), a trailing
// "Cr"/"Dr" balance marker, currency symbols, and parenthesized negatives.
// Unparseable input yields 0.
func CleanIndianNumber(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return 0
	}

	negative := false

	// Trial balance exports suffix amounts with Cr (credit) or Dr (debit).
	// Credits are carried positive, debits negative. The suffix strips
	// first so "(500) Dr" still sees its parentheses below.
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "cr"):
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(lower, "dr"):
		negative = !negative
		s = strings.TrimSpace(s[:len(s)-2])
	}

	// (1,234.56) means negative.
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = !negative
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer(",", "", "₹", "", "Rs.", "", "Rs", "", " ", "").Replace(s)

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if negative {
		return -val
	}
	return val
}
