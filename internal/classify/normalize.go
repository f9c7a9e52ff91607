package classify

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	accountSuffixRe = regexp.MustCompile(`\s+(a/c|account)s?$`)
	spacesRe        = regexp.MustCompile(`\s+`)

	// Common abbreviations in Indian ledger exports.
	abbreviations = []struct {
		re          *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`\bs\.?\s*debtors\b`), "sundry debtors"},
		{regexp.MustCompile(`\bs\.?\s*creditors\b`), "sundry creditors"},
		{regexp.MustCompile(`\bdep\b\.?`), "depreciation"},
		{regexp.MustCompile(`\bprov\b\.?`), "provision"},
		{regexp.MustCompile(`\bmisc\b\.?`), "miscellaneous"},
		{regexp.MustCompile(`\bexp\b\.?`), "expenses"},
	}

	titleCaser = cases.Title(language.English)
)

// NormalizeTerm lowercases a ledger term, expands common abbreviations,
// strips "a/c"/"account" suffixes, and collapses whitespace. Both rules and
// precedents are matched against the normalized form.
func NormalizeTerm(term string) string {
	s := strings.ToLower(strings.TrimSpace(term))
	s = strings.Trim(s, ".:-")

	for _, abbr := range abbreviations {
		s = abbr.re.ReplaceAllString(s, abbr.replacement)
	}

	s = accountSuffixRe.ReplaceAllString(s, "")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DisplayTerm renders a normalized term for human-facing labels.
func DisplayTerm(term string) string {
	return titleCaser.String(NormalizeTerm(term))
}
