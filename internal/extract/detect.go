package extract

import (
	"regexp"
	"strings"

	"github.com/caflow/cma-engine/internal/model"
)

var financialYearRe = regexp.MustCompile(`20\d{2}[-–]\d{2,4}`)

// DetectDocumentType infers the statement type from a filename and sheet
// name. Trial balance is checked before balance sheet because "trial
// balance" contains the word "balance".
func DetectDocumentType(fileName, sheetName string) model.DocumentType {
	haystack := strings.ToLower(fileName + " " + sheetName)

	switch {
	case strings.Contains(haystack, "trial"):
		return model.DocTrialBalance
	case strings.Contains(haystack, "profit") || strings.Contains(haystack, "p&l") ||
		strings.Contains(haystack, "p & l") || strings.Contains(haystack, "pnl") ||
		strings.Contains(haystack, "income"):
		return model.DocProfitAndLoss
	case strings.Contains(haystack, "balance"):
		return model.DocBalanceSheet
	default:
		return model.DocOther
	}
}

// ExtractFinancialYear finds the first financial year marker (e.g. 2023-24
// or 2023-2024) in the given text. Returns "" if none is present.
func ExtractFinancialYear(text string) string {
	return financialYearRe.FindString(text)
}
