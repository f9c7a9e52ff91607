package classify

import (
	"fmt"
	"strings"

	"github.com/caflow/cma-engine/internal/model"
)

const classifySystem = `You are a chartered accountant's assistant classifying ledger line items
from Indian financial statements onto CMA (Credit Monitoring Arrangement) form rows.

You are given a numbered list of line items and a catalogue of valid target rows.
For each item pick the best matching row, or null when no row fits.

Respond with ONLY a JSON array, one object per input item, in input order:
[
  {
    "index": 1,
    "target_row": 5,
    "target_sheet": "operating_statement",
    "target_label": "Net Sales",
    "confidence": 0.9,
    "reasoning": "short justification"
  }
]

Rules:
- target_sheet is "operating_statement" or "balance_sheet".
- confidence is between 0 and 1. Use below 0.7 when unsure.
- When no catalogue row fits, set target_row to null and confidence to 0.
- Never invent row numbers outside the catalogue.`

// buildClassifyPrompt renders one AI batch: the row catalogue plus the
// numbered items awaiting classification.
func buildClassifyPrompt(rs *RuleSet, items []model.ClassifiedItem, entityType model.EntityType) string {
	var b strings.Builder

	b.WriteString("Valid target rows:\n")
	seen := make(map[string]bool)
	for _, r := range rs.Rules {
		key := fmt.Sprintf("%s:%d", r.TargetSheet, r.TargetRow)
		if seen[key] {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&b, "- row %d (%s): %s\n", r.TargetRow, r.TargetSheet, r.TargetLabel)
	}

	if entityType != "" {
		fmt.Fprintf(&b, "\nEntity type: %s\n", entityType)
	}

	b.WriteString("\nLine items to classify:\n")
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %q", i+1, it.ItemName)
		if it.DocumentType != "" {
			fmt.Fprintf(&b, " (from %s)", it.DocumentType)
		}
		fmt.Fprintf(&b, " amount %.2f\n", it.ItemAmount)
	}
	return b.String()
}
