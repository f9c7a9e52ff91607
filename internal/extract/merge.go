package extract

import (
	"time"

	"github.com/caflow/cma-engine/internal/model"
)

// Merge folds per-file canonical documents into the project's extracted
// dataset. When two files produce the same statement type, the richer one
// (more line items) wins; the loser is dropped rather than concatenated so
// a summary page never dilutes a full export.
func Merge(docs []*model.CanonicalDocument, now time.Time) *model.ExtractedData {
	data := &model.ExtractedData{
		Metadata: model.ExtractedMetadata{MergedAt: now},
	}

	best := make(map[model.DocumentType]*model.CanonicalDocument)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		dt := doc.DocumentType
		if !isMergeable(dt) {
			continue
		}
		if cur, ok := best[dt]; !ok || len(doc.LineItems) > len(cur.LineItems) {
			best[dt] = doc
		}
	}

	seen := make(map[string]bool)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if f := doc.Metadata.SourceFile; f != "" && !seen[f] {
			seen[f] = true
			data.Metadata.SourceFiles = append(data.Metadata.SourceFiles, f)
		}
	}

	for dt, doc := range best {
		merged := &model.MergedDocument{
			LineItems: doc.LineItems,
			Totals:    doc.Totals,
		}
		data.SetDocument(dt, merged)
		data.Metadata.TotalLineItems += len(doc.LineItems)
	}

	return data
}

func isMergeable(dt model.DocumentType) bool {
	for _, m := range model.MergeableDocumentTypes {
		if dt == m {
			return true
		}
	}
	return false
}

// FinancialYearOf returns the first financial year any source document
// carries, preferring P&L over balance sheet over trial balance.
func FinancialYearOf(docs []*model.CanonicalDocument) string {
	order := []model.DocumentType{model.DocProfitAndLoss, model.DocBalanceSheet, model.DocTrialBalance}
	for _, dt := range order {
		for _, doc := range docs {
			if doc != nil && doc.DocumentType == dt && doc.FinancialYear != "" {
				return doc.FinancialYear
			}
		}
	}
	for _, doc := range docs {
		if doc != nil && doc.FinancialYear != "" {
			return doc.FinancialYear
		}
	}
	return ""
}
