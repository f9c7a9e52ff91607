package model

import "time"

// DocumentType classifies a source financial document.
type DocumentType string

const (
	DocProfitAndLoss DocumentType = "profit_and_loss"
	DocBalanceSheet  DocumentType = "balance_sheet"
	DocTrialBalance  DocumentType = "trial_balance"
	DocOther         DocumentType = "other"
)

// MergeableDocumentTypes are the document types kept by the merge engine.
var MergeableDocumentTypes = []DocumentType{DocProfitAndLoss, DocBalanceSheet, DocTrialBalance}

// LineItem is one row of source financial data. Immutable once extracted.
type LineItem struct {
	Name        string  `json:"name"`
	Amount      float64 `json:"amount"`
	ParentGroup string  `json:"parent_group,omitempty"`
	Level       int     `json:"level"`
	IsTotal     bool    `json:"is_total"`
	RawText     string  `json:"raw_text,omitempty"`
}

// Totals holds the recognized gross/net total rows of a document.
type Totals struct {
	Gross float64 `json:"gross_total"`
	Net   float64 `json:"net_total"`
}

// SheetSummary describes a non-primary sheet found in a multi-sheet workbook.
type SheetSummary struct {
	SheetName    string       `json:"sheet_name"`
	DocumentType DocumentType `json:"document_type"`
	RowCount     int          `json:"row_count"`
}

// DocumentMetadata carries parser provenance for one extracted document.
type DocumentMetadata struct {
	SourceFile       string         `json:"source_file"`
	SheetName        string         `json:"sheet_name,omitempty"`
	RowCount         int            `json:"row_count"`
	Parser           string         `json:"parser"`
	AdditionalSheets []SheetSummary `json:"additional_sheets,omitempty"`
}

// CanonicalDocument is the normalized output of every extraction adapter.
type CanonicalDocument struct {
	DocumentType  DocumentType     `json:"document_type"`
	FinancialYear string           `json:"financial_year"`
	EntityName    string           `json:"entity_name"`
	Currency      string           `json:"currency"`
	LineItems     []LineItem       `json:"line_items"`
	Totals        Totals           `json:"totals"`
	Metadata      DocumentMetadata `json:"metadata"`
}

// MergedDocument is the per-type slice of a project's merged extraction data.
type MergedDocument struct {
	LineItems []LineItem `json:"line_items"`
	Totals    Totals     `json:"totals"`
}

// ExtractedData is the merged canonical dataset persisted on the project.
type ExtractedData struct {
	ProfitAndLoss *MergedDocument   `json:"profit_and_loss,omitempty"`
	BalanceSheet  *MergedDocument   `json:"balance_sheet,omitempty"`
	TrialBalance  *MergedDocument   `json:"trial_balance,omitempty"`
	Metadata      ExtractedMetadata `json:"metadata"`
}

// ExtractedMetadata records the provenance of a merge.
type ExtractedMetadata struct {
	SourceFiles    []string  `json:"source_files"`
	TotalLineItems int       `json:"total_line_items"`
	MergedAt       time.Time `json:"merged_at"`
}

// Document returns the merged document for the given type, or nil.
func (e *ExtractedData) Document(dt DocumentType) *MergedDocument {
	switch dt {
	case DocProfitAndLoss:
		return e.ProfitAndLoss
	case DocBalanceSheet:
		return e.BalanceSheet
	case DocTrialBalance:
		return e.TrialBalance
	default:
		return nil
	}
}

// SetDocument stores the merged document for the given type.
func (e *ExtractedData) SetDocument(dt DocumentType, doc *MergedDocument) {
	switch dt {
	case DocProfitAndLoss:
		e.ProfitAndLoss = doc
	case DocBalanceSheet:
		e.BalanceSheet = doc
	case DocTrialBalance:
		e.TrialBalance = doc
	}
}
