package extract

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/caflow/cma-engine/internal/model"
)

// ParseExcel parses an xlsx workbook into a canonical document. Each sheet
// is parsed independently; the sheet yielding the most line items becomes
// the document and the rest are summarized in metadata.
func ParseExcel(data []byte, fileName string) (*model.CanonicalDocument, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open workbook %s", fileName)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("extract: workbook %s has no sheets", fileName)
	}

	type parsedSheet struct {
		name  string
		doc   *model.CanonicalDocument
		items int
	}

	var sheets []parsedSheet
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}

		doc := parseRows(rows, fileName, sheet.Name)
		sheets = append(sheets, parsedSheet{name: sheet.Name, doc: doc, items: len(doc.LineItems)})
	}

	// Best sheet wins.
	best := 0
	for i := range sheets {
		if sheets[i].items > sheets[best].items {
			best = i
		}
	}
	doc := sheets[best].doc
	doc.Metadata.Parser = "excel"

	for i, ps := range sheets {
		if i == best {
			continue
		}
		doc.Metadata.AdditionalSheets = append(doc.Metadata.AdditionalSheets, model.SheetSummary{
			SheetName:    ps.name,
			DocumentType: DetectDocumentType("", ps.name),
			RowCount:     ps.items,
		})
	}

	if len(doc.LineItems) == 0 {
		return nil, eris.Errorf("extract: no line items found in %s", fileName)
	}
	return doc, nil
}

// parseRows converts tabular rows into line items. The first non-empty cell
// in a row is the item name; the last parseable numeric cell is the amount.
// Rows above the first amount are headers (title, financial year). Once data
// starts, a zero-amount row stays a line item and opens a parent group for
// the rows below it; rows starting with "total" close the group.
func parseRows(rows [][]string, fileName, sheetName string) *model.CanonicalDocument {
	doc := &model.CanonicalDocument{
		DocumentType: DetectDocumentType(fileName, sheetName),
		Currency:     "INR",
		Metadata: model.DocumentMetadata{
			SourceFile: fileName,
			SheetName:  sheetName,
			RowCount:   len(rows),
		},
	}

	var currentGroup string
	dataStarted := false
	for _, cells := range rows {
		name, raw := firstText(cells)
		if name == "" {
			continue
		}

		if fy := ExtractFinancialYear(strings.Join(cells, " ")); fy != "" && doc.FinancialYear == "" {
			doc.FinancialYear = fy
		}

		amount, hasAmount := lastNumeric(cells)
		if !dataStarted && !hasAmount {
			if doc.EntityName == "" {
				doc.EntityName = name
			}
			continue
		}
		dataStarted = true

		lower := strings.ToLower(name)
		isTotal := strings.HasPrefix(lower, "total") || strings.HasPrefix(lower, "grand total")

		item := model.LineItem{
			Name:    name,
			Amount:  amount,
			IsTotal: isTotal,
			RawText: raw,
		}
		if isTotal {
			currentGroup = ""
			if amount > doc.Totals.Gross {
				doc.Totals.Gross = amount
			}
			doc.Totals.Net = amount
		} else {
			item.ParentGroup = currentGroup
			if currentGroup != "" {
				item.Level = 1
			}
			// A zero amount marks a group heading; it stays in the
			// output so reviewers see the row, and the items below
			// attach to it.
			if amount == 0 {
				currentGroup = name
			}
		}
		doc.LineItems = append(doc.LineItems, item)
	}

	return doc
}

// firstText returns the first non-empty, non-numeric cell as the row's name.
func firstText(cells []string) (name, raw string) {
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := lastNumeric([]string{c}); ok && !strings.ContainsAny(c, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			continue
		}
		return c, strings.Join(cells, " | ")
	}
	return "", ""
}

// lastNumeric scans cells right to left for a parseable amount.
func lastNumeric(cells []string) (float64, bool) {
	for i := len(cells) - 1; i >= 0; i-- {
		c := strings.TrimSpace(cells[i])
		if c == "" {
			continue
		}
		if !strings.ContainsAny(c, "0123456789") {
			continue
		}
		// Skip cells that look like dates or years rather than amounts.
		if financialYearRe.MatchString(c) {
			continue
		}
		if v := CleanIndianNumber(c); v != 0 {
			return v, true
		}
		// A literal zero is still an amount.
		if c == "0" || c == "0.0" || c == "0.00" {
			return 0, true
		}
	}
	return 0, false
}
