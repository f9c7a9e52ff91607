package generate

import (
	"bytes"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/model"
)

// Worksheet display names for the two CMA form sheets.
var sheetTitles = map[string]string{
	cma.SheetOperating:    "Operating Statement",
	cma.SheetBalanceSheet: "Balance Sheet",
}

// writeWorkbook renders the aggregated statement into the fixed CMA layout:
// one worksheet per form sheet, labels in column A at their form row,
// amounts in column B.
func writeWorkbook(project *model.Project, s *cma.Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, key := range []string{cma.SheetOperating, cma.SheetBalanceSheet} {
		title := sheetTitles[key]
		if first {
			if err := f.SetSheetName("Sheet1", title); err != nil {
				return nil, eris.Wrap(err, "generate: rename sheet")
			}
			first = false
		} else if _, err := f.NewSheet(title); err != nil {
			return nil, eris.Wrap(err, "generate: add sheet")
		}

		header := project.ClientName
		if project.FinancialYear != "" {
			header += " - FY " + project.FinancialYear
		}
		if err := f.SetCellValue(title, "A1", header); err != nil {
			return nil, eris.Wrap(err, "generate: write header")
		}
		if err := f.SetCellValue(title, "A2", title); err != nil {
			return nil, eris.Wrap(err, "generate: write header")
		}

		for _, def := range cma.Rows {
			if def.Sheet != key {
				continue
			}
			labelCell := fmt.Sprintf("A%d", def.Row)
			if err := f.SetCellValue(title, labelCell, def.Label); err != nil {
				return nil, eris.Wrapf(err, "generate: write label %s", labelCell)
			}
			if !s.Has(key, def.Row) {
				continue
			}
			amountCell := fmt.Sprintf("B%d", def.Row)
			v, _ := s.Amount(key, def.Row).Float64()
			if err := f.SetCellValue(title, amountCell, v); err != nil {
				return nil, eris.Wrapf(err, "generate: write amount %s", amountCell)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "generate: serialize workbook")
	}
	return buf.Bytes(), nil
}
