package extract

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/caflow/cma-engine/internal/model"
)

func buildWorkbook(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, cells := range rows {
			row := sheet.AddRow()
			for _, c := range cells {
				row.AddCell().SetString(c)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestParseExcelTrialBalance(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Trial Balance": {
			{"Trial Balance FY 2023-24", ""},
			{"Particulars", "Amount"},
			{"Sales", "45,00,000 Cr"},
			{"Purchases", "30,00,000 Dr"},
			{"Sundry Debtors", "8,50,000 Dr"},
			{"Total", "83,50,000"},
		},
	})

	doc, err := ParseExcel(data, "trial_balance.xlsx")
	require.NoError(t, err)

	assert.Equal(t, model.DocTrialBalance, doc.DocumentType)
	assert.Equal(t, "2023-24", doc.FinancialYear)
	require.Len(t, doc.LineItems, 4)

	assert.Equal(t, "Sales", doc.LineItems[0].Name)
	assert.InDelta(t, 4_500_000, doc.LineItems[0].Amount, 0.001)
	assert.InDelta(t, -3_000_000, doc.LineItems[1].Amount, 0.001)
	assert.True(t, doc.LineItems[3].IsTotal)
}

func TestParseExcelGroupHeadings(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Balance Sheet": {
			{"Sharma Traders", ""},
			{"Cash in Hand", "50,000"},
			{"Sundry Debtors", "8,50,000"},
			{"Total Current Assets", "9,00,000"},
			{"Fixed Assets", ""},
			{"Plant & Machinery", "12,00,000"},
		},
	})

	doc, err := ParseExcel(data, "balance_sheet.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "Sharma Traders", doc.EntityName)
	require.Len(t, doc.LineItems, 5)

	assert.True(t, doc.LineItems[2].IsTotal)
	assert.Empty(t, doc.LineItems[2].ParentGroup)

	// "Fixed Assets" has no amount but sits inside the data: it stays a
	// line item and the rows below attach to it.
	assert.Equal(t, "Fixed Assets", doc.LineItems[3].Name)
	assert.Zero(t, doc.LineItems[3].Amount)
	assert.Empty(t, doc.LineItems[3].ParentGroup)
	assert.Equal(t, "Fixed Assets", doc.LineItems[4].ParentGroup)
	assert.Equal(t, 1, doc.LineItems[4].Level)
}

func TestParseExcelZeroAmountRowOpensGroup(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Profit and Loss": {
			{"Sales", "45,00,000"},
			{"Direct Expenses", "0"},
			{"Wages", "5,00,000"},
		},
	})

	doc, err := ParseExcel(data, "pl.xlsx")
	require.NoError(t, err)
	require.Len(t, doc.LineItems, 3)

	assert.Equal(t, "Direct Expenses", doc.LineItems[1].Name)
	assert.Zero(t, doc.LineItems[1].Amount)
	assert.Equal(t, "Direct Expenses", doc.LineItems[2].ParentGroup)
}

func TestParseExcelBestSheetWins(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Summary": {
			{"Net Profit", "1,00,000"},
		},
		"Profit and Loss": {
			{"Sales", "45,00,000"},
			{"Purchases", "30,00,000"},
			{"Wages", "5,00,000"},
		},
	})

	doc, err := ParseExcel(data, "pl.xlsx")
	require.NoError(t, err)

	assert.Len(t, doc.LineItems, 3, "richer sheet becomes the document")
	require.Len(t, doc.Metadata.AdditionalSheets, 1)
	assert.Equal(t, "Summary", doc.Metadata.AdditionalSheets[0].SheetName)
}

func TestParseExcelEmptyWorkbook(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Sheet1": {},
	})

	_, err := ParseExcel(data, "empty.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no line items")
}

func TestParseCSV(t *testing.T) {
	csvData := []byte("Particulars,Amount\nSales,\"45,00,000\"\nPurchases,\"(30,00,000)\"\n")

	doc, err := ParseCSV(csvData, "trial balance.csv")
	require.NoError(t, err)

	assert.Equal(t, model.DocTrialBalance, doc.DocumentType)
	assert.Equal(t, "csv", doc.Metadata.Parser)
	require.Len(t, doc.LineItems, 2)
	assert.InDelta(t, -3_000_000, doc.LineItems[1].Amount, 0.001)
}
