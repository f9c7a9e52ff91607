// Package cma models the CMA form itself: the row catalogue, the aggregated
// statement built from classified line items, and the computed-row table.
package cma

// Sheet names used throughout classification, validation, and generation.
const (
	SheetOperating    = "operating_statement"
	SheetBalanceSheet = "balance_sheet"
)

// Row numbers referenced by validation rules and the computed-row table.
const (
	RowNetSales                = 5
	RowCostOfSales             = 10
	RowGrossProfit             = 12
	RowTotalCurrentLiabilities = 30
	RowSundryCreditors         = 38
	RowTotalLiabilities        = 49
	RowSundryDebtors           = 64
	RowTotalCurrentAssets      = 75
	RowNetFixedAssets          = 80
	RowTotalAssets             = 82
)

// RowDef describes one CMA form row for the row catalogue endpoint and the
// workbook writer.
type RowDef struct {
	Row      int    `json:"row"`
	Sheet    string `json:"sheet"`
	Label    string `json:"label"`
	Computed bool   `json:"computed"`
}

// Rows is the CMA form layout, in render order per sheet.
var Rows = []RowDef{
	{Row: 5, Sheet: SheetOperating, Label: "Net Sales"},
	{Row: 6, Sheet: SheetOperating, Label: "Raw Material Purchases"},
	{Row: 7, Sheet: SheetOperating, Label: "Wages and Salaries"},
	{Row: 8, Sheet: SheetOperating, Label: "Power and Fuel"},
	{Row: 9, Sheet: SheetOperating, Label: "Other Manufacturing Expenses"},
	{Row: 10, Sheet: SheetOperating, Label: "Cost of Sales", Computed: true},
	{Row: 11, Sheet: SheetOperating, Label: "Depreciation"},
	{Row: 12, Sheet: SheetOperating, Label: "Gross Profit", Computed: true},
	{Row: 13, Sheet: SheetOperating, Label: "Interest"},
	{Row: 14, Sheet: SheetOperating, Label: "Selling and Administrative Expenses"},

	{Row: 22, Sheet: SheetBalanceSheet, Label: "Short Term Bank Borrowings"},
	{Row: 25, Sheet: SheetBalanceSheet, Label: "Sundry Creditors"},
	{Row: 27, Sheet: SheetBalanceSheet, Label: "Provision for Taxation"},
	{Row: 30, Sheet: SheetBalanceSheet, Label: "Total Current Liabilities", Computed: true},
	{Row: 33, Sheet: SheetBalanceSheet, Label: "Term Loans"},
	{Row: 35, Sheet: SheetBalanceSheet, Label: "Unsecured Loans"},
	{Row: 38, Sheet: SheetBalanceSheet, Label: "Sundry Creditors (Others)"},
	{Row: 41, Sheet: SheetBalanceSheet, Label: "Capital"},
	{Row: 43, Sheet: SheetBalanceSheet, Label: "Reserves and Surplus"},
	{Row: 49, Sheet: SheetBalanceSheet, Label: "Total Liabilities", Computed: true},
	{Row: 55, Sheet: SheetBalanceSheet, Label: "Cash in Hand"},
	{Row: 56, Sheet: SheetBalanceSheet, Label: "Bank Balances"},
	{Row: 60, Sheet: SheetBalanceSheet, Label: "Inventory"},
	{Row: 64, Sheet: SheetBalanceSheet, Label: "Sundry Debtors"},
	{Row: 68, Sheet: SheetBalanceSheet, Label: "Other Current Assets"},
	{Row: 75, Sheet: SheetBalanceSheet, Label: "Total Current Assets", Computed: true},
	{Row: 76, Sheet: SheetBalanceSheet, Label: "Land and Building"},
	{Row: 77, Sheet: SheetBalanceSheet, Label: "Plant and Machinery"},
	{Row: 78, Sheet: SheetBalanceSheet, Label: "Furniture and Fixtures"},
	{Row: 79, Sheet: SheetBalanceSheet, Label: "Vehicles"},
	{Row: 80, Sheet: SheetBalanceSheet, Label: "Net Fixed Assets", Computed: true},
	{Row: 82, Sheet: SheetBalanceSheet, Label: "Total Assets", Computed: true},
}

// RowsBySheet groups the catalogue for the config endpoint.
func RowsBySheet() map[string][]RowDef {
	out := make(map[string][]RowDef)
	for _, r := range Rows {
		out[r.Sheet] = append(out[r.Sheet], r)
	}
	return out
}

// LabelFor returns the catalogue label for a row, or "" when unknown.
func LabelFor(sheet string, row int) string {
	for _, r := range Rows {
		if r.Sheet == sheet && r.Row == row {
			return r.Label
		}
	}
	return ""
}
