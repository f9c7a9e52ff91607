package cma

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caflow/cma-engine/internal/model"
)

func item(sheet string, row int, amount float64) model.ClassifiedItem {
	return model.ClassifiedItem{
		ItemID:      "x",
		ItemName:    "item",
		ItemAmount:  amount,
		TargetRow:   &row,
		TargetSheet: sheet,
	}
}

func TestBuildStatementGroupsAndSums(t *testing.T) {
	data := &model.ClassificationData{Items: []model.ClassifiedItem{
		item(SheetOperating, 5, 100000),
		item(SheetOperating, 5, 50000),
		item(SheetBalanceSheet, 64, 75000),
		{ItemID: "u", ItemName: "unmapped", ItemAmount: 999},
	}}

	s := BuildStatement(data)
	assert.True(t, s.Amount(SheetOperating, 5).Equal(decimal.NewFromInt(150000)))
	assert.True(t, s.Amount(SheetBalanceSheet, 64).Equal(decimal.NewFromInt(75000)))
	assert.False(t, s.Has(SheetOperating, 99))
	assert.True(t, s.Amount(SheetOperating, 99).IsZero())
}

func TestBuildStatementNil(t *testing.T) {
	s := BuildStatement(nil)
	require.NotNil(t, s)
	assert.True(t, s.Amount(SheetOperating, 5).IsZero())
}

func TestApplyComputedRowsGrossProfit(t *testing.T) {
	s := NewStatement()
	s.Set(SheetOperating, 5, decimal.NewFromInt(1500000))
	s.Set(SheetOperating, 6, decimal.NewFromInt(900000))
	s.Set(SheetOperating, 7, decimal.NewFromInt(100000))

	s.ApplyComputedRows()

	assert.True(t, s.Amount(SheetOperating, RowCostOfSales).Equal(decimal.NewFromInt(1000000)))
	assert.True(t, s.Amount(SheetOperating, RowGrossProfit).Equal(decimal.NewFromInt(500000)))
}

func TestApplyComputedRowsSubtractAlwaysOverwrites(t *testing.T) {
	s := NewStatement()
	s.Set(SheetOperating, 5, decimal.NewFromInt(1000))
	s.Set(SheetOperating, 10, decimal.NewFromInt(400))
	// A stale extracted gross profit must be recomputed.
	s.Set(SheetOperating, RowGrossProfit, decimal.NewFromInt(9999))

	s.ApplyComputedRows()
	assert.True(t, s.Amount(SheetOperating, RowGrossProfit).Equal(decimal.NewFromInt(600)))
}

func TestApplyComputedRowsSumKeepsExtractedTotalWhenZero(t *testing.T) {
	s := NewStatement()
	// Extracted total present, no component rows classified.
	s.Set(SheetBalanceSheet, RowTotalCurrentAssets, decimal.NewFromInt(123456))

	s.ApplyComputedRows()
	assert.True(t, s.Amount(SheetBalanceSheet, RowTotalCurrentAssets).Equal(decimal.NewFromInt(123456)))
}

func TestApplyComputedRowsBalanceSheetTotals(t *testing.T) {
	s := NewStatement()
	s.Set(SheetBalanceSheet, 25, decimal.NewFromInt(40000)) // creditors
	s.Set(SheetBalanceSheet, 41, decimal.NewFromInt(60000)) // capital
	s.Set(SheetBalanceSheet, 64, decimal.NewFromInt(30000)) // debtors
	s.Set(SheetBalanceSheet, 77, decimal.NewFromInt(70000)) // machinery

	s.ApplyComputedRows()

	assert.True(t, s.Amount(SheetBalanceSheet, RowTotalCurrentLiabilities).Equal(decimal.NewFromInt(40000)))
	assert.True(t, s.Amount(SheetBalanceSheet, RowTotalLiabilities).Equal(decimal.NewFromInt(100000)))
	assert.True(t, s.Amount(SheetBalanceSheet, RowTotalCurrentAssets).Equal(decimal.NewFromInt(30000)))
	assert.True(t, s.Amount(SheetBalanceSheet, RowNetFixedAssets).Equal(decimal.NewFromInt(70000)))
	assert.True(t, s.Amount(SheetBalanceSheet, RowTotalAssets).Equal(decimal.NewFromInt(100000)))
}

func TestRowsBySheet(t *testing.T) {
	grouped := RowsBySheet()
	assert.NotEmpty(t, grouped[SheetOperating])
	assert.NotEmpty(t, grouped[SheetBalanceSheet])
	assert.Equal(t, "Net Sales", LabelFor(SheetOperating, 5))
	assert.Equal(t, "", LabelFor(SheetOperating, 999))
}

func TestFormatINR(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{1234567.8, "₹12,34,567.80"},
		{123, "₹123.00"},
		{1234, "₹1,234.00"},
		{12345, "₹12,345.00"},
		{123456, "₹1,23,456.00"},
		{12345678, "₹1,23,45,678.00"},
		{-4500, "-₹4,500.00"},
		{0, "₹0.00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatINR(decimal.NewFromFloat(tc.in)), "input %v", tc.in)
	}
}
