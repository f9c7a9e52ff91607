package cma

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/caflow/cma-engine/internal/model"
)

// Statement is the aggregated CMA form: amounts keyed by sheet and row.
// Amounts are decimals; float drift from source data must not leak into the
// balance checks.
type Statement struct {
	amounts map[string]map[int]decimal.Decimal
}

// NewStatement returns an empty statement.
func NewStatement() *Statement {
	return &Statement{amounts: make(map[string]map[int]decimal.Decimal)}
}

// BuildStatement groups classified items by (sheet, row) and sums their
// amounts. Items without a target row are skipped; they are either pending
// review or unclassifiable.
func BuildStatement(data *model.ClassificationData) *Statement {
	s := NewStatement()
	if data == nil {
		return s
	}
	for _, it := range data.Items {
		if it.TargetRow == nil || it.TargetSheet == "" {
			continue
		}
		// decimal.NewFromFloat panics on non-finite input; validation
		// reports those separately.
		if math.IsNaN(it.ItemAmount) || math.IsInf(it.ItemAmount, 0) {
			continue
		}
		s.Add(it.TargetSheet, *it.TargetRow, decimal.NewFromFloat(it.ItemAmount))
	}
	return s
}

// Add accumulates an amount into a cell.
func (s *Statement) Add(sheet string, row int, amount decimal.Decimal) {
	if s.amounts[sheet] == nil {
		s.amounts[sheet] = make(map[int]decimal.Decimal)
	}
	s.amounts[sheet][row] = s.amounts[sheet][row].Add(amount)
}

// Set overwrites a cell.
func (s *Statement) Set(sheet string, row int, amount decimal.Decimal) {
	if s.amounts[sheet] == nil {
		s.amounts[sheet] = make(map[int]decimal.Decimal)
	}
	s.amounts[sheet][row] = amount
}

// Amount returns the cell value; absent cells are zero.
func (s *Statement) Amount(sheet string, row int) decimal.Decimal {
	return s.amounts[sheet][row]
}

// Has reports whether the cell was explicitly populated.
func (s *Statement) Has(sheet string, row int) bool {
	_, ok := s.amounts[sheet][row]
	return ok
}

// computedOp is how a computed row derives its value.
type computedOp int

const (
	opSum computedOp = iota
	opSubtract
)

type computedRow struct {
	sheet    string
	row      int
	op       computedOp
	operands []int
}

// Computed rows in dependency order: cost of sales before gross profit,
// subtotals before grand totals.
var computedRows = []computedRow{
	{SheetOperating, RowCostOfSales, opSum, []int{6, 7, 8, 9}},
	{SheetOperating, RowGrossProfit, opSubtract, []int{RowNetSales, RowCostOfSales}},

	{SheetBalanceSheet, RowTotalCurrentLiabilities, opSum, []int{22, 25, 27}},
	{SheetBalanceSheet, RowTotalLiabilities, opSum, []int{RowTotalCurrentLiabilities, 33, 35, 41, 43}},
	{SheetBalanceSheet, RowTotalCurrentAssets, opSum, []int{55, 56, 60, 64, 68}},
	{SheetBalanceSheet, RowNetFixedAssets, opSum, []int{76, 77, 78, 79}},
	{SheetBalanceSheet, RowTotalAssets, opSum, []int{RowTotalCurrentAssets, RowNetFixedAssets}},
}

// ApplyComputedRows fills derived cells. Subtractions always recompute;
// sums only overwrite when they produce a non-zero value, so an extracted
// total survives when none of its components were classified.
func (s *Statement) ApplyComputedRows() {
	for _, cr := range computedRows {
		switch cr.op {
		case opSubtract:
			v := s.Amount(cr.sheet, cr.operands[0]).Sub(s.Amount(cr.sheet, cr.operands[1]))
			s.Set(cr.sheet, cr.row, v)
		case opSum:
			var sum decimal.Decimal
			for _, op := range cr.operands {
				sum = sum.Add(s.Amount(cr.sheet, op))
			}
			if !sum.IsZero() {
				s.Set(cr.sheet, cr.row, sum)
			}
		}
	}
}
