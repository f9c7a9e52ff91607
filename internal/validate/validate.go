// Package validate runs the pre-generation checks over classified data:
// balance-sheet balance, gross-profit cross-check, mandatory sales, a
// current-ratio sanity band, and amount sanity. Errors block generation,
// warnings never do.
package validate

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/model"
)

// tolerance absorbs rounding drift between source statements.
var tolerance = decimal.NewFromInt(1)

// checkFunc evaluates one rule against the aggregated statement.
type checkFunc func(s *cma.Statement, data *model.ClassificationData) model.ValidationCheck

type rule struct {
	id       string
	entities []model.EntityType // empty = all
	run      checkFunc
}

var rules = []rule{
	{id: "bs_balance", run: checkBalanceSheet},
	{id: "pl_gross_profit", run: checkGrossProfit},
	{id: "mandatory_sales", run: checkMandatorySales},
	{id: "current_ratio", run: checkCurrentRatio},
	{id: "data_type_check", run: checkAmounts},
}

// Run validates a project's classification data for its entity type.
func Run(data *model.ClassificationData, entityType model.EntityType, now time.Time) *model.ValidationResult {
	s := cma.BuildStatement(data)

	result := &model.ValidationResult{ValidatedAt: now}
	for _, r := range rules {
		if !r.applies(entityType) {
			continue
		}
		result.Checks = append(result.Checks, r.run(s, data))
	}
	result.Tally()

	zap.L().Info("validate: run complete",
		zap.Int("checks", len(result.Checks)),
		zap.Int("errors", result.Errors),
		zap.Int("warnings", result.Warnings),
		zap.Bool("can_generate", result.CanGenerate))
	return result
}

func (r rule) applies(entityType model.EntityType) bool {
	if len(r.entities) == 0 {
		return true
	}
	for _, e := range r.entities {
		if e == entityType {
			return true
		}
	}
	return false
}

// checkBalanceSheet verifies total assets equal total liabilities within
// tolerance. The fix suggestion moves liabilities to match assets.
func checkBalanceSheet(s *cma.Statement, _ *model.ClassificationData) model.ValidationCheck {
	check := model.ValidationCheck{
		RuleID:   "bs_balance",
		Name:     "Balance sheet balances",
		Severity: model.SeverityError,
	}

	if !s.Has(cma.SheetBalanceSheet, cma.RowTotalAssets) && !s.Has(cma.SheetBalanceSheet, cma.RowTotalLiabilities) {
		check.Status = model.CheckSkipped
		check.Message = "no balance sheet totals present"
		return check
	}

	assets := s.Amount(cma.SheetBalanceSheet, cma.RowTotalAssets)
	liabilities := s.Amount(cma.SheetBalanceSheet, cma.RowTotalLiabilities)
	diff := assets.Sub(liabilities)

	check.Expected = floatPtr(assets)
	check.Actual = floatPtr(liabilities)
	check.Difference = floatPtr(diff.Abs())

	if diff.Abs().LessThanOrEqual(tolerance) {
		check.Status = model.CheckPassed
		return check
	}
	check.Status = model.CheckFailed
	check.Message = "total assets " + cma.FormatINR(assets) +
		" do not equal total liabilities " + cma.FormatINR(liabilities) +
		" (difference " + cma.FormatINR(diff.Abs()) + ")"
	check.Suggestion = &model.FixSuggestion{
		Sheet:       cma.SheetBalanceSheet,
		Row:         cma.RowTotalLiabilities,
		Value:       assets.InexactFloat64(),
		Description: "set total liabilities to " + cma.FormatINR(assets),
	}
	return check
}

// checkGrossProfit verifies the reported gross profit equals sales minus
// cost of sales within tolerance.
func checkGrossProfit(s *cma.Statement, _ *model.ClassificationData) model.ValidationCheck {
	check := model.ValidationCheck{
		RuleID:   "pl_gross_profit",
		Name:     "Gross profit cross-check",
		Severity: model.SeverityError,
	}

	if !s.Has(cma.SheetOperating, cma.RowGrossProfit) {
		check.Status = model.CheckSkipped
		check.Message = "no reported gross profit"
		return check
	}

	reported := s.Amount(cma.SheetOperating, cma.RowGrossProfit)
	computed := s.Amount(cma.SheetOperating, cma.RowNetSales).
		Sub(s.Amount(cma.SheetOperating, cma.RowCostOfSales))
	diff := reported.Sub(computed)

	check.Expected = floatPtr(computed)
	check.Actual = floatPtr(reported)
	check.Difference = floatPtr(diff.Abs())

	if diff.Abs().LessThanOrEqual(tolerance) {
		check.Status = model.CheckPassed
		return check
	}
	check.Status = model.CheckFailed
	check.Message = "reported gross profit " + cma.FormatINR(reported) +
		" does not equal sales minus cost of sales " + cma.FormatINR(computed)
	check.Suggestion = &model.FixSuggestion{
		Sheet:       cma.SheetOperating,
		Row:         cma.RowGrossProfit,
		Value:       computed.InexactFloat64(),
		Description: "recompute gross profit as " + cma.FormatINR(computed),
	}
	return check
}

func checkMandatorySales(s *cma.Statement, _ *model.ClassificationData) model.ValidationCheck {
	check := model.ValidationCheck{
		RuleID:   "mandatory_sales",
		Name:     "Sales present",
		Severity: model.SeverityError,
	}

	sales := s.Amount(cma.SheetOperating, cma.RowNetSales)
	check.Actual = floatPtr(sales)
	if sales.IsPositive() {
		check.Status = model.CheckPassed
		return check
	}
	check.Status = model.CheckFailed
	check.Message = "net sales must be greater than zero, got " + cma.FormatINR(sales)
	return check
}

// checkCurrentRatio flags a current ratio outside [1, 3]. Advisory only;
// thin or padded working capital is a question for the CA, not a blocker.
func checkCurrentRatio(s *cma.Statement, _ *model.ClassificationData) model.ValidationCheck {
	check := model.ValidationCheck{
		RuleID:   "current_ratio",
		Name:     "Current ratio sanity",
		Severity: model.SeverityWarning,
	}

	assets := s.Amount(cma.SheetBalanceSheet, cma.RowTotalCurrentAssets)
	liabilities := s.Amount(cma.SheetBalanceSheet, cma.RowTotalCurrentLiabilities)
	if liabilities.IsZero() {
		check.Status = model.CheckSkipped
		check.Message = "no current liabilities to ratio against"
		return check
	}

	ratio := assets.Div(liabilities)
	check.Actual = floatPtr(ratio)
	if ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) && ratio.LessThanOrEqual(decimal.NewFromInt(3)) {
		check.Status = model.CheckPassed
		return check
	}
	check.Status = model.CheckFailed
	check.Message = "current ratio " + ratio.StringFixed(2) + " is outside the expected 1.0-3.0 band"
	return check
}

// checkAmounts rejects non-finite amounts that would corrupt the workbook.
func checkAmounts(_ *cma.Statement, data *model.ClassificationData) model.ValidationCheck {
	check := model.ValidationCheck{
		RuleID:   "data_type_check",
		Name:     "Amounts are numeric",
		Severity: model.SeverityError,
		Status:   model.CheckPassed,
	}
	if data == nil {
		return check
	}
	for _, it := range data.Items {
		if math.IsNaN(it.ItemAmount) || math.IsInf(it.ItemAmount, 0) {
			check.Status = model.CheckFailed
			check.Message = "item " + it.ItemName + " has a non-numeric amount"
			return check
		}
	}
	return check
}

func floatPtr(d decimal.Decimal) *float64 {
	v := d.InexactFloat64()
	return &v
}
