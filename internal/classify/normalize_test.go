package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTerm(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Sundry Debtors", "sundry debtors"},
		{"  SALES  ", "sales"},
		{"S. Debtors", "sundry debtors"},
		{"S.Creditors", "sundry creditors"},
		{"Dep. on Machinery", "depreciation on machinery"},
		{"Prov. for Taxation", "provision for taxation"},
		{"Misc. Exp.", "miscellaneous expenses"},
		{"Electricity Charges A/c", "electricity charges"},
		{"Rent Account", "rent"},
		{"Rent Accounts", "rent"},
		{"Interest   Paid", "interest paid"},
		{"Sales:", "sales"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeTerm(tc.in), "input %q", tc.in)
	}
}

func TestDisplayTerm(t *testing.T) {
	assert.Equal(t, "Sundry Debtors", DisplayTerm("s. debtors"))
	assert.Equal(t, "Provision For Taxation", DisplayTerm("prov. for taxation"))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("sales", "sales"))
	assert.Equal(t, 0.0, Ratio("sales", ""))
	assert.Equal(t, 0.0, Ratio("", "sales"))

	// Near-identical strings score high, unrelated ones low.
	assert.Greater(t, Ratio("sundry debtors", "sundry debtor"), 0.9)
	assert.Less(t, Ratio("sales", "plant and machinery"), 0.4)

	// Symmetry.
	assert.Equal(t, Ratio("wages", "salaries"), Ratio("salaries", "wages"))
}
