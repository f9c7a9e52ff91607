package model

import "time"

// ValidationSeverity distinguishes blocking errors from advisory warnings.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// CheckStatus is the outcome of one validation check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckFixed   CheckStatus = "fixed"
	CheckSkipped CheckStatus = "skipped"
)

// FixSuggestion proposes a cell adjustment that would satisfy a failed
// check. Suggestions are surfaced, never silently applied.
type FixSuggestion struct {
	Sheet       string  `json:"sheet"`
	Row         int     `json:"row"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// ValidationCheck is the result of one rule applied to the classified data.
type ValidationCheck struct {
	RuleID     string             `json:"rule_id"`
	Name       string             `json:"name"`
	Severity   ValidationSeverity `json:"severity"`
	Status     CheckStatus        `json:"status"`
	Message    string             `json:"message,omitempty"`
	Expected   *float64           `json:"expected,omitempty"`
	Actual     *float64           `json:"actual,omitempty"`
	Difference *float64           `json:"difference,omitempty"`
	Suggestion *FixSuggestion     `json:"fix_suggestion,omitempty"`
}

// ValidationResult is the outcome of a full validation pass. Generation is
// allowed only when no error-severity check failed.
type ValidationResult struct {
	ValidatedAt time.Time         `json:"validated_at"`
	Checks      []ValidationCheck `json:"checks"`
	Errors      int               `json:"errors"`
	Warnings    int               `json:"warnings"`
	Fixed       int               `json:"fixed"`
	CanGenerate bool              `json:"can_generate"`
}

// Tally recomputes the counters and the generation gate from Checks.
func (r *ValidationResult) Tally() {
	r.Errors, r.Warnings, r.Fixed = 0, 0, 0
	for _, c := range r.Checks {
		switch {
		case c.Status == CheckFixed:
			r.Fixed++
		case c.Status == CheckFailed && c.Severity == SeverityError:
			r.Errors++
		case c.Status == CheckFailed && c.Severity == SeverityWarning:
			r.Warnings++
		}
	}
	r.CanGenerate = r.Errors == 0
}
