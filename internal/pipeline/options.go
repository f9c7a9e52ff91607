package pipeline

import "github.com/caflow/cma-engine/internal/model"

// Options control one pipeline run.
type Options struct {
	// StartFrom resumes at a specific step. Empty means derive the step
	// from the project status.
	StartFrom model.StepName `json:"start_from,omitempty"`

	// SkipReview auto-approves every queued suggestion instead of pausing.
	SkipReview bool `json:"skip_review"`

	// SkipValidation bypasses the generation gate.
	SkipValidation bool `json:"skip_validation"`

	// ForceReprocess re-runs the pipeline from extract regardless of status.
	ForceReprocess bool `json:"force_reprocess"`

	// AutoApproveAbove approves queued items at or above this confidence
	// before deciding whether to pause.
	AutoApproveAbove float64 `json:"auto_approve_above"`

	// NotifyOnReview sends a notification when the run pauses for review.
	NotifyOnReview bool `json:"notify_on_review"`

	// Recipients for run notifications.
	Recipients []string `json:"recipients,omitempty"`
}

// StopReason explains why a run halted before completion.
type StopReason string

const (
	StopNone                 StopReason = ""
	StopAwaitingReview       StopReason = "awaiting_review"
	StopExtractionFailed     StopReason = "extraction_failed"
	StopClassificationFailed StopReason = "classification_failed"
	StopReviewCheckFailed    StopReason = "review_check_failed"
	StopValidationErrors     StopReason = "validation_errors"
	StopGenerationFailed     StopReason = "generation_failed"
)

// failureReason maps a failed step to its stop reason.
func failureReason(step model.StepName) StopReason {
	switch step {
	case model.StepExtract:
		return StopExtractionFailed
	case model.StepClassify:
		return StopClassificationFailed
	case model.StepReview:
		return StopReviewCheckFailed
	case model.StepValidate:
		return StopValidationErrors
	case model.StepGenerate:
		return StopGenerationFailed
	default:
		return StopNone
	}
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	ProjectID     string              `json:"project_id"`
	Status        model.ProjectStatus `json:"status"`
	Progress      int                 `json:"progress"`
	StepsRun      []model.StepName    `json:"steps_run"`
	StoppedReason StopReason          `json:"stopped_reason,omitempty"`
	PendingReview int                 `json:"pending_review,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// stepProgress is the fixed progress band of each step.
var stepProgress = map[model.StepName]struct{ start, end int }{
	model.StepExtract:  {0, 25},
	model.StepClassify: {25, 50},
	model.StepReview:   {50, 60},
	model.StepValidate: {60, 80},
	model.StepGenerate: {80, 100},
}

// runningStatus is the project status while a step executes.
var runningStatus = map[model.StepName]model.ProjectStatus{
	model.StepExtract:  model.StatusExtracting,
	model.StepClassify: model.StatusClassifying,
	model.StepReview:   model.StatusReviewing,
	model.StepValidate: model.StatusValidating,
	model.StepGenerate: model.StatusGenerating,
}

// completedStatus is the project status after a step finishes.
var completedStatus = map[model.StepName]model.ProjectStatus{
	model.StepExtract:  model.StatusExtracted,
	model.StepClassify: model.StatusClassified,
	model.StepReview:   model.StatusValidated,
	model.StepValidate: model.StatusValidated,
	model.StepGenerate: model.StatusCompleted,
}

// EstimatedStepSeconds feeds the progress endpoint's remaining-time estimate.
var EstimatedStepSeconds = map[model.StepName]int{
	model.StepExtract:  5,
	model.StepClassify: 8,
	model.StepReview:   1,
	model.StepValidate: 1,
	model.StepGenerate: 2,
}
