package model

import "time"

// ProjectStatus tracks a project through the pipeline lifecycle.
type ProjectStatus string

const (
	StatusDraft            ProjectStatus = "draft"
	StatusUploaded         ProjectStatus = "uploaded"
	StatusExtracting       ProjectStatus = "extracting"
	StatusExtracted        ProjectStatus = "extracted"
	StatusClassifying      ProjectStatus = "classifying"
	StatusClassified       ProjectStatus = "classified"
	StatusReviewing        ProjectStatus = "reviewing"
	StatusValidating       ProjectStatus = "validating"
	StatusValidated        ProjectStatus = "validated"
	StatusValidationFailed ProjectStatus = "validation_failed"
	StatusGenerating       ProjectStatus = "generating"
	StatusCompleted        ProjectStatus = "completed"
	StatusError            ProjectStatus = "error"
)

// EntityType is a client's business category. It filters which classification
// and validation rules apply.
type EntityType string

const (
	EntityTrading       EntityType = "trading"
	EntityManufacturing EntityType = "manufacturing"
	EntityService       EntityType = "service"
)

// StepName identifies one pipeline step.
type StepName string

const (
	StepExtract  StepName = "extract"
	StepClassify StepName = "classify"
	StepReview   StepName = "review"
	StepValidate StepName = "validate"
	StepGenerate StepName = "generate"
)

// StepOrder is the fixed execution order of pipeline steps.
var StepOrder = []StepName{StepExtract, StepClassify, StepReview, StepValidate, StepGenerate}

// StepIndex returns the position of a step in StepOrder, or -1 if unknown.
func StepIndex(name StepName) int {
	for i, s := range StepOrder {
		if s == name {
			return i
		}
	}
	return -1
}

// StepStatus is the sub-status of one pipeline step, tracked independently of
// the project-level status.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepState records progress of a single pipeline step on the project row.
type StepState struct {
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// PipelineSteps maps step name → step state. Stored as JSONB on the project.
type PipelineSteps map[StepName]StepState

// NewPipelineSteps returns a fresh step table with every step pending.
func NewPipelineSteps() PipelineSteps {
	steps := make(PipelineSteps, len(StepOrder))
	for _, s := range StepOrder {
		steps[s] = StepState{Status: StepPending}
	}
	return steps
}

// Project is a unit of work for one client and financial year.
type Project struct {
	ID               string              `json:"id"`
	FirmID           string              `json:"firm_id"`
	ClientID         string              `json:"client_id"`
	ClientName       string              `json:"client_name,omitempty"`
	EntityType       EntityType          `json:"entity_type"`
	FinancialYear    string              `json:"financial_year"`
	Status           ProjectStatus       `json:"status"`
	PipelineProgress int                 `json:"pipeline_progress"`
	PipelineSteps    PipelineSteps       `json:"pipeline_steps,omitempty"`
	IsProcessing     bool                `json:"is_processing"`
	ExtractedData    *ExtractedData      `json:"extracted_data,omitempty"`
	Classification   *ClassificationData `json:"classification_data,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NextStepFor maps a project status to the next logical pipeline step.
func NextStepFor(status ProjectStatus) StepName {
	switch status {
	case StatusDraft, StatusUploaded, StatusExtracting, StatusError:
		return StepExtract
	case StatusExtracted, StatusClassifying:
		return StepClassify
	case StatusClassified, StatusReviewing:
		return StepReview
	case StatusValidating, StatusValidationFailed:
		return StepValidate
	case StatusValidated, StatusGenerating, StatusCompleted:
		return StepGenerate
	default:
		return StepExtract
	}
}
