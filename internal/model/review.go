package model

import "time"

// ReviewStatus is the lifecycle of a review queue item. Transitions only go
// pending → resolved or pending → skipped, never back.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
	ReviewSkipped  ReviewStatus = "skipped"
)

// Alternative is one alternative mapping suggestion offered to the reviewer.
type Alternative struct {
	Row   int     `json:"row"`
	Sheet string  `json:"sheet"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ReviewItem is a queued reconciliation task for one low-confidence
// classification.
type ReviewItem struct {
	ID               string               `json:"id"`
	FirmID           string               `json:"firm_id"`
	ProjectID        string               `json:"project_id"`
	ItemID           string               `json:"item_id"`
	SourceItemName   string               `json:"source_item_name"`
	SourceItemAmount float64              `json:"source_item_amount"`
	SuggestedRow     *int                 `json:"suggested_row,omitempty"`
	SuggestedSheet   string               `json:"suggested_sheet,omitempty"`
	SuggestedLabel   string               `json:"suggested_label,omitempty"`
	Confidence       float64              `json:"confidence"`
	Reasoning        string               `json:"reasoning,omitempty"`
	Source           ClassificationSource `json:"source"`
	Alternatives     []Alternative        `json:"alternative_suggestions,omitempty"`
	Status           ReviewStatus         `json:"status"`
	ResolvedRow      *int                 `json:"resolved_row,omitempty"`
	ResolvedSheet    string               `json:"resolved_sheet,omitempty"`
	ResolvedBy       string               `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// ReviewSummary aggregates queue state for one firm or project.
type ReviewSummary struct {
	TotalPending      int            `json:"total_pending"`
	TotalResolved     int            `json:"total_resolved"`
	TotalSkipped      int            `json:"total_skipped"`
	AvgConfidence     float64        `json:"avg_confidence"`
	ItemsByConfidence map[string]int `json:"items_by_confidence"`
}
