package model

import "time"

// ClassificationSource identifies which cascade tier decided a mapping.
type ClassificationSource string

const (
	SourcePrecedent    ClassificationSource = "precedent"
	SourceRule         ClassificationSource = "rule"
	SourceAI           ClassificationSource = "ai"
	SourceCAReviewed   ClassificationSource = "ca_reviewed"
	SourceUnclassified ClassificationSource = "unclassified"
)

// ReviewThreshold is the confidence floor below which AI classifications are
// queued for human review.
const ReviewThreshold = 0.70

// ClassifiedItem is a line item enriched with a classification decision.
// ItemID is assigned at classification time and is the stable join key used
// when review resolutions are applied back.
type ClassifiedItem struct {
	ItemID             string               `json:"item_id"`
	ItemName           string               `json:"item_name"`
	ItemAmount         float64              `json:"item_amount"`
	DocumentType       DocumentType         `json:"document_type,omitempty"`
	TargetRow          *int                 `json:"target_row,omitempty"`
	TargetSheet        string               `json:"target_sheet,omitempty"`
	TargetLabel        string               `json:"target_label,omitempty"`
	Confidence         float64              `json:"confidence"`
	Source             ClassificationSource `json:"source"`
	MatchedRuleID      int                  `json:"matched_rule_id,omitempty"`
	MatchedPrecedentID string               `json:"matched_precedent_id,omitempty"`
	Reasoning          string               `json:"reasoning,omitempty"`
	NeedsReview        bool                 `json:"needs_review"`
}

// ClassificationSummary aggregates per-source counts for one run.
type ClassificationSummary struct {
	ByPrecedent  int `json:"by_precedent"`
	ByRule       int `json:"by_rule"`
	ByAI         int `json:"by_ai"`
	Unclassified int `json:"unclassified"`
}

// ClassificationData is the classification record persisted on the project.
type ClassificationData struct {
	ClassifiedAt time.Time             `json:"classified_at"`
	TotalItems   int                   `json:"total_items"`
	Items        []ClassifiedItem      `json:"items"`
	Summary      ClassificationSummary `json:"summary"`
}

// ClassificationResult is the full output of one cascade run.
type ClassificationResult struct {
	TotalItems        int              `json:"total_items"`
	ByPrecedent       int              `json:"classified_by_precedent"`
	ByRule            int              `json:"classified_by_rule"`
	ByAI              int              `json:"classified_by_ai"`
	Unclassified      int              `json:"unclassified"`
	NeedsReview       int              `json:"needs_review"`
	AutoClassified    int              `json:"auto_classified"`
	AverageConfidence float64          `json:"average_confidence"`
	Items             []ClassifiedItem `json:"items"`
	LLMCostUSD        float64          `json:"llm_cost_usd"`
	LLMTokensUsed     int64            `json:"llm_tokens_used"`
}

// Summarize recomputes the aggregate counters from Items.
func (r *ClassificationResult) Summarize() {
	r.TotalItems = len(r.Items)
	r.ByPrecedent, r.ByRule, r.ByAI, r.Unclassified = 0, 0, 0, 0
	r.NeedsReview, r.AutoClassified = 0, 0

	var confSum float64
	for _, it := range r.Items {
		switch it.Source {
		case SourcePrecedent:
			r.ByPrecedent++
		case SourceRule:
			r.ByRule++
		case SourceAI:
			r.ByAI++
		case SourceUnclassified:
			r.Unclassified++
		}
		if it.NeedsReview {
			r.NeedsReview++
		} else {
			r.AutoClassified++
		}
		confSum += it.Confidence
	}
	if r.TotalItems > 0 {
		r.AverageConfidence = confSum / float64(r.TotalItems)
	} else {
		r.AverageConfidence = 0
	}
}

// Data converts the result into the persisted project record.
func (r *ClassificationResult) Data(now time.Time) *ClassificationData {
	return &ClassificationData{
		ClassifiedAt: now,
		TotalItems:   r.TotalItems,
		Items:        r.Items,
		Summary: ClassificationSummary{
			ByPrecedent:  r.ByPrecedent,
			ByRule:       r.ByRule,
			ByAI:         r.ByAI,
			Unclassified: r.Unclassified,
		},
	}
}
