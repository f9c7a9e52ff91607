// Package review manages the human reconciliation queue: low-confidence
// classifications are parked for a chartered accountant to approve, correct,
// or skip, and accepted corrections are memorized as precedents.
package review

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
)

const maxAlternatives = 3

// Queue coordinates review items against the store.
type Queue struct {
	store store.Store
	rules *classify.RuleLoader
	now   func() time.Time
}

// NewQueue builds a review queue service. rules may be nil, which disables
// alternative suggestions.
func NewQueue(st store.Store, rules *classify.RuleLoader) *Queue {
	return &Queue{store: st, rules: rules, now: time.Now}
}

// Populate enqueues a review item for every classification flagged for
// review. Re-running after a fresh classification refreshes suggestions on
// existing rows without touching resolutions already made.
func (q *Queue) Populate(ctx context.Context, project *model.Project, result *model.ClassificationResult) (int, error) {
	var rs *classify.RuleSet
	if q.rules != nil {
		loaded, err := q.rules.Get()
		if err != nil {
			zap.L().Warn("review: rules unavailable, skipping alternatives", zap.Error(err))
		} else {
			rs = loaded
		}
	}

	queued := 0
	for _, it := range result.Items {
		if !it.NeedsReview {
			continue
		}

		item := &model.ReviewItem{
			FirmID:           project.FirmID,
			ProjectID:        project.ID,
			ItemID:           it.ItemID,
			SourceItemName:   it.ItemName,
			SourceItemAmount: it.ItemAmount,
			SuggestedRow:     it.TargetRow,
			SuggestedSheet:   it.TargetSheet,
			SuggestedLabel:   it.TargetLabel,
			Confidence:       it.Confidence,
			Reasoning:        it.Reasoning,
			Source:           it.Source,
			Status:           model.ReviewPending,
			CreatedAt:        q.now().UTC(),
		}
		if rs != nil {
			item.Alternatives = alternativesFor(rs, it)
		}

		if err := q.store.UpsertReviewItem(ctx, item); err != nil {
			return queued, eris.Wrapf(err, "review: enqueue item %s", it.ItemID)
		}
		queued++
	}

	zap.L().Info("review: queue populated",
		zap.String("project_id", project.ID),
		zap.Int("queued", queued))
	return queued, nil
}

// PendingCount returns the number of unresolved items for a project.
func (q *Queue) PendingCount(ctx context.Context, firmID, projectID string) (int, error) {
	items, err := q.store.ListReviewItems(ctx, store.ReviewFilter{
		FirmID:    firmID,
		ProjectID: projectID,
		Status:    model.ReviewPending,
	})
	if err != nil {
		return 0, eris.Wrap(err, "review: count pending")
	}
	return len(items), nil
}

// Summary aggregates queue state for a project.
func (q *Queue) Summary(ctx context.Context, firmID, projectID string) (*model.ReviewSummary, error) {
	items, err := q.store.ListReviewItems(ctx, store.ReviewFilter{
		FirmID:    firmID,
		ProjectID: projectID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "review: load queue for summary")
	}

	s := &model.ReviewSummary{ItemsByConfidence: map[string]int{}}
	var confSum float64
	for _, it := range items {
		switch it.Status {
		case model.ReviewResolved:
			s.TotalResolved++
		case model.ReviewSkipped:
			s.TotalSkipped++
		default:
			s.TotalPending++
		}
		confSum += it.Confidence
		s.ItemsByConfidence[confidenceBucket(it.Confidence)]++
	}
	if len(items) > 0 {
		s.AvgConfidence = confSum / float64(len(items))
	}
	return s, nil
}

func confidenceBucket(c float64) string {
	switch {
	case c >= 0.5:
		return "medium"
	case c >= 0.25:
		return "low"
	default:
		return "very_low"
	}
}

// alternativesFor ranks rule candidates for the reviewer, excluding the row
// already suggested.
func alternativesFor(rs *classify.RuleSet, it model.ClassifiedItem) []model.Alternative {
	matches := classify.RuleAlternatives(rs, it.ItemName, maxAlternatives+1)

	var alts []model.Alternative
	for _, m := range matches {
		if it.TargetRow != nil && m.Rule.TargetRow == *it.TargetRow && m.Rule.TargetSheet == it.TargetSheet {
			continue
		}
		alts = append(alts, model.Alternative{
			Row:   m.Rule.TargetRow,
			Sheet: m.Rule.TargetSheet,
			Label: m.Rule.TargetLabel,
			Score: m.Score,
		})
		if len(alts) == maxAlternatives {
			break
		}
	}
	return alts
}
