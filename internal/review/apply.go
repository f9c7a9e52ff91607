package review

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
)

// ApplyResolutions folds resolved review decisions back into the project's
// classification data, joined by item ID. Reviewed mappings carry full
// confidence. Skipped items stay as the classifier left them.
func (q *Queue) ApplyResolutions(ctx context.Context, project *model.Project) (int, error) {
	if project.Classification == nil {
		return 0, eris.New("review: project has no classification data")
	}

	items, err := q.store.ListReviewItems(ctx, store.ReviewFilter{
		FirmID:    project.FirmID,
		ProjectID: project.ID,
		Status:    model.ReviewResolved,
	})
	if err != nil {
		return 0, eris.Wrap(err, "review: list resolved items")
	}
	if len(items) == 0 {
		return 0, nil
	}

	resolved := make(map[string]*model.ReviewItem, len(items))
	// Fallback join for rows queued before item IDs existed.
	byNameAmount := make(map[string]*model.ReviewItem, len(items))
	for i := range items {
		if items[i].ItemID != "" {
			resolved[items[i].ItemID] = &items[i]
		}
		byNameAmount[nameAmountKey(items[i].SourceItemName, items[i].SourceItemAmount)] = &items[i]
	}

	applied := 0
	for i := range project.Classification.Items {
		ci := &project.Classification.Items[i]
		r, ok := resolved[ci.ItemID]
		if !ok {
			r, ok = byNameAmount[nameAmountKey(ci.ItemName, ci.ItemAmount)]
		}
		if !ok {
			continue
		}
		// Re-applying an unchanged resolution is a no-op; repeat calls
		// must report zero updates.
		if ci.Source == model.SourceCAReviewed &&
			ci.TargetRow != nil && r.ResolvedRow != nil &&
			*ci.TargetRow == *r.ResolvedRow && ci.TargetSheet == r.ResolvedSheet {
			continue
		}
		ci.TargetRow = r.ResolvedRow
		ci.TargetSheet = r.ResolvedSheet
		ci.Confidence = 1.0
		ci.Source = model.SourceCAReviewed
		ci.NeedsReview = false
		applied++
	}

	zap.L().Info("review: resolutions applied",
		zap.String("project_id", project.ID),
		zap.Int("applied", applied))
	return applied, nil
}

func nameAmountKey(name string, amount float64) string {
	return fmt.Sprintf("%s|%.2f", name, amount)
}

// ReconcileResult reports the outcome of folding resolutions back into a
// project.
type ReconcileResult struct {
	ItemsUpdated int  `json:"items_updated"`
	Pending      int  `json:"pending"`
	ReadyToRun   bool `json:"ready_to_run"`
}

// Reconcile applies resolved decisions to the project's classification and,
// once the queue is drained, moves the project to validated so the pipeline
// can resume. Safe to call after every resolution; unchanged items are not
// re-counted.
func (q *Queue) Reconcile(ctx context.Context, project *model.Project) (*ReconcileResult, error) {
	applied, err := q.ApplyResolutions(ctx, project)
	if err != nil {
		return nil, err
	}

	pending, err := q.PendingCount(ctx, project.FirmID, project.ID)
	if err != nil {
		return nil, err
	}

	out := &ReconcileResult{ItemsUpdated: applied, Pending: pending}
	if project.Status == model.StatusReviewing && pending == 0 {
		project.Status = model.StatusValidated
		project.PipelineProgress = 60
		steps := project.PipelineSteps
		if steps != nil {
			state := steps[model.StepReview]
			state.Status = model.StepCompleted
			now := q.now().UTC()
			state.CompletedAt = &now
			steps[model.StepReview] = state
		}
		out.ReadyToRun = true
	}
	if err := q.store.UpdateProject(ctx, project); err != nil {
		return nil, eris.Wrap(err, "review: persist reconciled project")
	}
	return out, nil
}
