package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
)

// ErrNotPending is returned when resolving an item that was already resolved
// or skipped. Resolutions are final.
var ErrNotPending = eris.New("review: item is not pending")

// Action is the reviewer's decision on one queued item.
type Action string

const (
	ActionApprove Action = "approve"
	ActionCorrect Action = "correct"
	ActionSkip    Action = "skip"
)

// Resolution carries one reviewer decision.
type Resolution struct {
	ReviewID   string `json:"review_id"`
	Action     Action `json:"action"`
	Row        *int   `json:"row,omitempty"`
	Sheet      string `json:"sheet,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`

	// SkipPrecedent suppresses the precedent capture that approve and
	// correct perform for future projects.
	SkipPrecedent  bool                 `json:"skip_precedent"`
	PrecedentScope model.PrecedentScope `json:"precedent_scope,omitempty"`
}

// Resolve applies one decision. Approve accepts the suggestion, correct
// replaces it with the reviewer's row, skip leaves the item unmapped.
// Resolved mappings become firm precedents unless the caller opts out, so
// the next project with the same ledger term skips the queue.
func (q *Queue) Resolve(ctx context.Context, firmID string, project *model.Project, res Resolution) (*model.ReviewItem, error) {
	item, err := q.store.GetReviewItem(ctx, firmID, res.ReviewID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: load item %s", res.ReviewID)
	}
	if item.Status != model.ReviewPending {
		return nil, ErrNotPending
	}

	now := q.now().UTC()
	switch res.Action {
	case ActionApprove:
		if item.SuggestedRow == nil {
			return nil, eris.New("review: cannot approve an item with no suggestion")
		}
		item.Status = model.ReviewResolved
		item.ResolvedRow = item.SuggestedRow
		item.ResolvedSheet = item.SuggestedSheet
	case ActionCorrect:
		if res.Row == nil || res.Sheet == "" {
			return nil, eris.New("review: correction requires a row and sheet")
		}
		item.Status = model.ReviewResolved
		item.ResolvedRow = res.Row
		item.ResolvedSheet = res.Sheet
	case ActionSkip:
		item.Status = model.ReviewSkipped
	default:
		return nil, eris.Errorf("review: unknown action %q", res.Action)
	}
	item.ResolvedBy = res.ResolvedBy
	item.ResolvedAt = &now

	if err := q.store.UpdateReviewItem(ctx, item); err != nil {
		return nil, eris.Wrapf(err, "review: persist resolution %s", res.ReviewID)
	}

	if !res.SkipPrecedent && item.Status == model.ReviewResolved {
		if err := q.savePrecedent(ctx, project, item, res); err != nil {
			// The resolution itself stuck; precedent capture is best effort.
			zap.L().Warn("review: precedent save failed",
				zap.String("review_id", item.ID), zap.Error(err))
		}
	}
	return item, nil
}

// BulkResult reports the outcome of a multi-item resolution pass.
type BulkResult struct {
	Resolved int      `json:"resolved"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// BulkResolve applies a batch of decisions, continuing past individual
// failures so one bad item does not block the rest of the queue.
func (q *Queue) BulkResolve(ctx context.Context, firmID string, project *model.Project, resolutions []Resolution) *BulkResult {
	out := &BulkResult{}
	for _, res := range resolutions {
		if _, err := q.Resolve(ctx, firmID, project, res); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, res.ReviewID+": "+err.Error())
			continue
		}
		out.Resolved++
	}
	return out
}

// ApproveAll accepts the suggestion on every pending item that has one and
// whose confidence is at or above minConfidence (0 approves everything with
// a suggestion). Suggestionless items stay pending for manual correction.
func (q *Queue) ApproveAll(ctx context.Context, firmID string, project *model.Project, resolvedBy string, minConfidence float64) (*BulkResult, error) {
	items, err := q.store.ListReviewItems(ctx, store.ReviewFilter{
		FirmID:    firmID,
		ProjectID: project.ID,
		Status:    model.ReviewPending,
	})
	if err != nil {
		return nil, eris.Wrap(err, "review: list pending for approve-all")
	}

	out := &BulkResult{}
	for _, it := range items {
		if it.SuggestedRow == nil || it.Confidence < minConfidence {
			continue
		}
		_, err := q.Resolve(ctx, firmID, project, Resolution{
			ReviewID:   it.ID,
			Action:     ActionApprove,
			ResolvedBy: resolvedBy,
		})
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, it.ID+": "+err.Error())
			continue
		}
		out.Resolved++
	}
	return out, nil
}

func (q *Queue) savePrecedent(ctx context.Context, project *model.Project, item *model.ReviewItem, res Resolution) error {
	scope := res.PrecedentScope
	if scope == "" {
		scope = model.ScopeFirm
	}

	p := &model.Precedent{
		FirmID:      project.FirmID,
		SourceTerm:  classify.NormalizeTerm(item.SourceItemName),
		TargetRow:   *item.ResolvedRow,
		TargetSheet: item.ResolvedSheet,
		EntityType:  project.EntityType,
		Scope:       scope,
		ProjectID:   project.ID,
		CreatedBy:   res.ResolvedBy,
	}
	if scope == model.ScopeGlobal {
		p.FirmID = ""
	}
	return q.store.UpsertPrecedent(ctx, p)
}
