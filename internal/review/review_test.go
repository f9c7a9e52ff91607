package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
)

func setup(t *testing.T) (*Queue, *store.MemoryStore, *model.Project) {
	t.Helper()
	st := store.NewMemory()
	q := NewQueue(st, classify.NewRuleLoader("", 0))

	project := &model.Project{
		FirmID:     "firm-a",
		ClientID:   "c1",
		EntityType: model.EntityTrading,
	}
	require.NoError(t, st.CreateProject(context.Background(), project))
	return q, st, project
}

func classificationWith(items ...model.ClassifiedItem) *model.ClassificationResult {
	r := &model.ClassificationResult{Items: items}
	r.Summarize()
	return r
}

func flagged(itemID, name string, row *int, conf float64) model.ClassifiedItem {
	return model.ClassifiedItem{
		ItemID:      itemID,
		ItemName:    name,
		ItemAmount:  1000,
		TargetRow:   row,
		TargetSheet: "balance_sheet",
		Confidence:  conf,
		Source:      model.SourceAI,
		NeedsReview: true,
	}
}

func ptr(v int) *int { return &v }

func pendingItems(t *testing.T, st *store.MemoryStore, project *model.Project) []model.ReviewItem {
	t.Helper()
	items, err := st.ListReviewItems(context.Background(), store.ReviewFilter{
		FirmID:    project.FirmID,
		ProjectID: project.ID,
		Status:    model.ReviewPending,
	})
	require.NoError(t, err)
	return items
}

func TestPopulateQueuesFlaggedItemsOnly(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	result := classificationWith(
		flagged("i1", "sundry debtor", ptr(64), 0.55),
		model.ClassifiedItem{ItemID: "i2", ItemName: "sales", TargetRow: ptr(5), Confidence: 1.0, Source: model.SourceRule},
	)

	queued, err := q.Populate(ctx, project, result)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	items := pendingItems(t, st, project)
	require.Len(t, items, 1)
	assert.Equal(t, "i1", items[0].ItemID)
	assert.Equal(t, 0.55, items[0].Confidence)
	assert.NotEmpty(t, items[0].Alternatives)
	assert.LessOrEqual(t, len(items[0].Alternatives), maxAlternatives)
}

func TestPopulateExcludesSuggestedRowFromAlternatives(t *testing.T) {
	q, st, project := setup(t)

	result := classificationWith(flagged("i1", "sundry debtor", ptr(64), 0.55))
	_, err := q.Populate(context.Background(), project, result)
	require.NoError(t, err)

	items := pendingItems(t, st, project)
	require.Len(t, items, 1)
	for _, alt := range items[0].Alternatives {
		assert.False(t, alt.Row == 64 && alt.Sheet == "balance_sheet")
	}
}

func TestResolveApprove(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(flagged("i1", "sundry debtor", ptr(64), 0.55)))
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	resolved, err := q.Resolve(ctx, "firm-a", project, Resolution{
		ReviewID:   item.ID,
		Action:     ActionApprove,
		ResolvedBy: "ca@firm-a",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, resolved.Status)
	assert.Equal(t, 64, *resolved.ResolvedRow)
	assert.Equal(t, "ca@firm-a", resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestResolveCorrectSavesPrecedent(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(flagged("i1", "Security Deposits", ptr(64), 0.4)))
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	resolved, err := q.Resolve(ctx, "firm-a", project, Resolution{
		ReviewID:   item.ID,
		Action:     ActionCorrect,
		Row:        ptr(68),
		Sheet:      "balance_sheet",
		ResolvedBy: "ca@firm-a",
	})
	require.NoError(t, err)
	assert.Equal(t, 68, *resolved.ResolvedRow)

	precedents, err := st.ListPrecedents(ctx, "firm-a", model.EntityTrading)
	require.NoError(t, err)
	require.Len(t, precedents, 1)
	assert.Equal(t, "security deposits", precedents[0].SourceTerm)
	assert.Equal(t, 68, precedents[0].TargetRow)
	assert.Equal(t, model.ScopeFirm, precedents[0].Scope)
}

func TestResolveApproveCapturesPrecedentByDefault(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(flagged("i1", "Telephone Charges", ptr(13), 0.6)))
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{
		ReviewID:   item.ID,
		Action:     ActionApprove,
		ResolvedBy: "ca@firm-a",
	})
	require.NoError(t, err)

	precedents, err := st.ListPrecedents(ctx, "firm-a", model.EntityTrading)
	require.NoError(t, err)
	require.Len(t, precedents, 1)
	assert.Equal(t, "telephone charges", precedents[0].SourceTerm)
	assert.Equal(t, 13, precedents[0].TargetRow)
	assert.Equal(t, model.ScopeFirm, precedents[0].Scope)
	assert.Equal(t, project.EntityType, precedents[0].EntityType)
}

func TestResolveSkipPrecedentOptsOut(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(
		flagged("i1", "sundry debtor", ptr(64), 0.55),
		flagged("i2", "one-off adjustment", ptr(25), 0.5),
	))
	require.NoError(t, err)
	items := pendingItems(t, st, project)

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{
		ReviewID:      items[0].ID,
		Action:        ActionApprove,
		SkipPrecedent: true,
	})
	require.NoError(t, err)

	// Skipped items resolve nothing, so no precedent either.
	_, err = q.Resolve(ctx, "firm-a", project, Resolution{
		ReviewID: items[1].ID,
		Action:   ActionSkip,
	})
	require.NoError(t, err)

	precedents, err := st.ListPrecedents(ctx, "firm-a", model.EntityTrading)
	require.NoError(t, err)
	assert.Empty(t, precedents)
}

func TestResolveRejectsDoubleResolution(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(flagged("i1", "sundry debtor", ptr(64), 0.55)))
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{ReviewID: item.ID, Action: ActionApprove})
	require.NoError(t, err)

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{ReviewID: item.ID, Action: ActionSkip})
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestResolveApproveWithoutSuggestion(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(flagged("i1", "mystery", nil, 0)))
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{ReviewID: item.ID, Action: ActionApprove})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suggestion")
}

func TestResolveCorrectRequiresTarget(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(flagged("i1", "sundry debtor", ptr(64), 0.55)))
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{ReviewID: item.ID, Action: ActionCorrect})
	require.Error(t, err)
}

func TestBulkResolveContinuesPastFailures(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(
		flagged("i1", "sundry debtor", ptr(64), 0.55),
		flagged("i2", "sundry creditor", ptr(25), 0.6),
	))
	require.NoError(t, err)
	items := pendingItems(t, st, project)
	require.Len(t, items, 2)

	out := q.BulkResolve(ctx, "firm-a", project, []Resolution{
		{ReviewID: "missing-id", Action: ActionApprove},
		{ReviewID: items[0].ID, Action: ActionApprove},
		{ReviewID: items[1].ID, Action: ActionSkip},
	})
	assert.Equal(t, 2, out.Resolved)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "missing-id")
}

func TestApproveAllSkipsSuggestionless(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(
		flagged("i1", "sundry debtor", ptr(64), 0.55),
		flagged("i2", "mystery", nil, 0),
	))
	require.NoError(t, err)

	out, err := q.ApproveAll(ctx, "firm-a", project, "ca@firm-a", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Resolved)
	assert.Zero(t, out.Failed)

	assert.Len(t, pendingItems(t, st, project), 1)
}

func TestApproveAllHonorsConfidenceFloor(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(
		flagged("i1", "sundry debtor", ptr(64), 0.65),
		flagged("i2", "sundry creditor", ptr(25), 0.35),
	))
	require.NoError(t, err)

	out, err := q.ApproveAll(ctx, "firm-a", project, "ca@firm-a", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Resolved)
	assert.Len(t, pendingItems(t, st, project), 1)
}

func TestApplyResolutions(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	result := classificationWith(
		flagged("i1", "Security Deposits", ptr(64), 0.4),
		model.ClassifiedItem{ItemID: "i2", ItemName: "sales", TargetRow: ptr(5), Confidence: 1.0, Source: model.SourceRule},
	)
	project.Classification = result.Data(time.Now().UTC())

	_, err := q.Populate(ctx, project, result)
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{
		ReviewID: item.ID,
		Action:   ActionCorrect,
		Row:      ptr(68),
		Sheet:    "balance_sheet",
	})
	require.NoError(t, err)

	applied, err := q.ApplyResolutions(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	var reviewed *model.ClassifiedItem
	for i := range project.Classification.Items {
		if project.Classification.Items[i].ItemID == "i1" {
			reviewed = &project.Classification.Items[i]
		}
	}
	require.NotNil(t, reviewed)
	assert.Equal(t, 68, *reviewed.TargetRow)
	assert.Equal(t, model.SourceCAReviewed, reviewed.Source)
	assert.Equal(t, 1.0, reviewed.Confidence)
	assert.False(t, reviewed.NeedsReview)

	// Untouched items keep their original mapping.
	for _, it := range project.Classification.Items {
		if it.ItemID == "i2" {
			assert.Equal(t, model.SourceRule, it.Source)
		}
	}
}

func TestReconcileDrainsQueueAndIsIdempotent(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	result := classificationWith(flagged("i1", "Security Deposits", ptr(64), 0.4))
	project.Classification = result.Data(time.Now().UTC())
	project.Status = model.StatusReviewing
	require.NoError(t, st.UpdateProject(ctx, project))

	_, err := q.Populate(ctx, project, result)
	require.NoError(t, err)
	item := pendingItems(t, st, project)[0]

	_, err = q.Resolve(ctx, "firm-a", project, Resolution{ReviewID: item.ID, Action: ActionApprove})
	require.NoError(t, err)

	out, err := q.Reconcile(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ItemsUpdated)
	assert.Equal(t, 0, out.Pending)
	assert.True(t, out.ReadyToRun)
	assert.Equal(t, model.StatusValidated, project.Status)
	assert.Equal(t, 60, project.PipelineProgress)

	// A second pass with nothing new resolved changes nothing.
	again, err := q.Reconcile(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 0, again.ItemsUpdated)
	assert.Equal(t, 0, again.Pending)
	assert.False(t, again.ReadyToRun)
}

func TestSummaryBuckets(t *testing.T) {
	q, st, project := setup(t)
	ctx := context.Background()

	_, err := q.Populate(ctx, project, classificationWith(
		flagged("i1", "sundry debtor", ptr(64), 0.55),
		flagged("i2", "sundry creditor", ptr(25), 0.3),
		flagged("i3", "mystery", nil, 0),
	))
	require.NoError(t, err)

	items := pendingItems(t, st, project)
	var first model.ReviewItem
	for _, it := range items {
		if it.ItemID == "i1" {
			first = it
		}
	}
	_, err = q.Resolve(ctx, "firm-a", project, Resolution{ReviewID: first.ID, Action: ActionApprove})
	require.NoError(t, err)

	s, err := q.Summary(ctx, "firm-a", project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalPending)
	assert.Equal(t, 1, s.TotalResolved)
	assert.Equal(t, 1, s.ItemsByConfidence["medium"])
	assert.Equal(t, 1, s.ItemsByConfidence["low"])
	assert.Equal(t, 1, s.ItemsByConfidence["very_low"])
	assert.InDelta(t, (0.55+0.3+0)/3, s.AvgConfidence, 1e-9)
}