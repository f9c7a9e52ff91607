package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caflow/cma-engine/internal/blob"
	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/config"
	"github.com/caflow/cma-engine/internal/generate"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/review"
	"github.com/caflow/cma-engine/internal/store"
)

// fakeExtractor loads a fixed merged dataset onto the project.
type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) ExtractProject(_ context.Context, project *model.Project) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	project.ExtractedData = &model.ExtractedData{
		TrialBalance: &model.MergedDocument{LineItems: []model.LineItem{
			{Name: "Sales", Amount: 1500000},
		}},
	}
	return nil
}

// fakeClassifier returns a canned result.
type fakeClassifier struct {
	result *model.ClassificationResult
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ *model.Project, _ []*model.Precedent) (*model.ClassificationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.result.Summarize()
	return f.result, nil
}

func confident(itemID string, sheet string, row int, amount float64) model.ClassifiedItem {
	return model.ClassifiedItem{
		ItemID:      itemID,
		ItemName:    itemID,
		ItemAmount:  amount,
		TargetRow:   &row,
		TargetSheet: sheet,
		Confidence:  1.0,
		Source:      model.SourceRule,
	}
}

func uncertain(itemID string, conf float64) model.ClassifiedItem {
	row := 14
	return model.ClassifiedItem{
		ItemID:      itemID,
		ItemName:    itemID,
		ItemAmount:  100,
		TargetRow:   &row,
		TargetSheet: cma.SheetOperating,
		Confidence:  conf,
		Source:      model.SourceAI,
		NeedsReview: true,
	}
}

func cleanResult() *model.ClassificationResult {
	return &model.ClassificationResult{Items: []model.ClassifiedItem{
		confident("sales", cma.SheetOperating, 5, 1500000),
	}}
}

type env struct {
	pipeline   *Pipeline
	store      *store.MemoryStore
	extractor  *fakeExtractor
	classifier *fakeClassifier
	project    *model.Project
}

func setup(t *testing.T, result *model.ClassificationResult) *env {
	t.Helper()
	st := store.NewMemory()
	bl := blob.NewMemory()
	ex := &fakeExtractor{}
	cl := &fakeClassifier{result: result}
	rq := review.NewQueue(st, classify.NewRuleLoader("", 0))
	gen := generate.New(st, bl)

	cfg := config.PipelineConfig{
		ExtractAttempts:     2,
		ExtractBackoffSecs:  0,
		ClassifyAttempts:    3,
		ClassifyBackoffSecs: 0,
	}
	p := New(cfg, st, ex, cl, rq, gen, nil)

	project := &model.Project{
		FirmID:        "firm-a",
		ClientID:      "c1",
		ClientName:    "Sharma Traders",
		EntityType:    model.EntityTrading,
		FinancialYear: "2023-24",
		Status:        model.StatusUploaded,
	}
	require.NoError(t, st.CreateProject(context.Background(), project))
	return &env{pipeline: p, store: st, extractor: ex, classifier: cl, project: project}
}

func TestRunFullPipelineCompletes(t *testing.T) {
	e := setup(t, cleanResult())
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, 100, result.Progress)
	assert.Equal(t, StopNone, result.StoppedReason)
	assert.Equal(t, model.StepOrder, result.StepsRun)

	after, err := e.store.GetProject(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, after.Status)
	assert.False(t, after.IsProcessing)
	for _, step := range model.StepOrder {
		assert.Equal(t, model.StepCompleted, after.PipelineSteps[step].Status, string(step))
	}

	files, err := e.store.ListGeneratedFiles(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRunPausesForReview(t *testing.T) {
	e := setup(t, &model.ClassificationResult{Items: []model.ClassifiedItem{
		confident("sales", cma.SheetOperating, 5, 1500000),
		uncertain("misc-1", 0.5),
		uncertain("misc-2", 0.4),
		uncertain("misc-3", 0.3),
	}})
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{AutoApproveAbove: 0.70})
	require.NoError(t, err)

	assert.Equal(t, StopAwaitingReview, result.StoppedReason)
	assert.Equal(t, 3, result.PendingReview)
	assert.Equal(t, model.StatusReviewing, result.Status)

	after, err := e.store.GetProject(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.False(t, after.IsProcessing)
	assert.Equal(t, model.StepPending, after.PipelineSteps[model.StepReview].Status)
	// Generation never ran.
	files, err := e.store.ListGeneratedFiles(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunSkipReviewAutoApproves(t *testing.T) {
	e := setup(t, &model.ClassificationResult{Items: []model.ClassifiedItem{
		confident("sales", cma.SheetOperating, 5, 1500000),
		uncertain("misc-1", 0.5),
	}})
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{SkipReview: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, StopNone, result.StoppedReason)
}

func TestRunAutoApprovesAboveThreshold(t *testing.T) {
	e := setup(t, &model.ClassificationResult{Items: []model.ClassifiedItem{
		confident("sales", cma.SheetOperating, 5, 1500000),
		uncertain("misc-1", 0.65),
	}})
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{AutoApproveAbove: 0.60})
	require.NoError(t, err)
	assert.Equal(t, StopNone, result.StoppedReason)
	assert.Equal(t, model.StatusCompleted, result.Status)

	// The approved item was folded back as reviewed.
	after, err := e.store.GetProject(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	var found bool
	for _, it := range after.Classification.Items {
		if it.ItemID == "misc-1" {
			found = true
			assert.Equal(t, model.SourceCAReviewed, it.Source)
			assert.Equal(t, 1.0, it.Confidence)
		}
	}
	assert.True(t, found)
}

func TestRunRefusesWhenAlreadyProcessing(t *testing.T) {
	e := setup(t, cleanResult())
	ctx := context.Background()

	require.NoError(t, e.store.AcquireProcessing(ctx, "firm-a", e.project.ID))

	_, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{})
	assert.ErrorIs(t, err, store.ErrProcessing)
	assert.Zero(t, e.extractor.calls)
}

func TestRunRefusesCompletedWithoutForce(t *testing.T) {
	e := setup(t, cleanResult())
	ctx := context.Background()

	e.project.Status = model.StatusCompleted
	require.NoError(t, e.store.UpdateProject(ctx, e.project))

	_, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Zero(t, e.extractor.calls)

	// Force reprocess runs the whole pipeline again.
	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{ForceReprocess: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, model.StepOrder, result.StepsRun)
}

func TestRunExtractFailureMarksError(t *testing.T) {
	e := setup(t, cleanResult())
	e.extractor.err = eris.New("extract: all 2 files failed extraction")
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, StopExtractionFailed, result.StoppedReason)
	assert.Equal(t, model.StatusError, result.Status)

	after, err := e.store.GetProject(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, after.Status)
	assert.False(t, after.IsProcessing)
	assert.Equal(t, model.StepFailed, after.PipelineSteps[model.StepExtract].Status)
	assert.NotEmpty(t, after.ErrorMessage)
	assert.Zero(t, e.classifier.calls)
}

func TestRunValidationFailureSetsValidationFailed(t *testing.T) {
	// Assets 100, liabilities 90: bs_balance fails.
	e := setup(t, &model.ClassificationResult{Items: []model.ClassifiedItem{
		confident("sales", cma.SheetOperating, 5, 1000),
		confident("assets", cma.SheetBalanceSheet, cma.RowTotalAssets, 100),
		confident("liabilities", cma.SheetBalanceSheet, cma.RowTotalLiabilities, 90),
	}})
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, StopValidationErrors, result.StoppedReason)
	assert.Equal(t, model.StatusValidationFailed, result.Status)

	files, err := e.store.ListGeneratedFiles(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunSkipValidationBypassesGate(t *testing.T) {
	e := setup(t, &model.ClassificationResult{Items: []model.ClassifiedItem{
		confident("sales", cma.SheetOperating, 5, 1000),
		confident("assets", cma.SheetBalanceSheet, cma.RowTotalAssets, 100),
		confident("liabilities", cma.SheetBalanceSheet, cma.RowTotalLiabilities, 90),
	}})
	ctx := context.Background()

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{SkipValidation: true})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, result.Status)
	files, err := e.store.ListGeneratedFiles(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRunResumeSkipsCompletedSteps(t *testing.T) {
	e := setup(t, cleanResult())
	ctx := context.Background()

	// Simulate a project already reviewed and validated.
	e.project.Status = model.StatusValidated
	e.project.Classification = cleanResult().Data(time.Now().UTC())
	e.project.PipelineSteps = model.NewPipelineSteps()
	require.NoError(t, e.store.UpdateProject(ctx, e.project))

	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{StartFrom: model.StepValidate})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, []model.StepName{model.StepValidate, model.StepGenerate}, result.StepsRun)
	assert.Zero(t, e.extractor.calls)
	assert.Zero(t, e.classifier.calls)

	after, err := e.store.GetProject(ctx, "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepSkipped, after.PipelineSteps[model.StepExtract].Status)
	assert.Equal(t, model.StepSkipped, after.PipelineSteps[model.StepClassify].Status)
}

func TestRunExtractRetriesTransient(t *testing.T) {
	e := setup(t, cleanResult())
	ctx := context.Background()

	// The fake fails permanently; linear retry still only calls it once
	// because the error is not transient.
	e.extractor.err = eris.New("corrupt workbook")
	result, err := e.pipeline.Run(ctx, "firm-a", e.project.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, StopExtractionFailed, result.StoppedReason)
	assert.Equal(t, 1, e.extractor.calls)
}

func TestRunnerExecutesInBackground(t *testing.T) {
	e := setup(t, cleanResult())
	runner := NewRunner(e.pipeline, 1, 4)
	defer runner.Shutdown()

	require.NoError(t, runner.Submit("firm-a", e.project.ID, Options{}))
	runner.Shutdown()

	after, err := e.store.GetProject(context.Background(), "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, after.Status)
	assert.False(t, after.IsProcessing)
}

func TestRunnerQueueFull(t *testing.T) {
	e := setup(t, cleanResult())
	runner := &Runner{pipeline: e.pipeline, jobs: make(chan job, 1)}

	require.NoError(t, runner.Submit("firm-a", "p1", Options{}))
	assert.ErrorIs(t, runner.Submit("firm-a", "p2", Options{}), ErrQueueFull)
}
