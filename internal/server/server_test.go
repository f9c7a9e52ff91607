package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caflow/cma-engine/internal/blob"
	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/config"
	"github.com/caflow/cma-engine/internal/generate"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/pipeline"
	"github.com/caflow/cma-engine/internal/review"
	"github.com/caflow/cma-engine/internal/store"
)

type stubExtractor struct{}

func (stubExtractor) ExtractProject(_ context.Context, project *model.Project) error {
	project.ExtractedData = &model.ExtractedData{
		TrialBalance: &model.MergedDocument{LineItems: []model.LineItem{
			{Name: "Sales", Amount: 1500000},
		}},
	}
	return nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, _ *model.Project, _ []*model.Precedent) (*model.ClassificationResult, error) {
	row := cma.RowNetSales
	result := &model.ClassificationResult{Items: []model.ClassifiedItem{{
		ItemID:      "sales",
		ItemName:    "Sales",
		ItemAmount:  1500000,
		TargetRow:   &row,
		TargetSheet: cma.SheetOperating,
		Confidence:  1.0,
		Source:      model.SourceRule,
	}}}
	result.Summarize()
	return result, nil
}

type testEnv struct {
	store   *store.MemoryStore
	queue   *review.Queue
	runner  *pipeline.Runner
	handler http.Handler
	project *model.Project
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	bl := blob.NewMemory()
	rq := review.NewQueue(st, classify.NewRuleLoader("", 0))
	gen := generate.New(st, bl)

	p := pipeline.New(config.PipelineConfig{ExtractAttempts: 1, ClassifyAttempts: 1},
		st, stubExtractor{}, stubClassifier{}, rq, gen, nil)
	runner := pipeline.NewRunner(p, 1, 4)
	t.Cleanup(runner.Shutdown)

	srv := New(config.ServerConfig{AllowedOrigins: []string{"*"}}, st, runner, rq, gen)

	project := &model.Project{
		FirmID:        "firm-a",
		ClientID:      "c1",
		ClientName:    "Sharma Traders",
		EntityType:    model.EntityTrading,
		FinancialYear: "2023-24",
		Status:        model.StatusUploaded,
	}
	require.NoError(t, st.CreateProject(context.Background(), project))

	return &testEnv{store: st, queue: rq, runner: runner, handler: srv.Handler(), project: project}
}

func (e *testEnv) addUploadedFile(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.CreateUploadedFile(context.Background(), &model.UploadedFile{
		FirmID:    "firm-a",
		ProjectID: e.project.ID,
		FileName:  "trial_balance.xlsx",
		FileType:  "xlsx",
	}))
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Firm-ID", "firm-a")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFirmHeaderRequired(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessRequiresUploadedFiles(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/process", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProcessAcceptedAndRuns(t *testing.T) {
	e := newEnv(t)
	e.addUploadedFile(t)

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/process",
		map[string]any{"skip_review": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "processing started", body["message"])
	assert.Equal(t, float64(17), body["estimated_seconds"])

	// Drain the background run, then the project should be done.
	e.runner.Shutdown()
	after, err := e.store.GetProject(context.Background(), "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, after.Status)
}

func TestProcessConflictsWhileRunning(t *testing.T) {
	e := newEnv(t)
	e.addUploadedFile(t)
	e.project.IsProcessing = true
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/process", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessCompletedRequiresForce(t *testing.T) {
	e := newEnv(t)
	e.addUploadedFile(t)
	e.project.Status = model.StatusCompleted
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/process", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/process",
		map[string]any{"force_reprocess": true})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRetryOnlyWhenErrored(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryResumesAtFailedStep(t *testing.T) {
	e := newEnv(t)
	e.addUploadedFile(t)
	e.project.Status = model.StatusError
	e.project.PipelineSteps = model.NewPipelineSteps()
	e.project.PipelineSteps[model.StepExtract] = model.StepState{Status: model.StepCompleted}
	e.project.PipelineSteps[model.StepClassify] = model.StepState{Status: model.StepFailed}
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "classify", body["from_step"])
}

func TestResumeOnlyAfterReview(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProgressFreshProject(t *testing.T) {
	e := newEnv(t)
	e.project.PipelineSteps = model.NewPipelineSteps()
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodGet, "/api/v1/projects/"+e.project.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(17), body["estimated_remaining_seconds"])
	steps, ok := body["steps"].([]any)
	require.True(t, ok)
	assert.Len(t, steps, 5)
}

func TestProgressClassifyFailureCarriesHint(t *testing.T) {
	e := newEnv(t)
	e.project.Status = model.StatusError
	e.project.ErrorMessage = "classify: anthropic request failed"
	e.project.PipelineSteps = model.NewPipelineSteps()
	e.project.PipelineSteps[model.StepClassify] = model.StepState{Status: model.StepFailed}
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodGet, "/api/v1/projects/"+e.project.ID+"/progress", nil)
	body := decodeBody(t, rec)
	assert.Equal(t, "AI may be rate-limited, retry shortly", body["hint"])
}

func TestValidateWithoutClassification(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/validate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func classificationWith(items ...model.ClassifiedItem) *model.ClassificationData {
	result := &model.ClassificationResult{Items: items}
	result.Summarize()
	return result.Data(time.Now().UTC())
}

func TestValidateReportsImbalance(t *testing.T) {
	e := newEnv(t)
	sales, assets, liabilities := cma.RowNetSales, cma.RowTotalAssets, cma.RowTotalLiabilities
	e.project.Classification = classificationWith(
		model.ClassifiedItem{ItemID: "s", ItemName: "Sales", ItemAmount: 1000, TargetRow: &sales, TargetSheet: cma.SheetOperating, Confidence: 1, Source: model.SourceRule},
		model.ClassifiedItem{ItemID: "a", ItemName: "Total Assets", ItemAmount: 100, TargetRow: &assets, TargetSheet: cma.SheetBalanceSheet, Confidence: 1, Source: model.SourceRule},
		model.ClassifiedItem{ItemID: "l", ItemName: "Total Liabilities", ItemAmount: 90, TargetRow: &liabilities, TargetSheet: cma.SheetBalanceSheet, Confidence: 1, Source: model.SourceRule},
	)
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["can_generate"])
}

func TestGenerateGateRefusal(t *testing.T) {
	e := newEnv(t)
	assets, liabilities := cma.RowTotalAssets, cma.RowTotalLiabilities
	e.project.Classification = classificationWith(
		model.ClassifiedItem{ItemID: "a", ItemName: "Total Assets", ItemAmount: 100, TargetRow: &assets, TargetSheet: cma.SheetBalanceSheet, Confidence: 1, Source: model.SourceRule},
		model.ClassifiedItem{ItemID: "l", ItemName: "Total Liabilities", ItemAmount: 90, TargetRow: &liabilities, TargetSheet: cma.SheetBalanceSheet, Confidence: 1, Source: model.SourceRule},
	)
	require.NoError(t, e.store.UpdateProject(context.Background(), e.project))

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/generate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCmaRowsConfig(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/review-queue/config/cma-rows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, cma.SheetOperating)
	assert.Contains(t, body, cma.SheetBalanceSheet)
}

// seedReview puts the project into reviewing with one pending item.
func (e *testEnv) seedReview(t *testing.T) *model.ReviewItem {
	t.Helper()
	ctx := context.Background()
	row := 14
	e.project.Status = model.StatusReviewing
	e.project.Classification = classificationWith(model.ClassifiedItem{
		ItemID: "misc-1", ItemName: "Misc Expenses", ItemAmount: 5000,
		TargetRow: &row, TargetSheet: cma.SheetOperating,
		Confidence: 0.5, Source: model.SourceAI, NeedsReview: true,
	})
	require.NoError(t, e.store.UpdateProject(ctx, e.project))

	_, err := e.queue.Populate(ctx, e.project, &model.ClassificationResult{
		Items: e.project.Classification.Items,
	})
	require.NoError(t, err)

	items, err := e.store.ListReviewItems(ctx, store.ReviewFilter{FirmID: "firm-a", ProjectID: e.project.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return &items[0]
}

func TestListReviewItemsFiltersByStatus(t *testing.T) {
	e := newEnv(t)
	e.seedReview(t)

	rec := e.do(t, http.MethodGet, "/api/v1/review-queue/?project_id="+e.project.ID+"&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	rec = e.do(t, http.MethodGet, "/api/v1/review-queue/?project_id="+e.project.ID+"&status=resolved", nil)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(0), body["count"])
}

func TestResolveApproveDrainsQueue(t *testing.T) {
	e := newEnv(t)
	item := e.seedReview(t)

	rec := e.do(t, http.MethodPost, "/api/v1/review-queue/"+item.ID+"/resolve",
		map[string]any{"action": "approve", "resolved_by": "ca-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	recon := body["reconcile"].(map[string]any)
	assert.Equal(t, float64(1), recon["items_updated"])
	assert.Equal(t, float64(0), recon["pending"])
	assert.Equal(t, true, recon["ready_to_run"])

	// The queue drained, so the project is ready to resume at validation.
	after, err := e.store.GetProject(context.Background(), "firm-a", e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, after.Status)

	// Resolutions are final.
	rec = e.do(t, http.MethodPost, "/api/v1/review-queue/"+item.ID+"/resolve",
		map[string]any{"action": "approve"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveCorrectRequiresRowAndSheet(t *testing.T) {
	e := newEnv(t)
	item := e.seedReview(t)

	rec := e.do(t, http.MethodPost, "/api/v1/review-queue/"+item.ID+"/resolve",
		map[string]any{"action": "correct"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveAllEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seedReview(t)

	rec := e.do(t, http.MethodPost, "/api/v1/review-queue/approve-all",
		map[string]any{"project_id": e.project.ID, "resolved_by": "ca-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(1), result["resolved"])
	recon := body["reconcile"].(map[string]any)
	assert.Equal(t, true, recon["ready_to_run"])
}

func TestReviewSummaryEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seedReview(t)

	rec := e.do(t, http.MethodGet, "/api/v1/review-queue/summary?project_id="+e.project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_pending"])
}
