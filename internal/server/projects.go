package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/pipeline"
	"github.com/caflow/cma-engine/internal/store"
	"github.com/caflow/cma-engine/internal/validate"
)

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	filter := store.ProjectFilter{
		FirmID: firmID(r),
		Status: model.ProjectStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	projects, err := s.store.ListProjects(r.Context(), filter)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, project)
}

func (s *Server) listGeneratedFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListGeneratedFiles(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

type processRequest struct {
	SkipReview       bool     `json:"skip_review"`
	SkipValidation   bool     `json:"skip_validation"`
	ForceReprocess   bool     `json:"force_reprocess"`
	AutoApproveAbove float64  `json:"auto_approve_above"`
	NotifyOnReview   bool     `json:"notify_on_review"`
	Recipients       []string `json:"recipients"`
}

// processProject kicks off a full pipeline run in the background. The
// response is a 202 with a time estimate; progress is polled separately.
func (s *Server) processProject(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	if project.IsProcessing {
		fail(w, store.ErrProcessing)
		return
	}
	if project.Status == model.StatusCompleted && !req.ForceReprocess {
		respondError(w, http.StatusConflict, "project is already completed; set force_reprocess to run again")
		return
	}

	files, err := s.store.ListUploadedFiles(r.Context(), project.FirmID, project.ID)
	if err != nil {
		fail(w, err)
		return
	}
	if len(files) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "project has no uploaded files")
		return
	}

	opts := pipeline.Options{
		SkipReview:       req.SkipReview,
		SkipValidation:   req.SkipValidation,
		ForceReprocess:   req.ForceReprocess,
		AutoApproveAbove: req.AutoApproveAbove,
		NotifyOnReview:   req.NotifyOnReview,
		Recipients:       req.Recipients,
	}
	if err := s.runner.Submit(project.FirmID, project.ID, opts); err != nil {
		fail(w, err)
		return
	}

	respond(w, http.StatusAccepted, map[string]any{
		"message":           "processing started",
		"project_id":        project.ID,
		"estimated_seconds": estimateFrom(model.StepExtract),
	})
}

type retryRequest struct {
	FromStep string `json:"from_step,omitempty"`
}

// retryProject re-runs an errored pipeline. Without an explicit step it
// resumes at the step that failed.
func (s *Server) retryProject(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	if project.Status != model.StatusError {
		respondError(w, http.StatusConflict, "retry is only valid for errored projects")
		return
	}

	step := model.StepName(req.FromStep)
	if step == "" {
		step = failedStep(project)
	}
	if model.StepIndex(step) < 0 {
		respondError(w, http.StatusBadRequest, "unknown step "+string(step))
		return
	}

	if err := s.runner.Submit(project.FirmID, project.ID, pipeline.Options{StartFrom: step}); err != nil {
		fail(w, err)
		return
	}

	respond(w, http.StatusAccepted, map[string]any{
		"message":           "retry started",
		"project_id":        project.ID,
		"from_step":         step,
		"estimated_seconds": estimateFrom(step),
	})
}

type resumeRequest struct {
	SkipValidation bool `json:"skip_validation"`
}

// resumeProject continues a run that paused for review. Outstanding
// resolutions are folded in first, then the run restarts at validation.
func (s *Server) resumeProject(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	if project.Status != model.StatusReviewing && project.Status != model.StatusValidated {
		respondError(w, http.StatusConflict, "resume is only valid while reviewing or after review")
		return
	}

	if project.Classification != nil {
		if _, err := s.reviews.Reconcile(r.Context(), project); err != nil {
			fail(w, err)
			return
		}
	}

	opts := pipeline.Options{StartFrom: model.StepValidate, SkipValidation: req.SkipValidation}
	if err := s.runner.Submit(project.FirmID, project.ID, opts); err != nil {
		fail(w, err)
		return
	}

	respond(w, http.StatusAccepted, map[string]any{
		"message":           "resume started",
		"project_id":        project.ID,
		"estimated_seconds": estimateFrom(model.StepValidate),
	})
}

type stepProgressView struct {
	Name        model.StepName   `json:"name"`
	Status      model.StepStatus `json:"status"`
	StartedAt   any              `json:"started_at,omitempty"`
	CompletedAt any              `json:"completed_at,omitempty"`
	DurationMS  int64            `json:"duration_ms,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func (s *Server) projectProgress(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}

	steps := make([]stepProgressView, 0, len(model.StepOrder))
	var current model.StepName
	remaining := 0
	for _, name := range model.StepOrder {
		state := project.PipelineSteps[name]
		steps = append(steps, stepProgressView{
			Name:        name,
			Status:      state.Status,
			StartedAt:   state.StartedAt,
			CompletedAt: state.CompletedAt,
			DurationMS:  state.DurationMS,
			Error:       state.Error,
		})
		switch state.Status {
		case model.StepRunning:
			current = name
			remaining += pipeline.EstimatedStepSeconds[name]
		case model.StepPending:
			remaining += pipeline.EstimatedStepSeconds[name]
		}
	}

	resp := map[string]any{
		"project_id":                  project.ID,
		"status":                      project.Status,
		"progress":                    project.PipelineProgress,
		"is_processing":               project.IsProcessing,
		"current_step":                current,
		"steps":                       steps,
		"estimated_remaining_seconds": remaining,
	}
	if project.ErrorMessage != "" {
		resp["error_message"] = project.ErrorMessage
	}
	if project.Status == model.StatusError && failedStep(project) == model.StepClassify {
		resp["hint"] = "AI may be rate-limited, retry shortly"
	}
	respond(w, http.StatusOK, resp)
}

// validateProject runs the validation checks on demand without touching
// project state.
func (s *Server) validateProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	if project.Classification == nil {
		respondError(w, http.StatusUnprocessableEntity, "project has no classification data")
		return
	}
	result := validate.Run(project.Classification, project.EntityType, timeNow())
	respond(w, http.StatusOK, result)
}

type generateRequest struct {
	SkipValidation bool `json:"skip_validation"`
}

// generateProject builds the next workbook version synchronously.
func (s *Server) generateProject(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.store.GetProject(r.Context(), firmID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, err)
		return
	}
	if project.IsProcessing {
		fail(w, store.ErrProcessing)
		return
	}
	if project.Classification == nil {
		respondError(w, http.StatusUnprocessableEntity, "project has no classification data")
		return
	}

	result, err := s.gen.Generate(r.Context(), project, req.SkipValidation)
	if err != nil {
		fail(w, err)
		return
	}
	if !result.Success {
		respond(w, http.StatusUnprocessableEntity, result)
		return
	}
	respond(w, http.StatusOK, result)
}

// failedStep returns the step whose state is failed, falling back to the
// status-derived next step.
func failedStep(project *model.Project) model.StepName {
	for _, name := range model.StepOrder {
		if project.PipelineSteps[name].Status == model.StepFailed {
			return name
		}
	}
	return model.NextStepFor(project.Status)
}

// estimateFrom sums the per-step time table from the given step onward.
func estimateFrom(start model.StepName) int {
	total := 0
	for i := model.StepIndex(start); i >= 0 && i < len(model.StepOrder); i++ {
		total += pipeline.EstimatedStepSeconds[model.StepOrder[i]]
	}
	return total
}
