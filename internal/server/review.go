package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/review"
	"github.com/caflow/cma-engine/internal/store"
)

func (s *Server) listReviewItems(w http.ResponseWriter, r *http.Request) {
	filter := store.ReviewFilter{
		FirmID:    firmID(r),
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    model.ReviewStatus(r.URL.Query().Get("status")),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	items, err := s.store.ListReviewItems(r.Context(), filter)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) reviewSummary(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	summary, err := s.reviews.Summary(r.Context(), firmID(r), projectID)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, summary)
}

func (s *Server) getReviewItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetReviewItem(r.Context(), firmID(r), chi.URLParam(r, "reviewID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, item)
}

type resolveRequest struct {
	Action         review.Action        `json:"action"`
	Row            *int                 `json:"row,omitempty"`
	Sheet          string               `json:"sheet,omitempty"`
	ResolvedBy     string               `json:"resolved_by,omitempty"`
	SkipPrecedent  bool                 `json:"skip_precedent"`
	PrecedentScope model.PrecedentScope `json:"precedent_scope,omitempty"`
}

// resolveReviewItem applies one decision and folds it back into the
// project's classification. Draining the queue moves the project to
// validated, ready to resume.
func (s *Server) resolveReviewItem(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	if req.Action == review.ActionCorrect && (req.Row == nil || req.Sheet == "") {
		respondError(w, http.StatusBadRequest, "correction requires a row and sheet")
		return
	}

	item, err := s.store.GetReviewItem(r.Context(), firmID(r), chi.URLParam(r, "reviewID"))
	if err != nil {
		fail(w, err)
		return
	}
	project, err := s.store.GetProject(r.Context(), firmID(r), item.ProjectID)
	if err != nil {
		fail(w, err)
		return
	}

	resolved, err := s.reviews.Resolve(r.Context(), firmID(r), project, review.Resolution{
		ReviewID:       item.ID,
		Action:         req.Action,
		Row:            req.Row,
		Sheet:          req.Sheet,
		ResolvedBy:     req.ResolvedBy,
		SkipPrecedent:  req.SkipPrecedent,
		PrecedentScope: req.PrecedentScope,
	})
	if err != nil {
		fail(w, err)
		return
	}

	recon, err := s.reviews.Reconcile(r.Context(), project)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"item": resolved, "reconcile": recon})
}

type bulkResolveRequest struct {
	ProjectID   string              `json:"project_id"`
	Resolutions []review.Resolution `json:"resolutions"`
}

func (s *Server) bulkResolve(w http.ResponseWriter, r *http.Request) {
	var req bulkResolveRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" || len(req.Resolutions) == 0 {
		respondError(w, http.StatusBadRequest, "project_id and resolutions are required")
		return
	}

	project, err := s.store.GetProject(r.Context(), firmID(r), req.ProjectID)
	if err != nil {
		fail(w, err)
		return
	}

	result := s.reviews.BulkResolve(r.Context(), firmID(r), project, req.Resolutions)
	recon, err := s.reviews.Reconcile(r.Context(), project)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"result": result, "reconcile": recon})
}

type approveAllRequest struct {
	ProjectID     string  `json:"project_id"`
	ResolvedBy    string  `json:"resolved_by,omitempty"`
	MinConfidence float64 `json:"min_confidence"`
}

func (s *Server) approveAll(w http.ResponseWriter, r *http.Request) {
	var req approveAllRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	project, err := s.store.GetProject(r.Context(), firmID(r), req.ProjectID)
	if err != nil {
		fail(w, err)
		return
	}

	result, err := s.reviews.ApproveAll(r.Context(), firmID(r), project, req.ResolvedBy, req.MinConfidence)
	if err != nil {
		fail(w, err)
		return
	}
	recon, err := s.reviews.Reconcile(r.Context(), project)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"result": result, "reconcile": recon})
}

// cmaRows serves the form layout the review UI renders row pickers from.
func (s *Server) cmaRows(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, cma.RowsBySheet())
}
