package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/makr-code/loraforge/internal/auth"
	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/hub"
)

// submitJobRequest is the wire shape of POST /api/jobs.
type submitJobRequest struct {
	TrainerKind domain.TrainerKind `json:"trainerKind"`
	ConfigRef   string             `json:"configRef"`
	DatasetRef  string             `json:"datasetRef,omitempty"`
	Priority    int                `json:"priority,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body submitJobRequest
	if !DecodeJSON(w, r, &body) {
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	if err := s.gate.Authorize(principal, auth.SubmitOperation(body.TrainerKind)); err != nil {
		WriteJobError(w, err)
		return
	}

	priority := body.Priority
	if priority == 0 {
		priority = domain.DefaultPriority
	}

	submittedBy := ""
	if principal != nil {
		submittedBy = principal.UserID
	}

	id, err := s.manager.Submit(domain.SubmitRequest{
		TrainerKind: body.TrainerKind,
		ConfigRef:   body.ConfigRef,
		DatasetRef:  body.DatasetRef,
		Priority:    priority,
		SubmittedBy: submittedBy,
		Tags:        body.Tags,
	})
	if err != nil {
		WriteJobError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{"jobID": id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	if err := s.gate.Authorize(principal, auth.OpReadJobs); err != nil {
		WriteJobError(w, err)
		return
	}

	job, err := s.manager.Get(jobID)
	if err != nil {
		WriteJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	if err := s.gate.Authorize(principal, auth.OpReadJobs); err != nil {
		WriteJobError(w, err)
		return
	}

	filter := domain.ListFilter{}
	q := r.URL.Query()

	if status := q.Get("status"); status != "" {
		filter.Status = map[domain.JobStatus]bool{domain.JobStatus(status): true}
	}
	if kind := q.Get("trainerKind"); kind != "" {
		filter.TrainerKind = map[domain.TrainerKind]bool{domain.TrainerKind(kind): true}
	}
	filter.SubmittedBy = q.Get("submittedBy")

	jobs := s.manager.List(filter)

	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	job, err := s.manager.Get(jobID)
	if err != nil {
		WriteJobError(w, err)
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	if err := s.gate.AuthorizeCancel(principal, job.TrainerKind, job.SubmittedBy); err != nil {
		WriteJobError(w, err)
		return
	}

	if err := s.manager.Cancel(jobID); err != nil {
		WriteJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.Server.AllowAnonymousMetrics {
		principal := auth.PrincipalFromContext(r.Context())
		if err := s.gate.Authorize(principal, auth.OpReadJobs); err != nil {
			WriteJobError(w, err)
			return
		}
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// routeJobs dispatches /api/jobs/{id} and /api/jobs/{id}/cancel.
func (s *Server) routeJobs(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.SplitN(path, "/", 2)
	jobID := parts[0]
	if jobID == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 2 {
		if parts[1] != "cancel" {
			WriteError(w, http.StatusNotFound, "not found")
			return
		}
		s.handleCancelJob(w, r, jobID)
		return
	}
	s.handleGetJob(w, r, jobID)
}

// handleJobsWS handles GET /api/jobs/ws — the live-update endpoint. A
// ?jobID= query param subscribes to that job only; ?jobID=* or an absent
// jobID subscribes to every job the caller's role allows through
// OpReadJobs.
func (s *Server) handleJobsWS(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	if err := s.gate.Authorize(principal, auth.OpReadJobs); err != nil {
		WriteJobError(w, err)
		return
	}

	jobID := r.URL.Query().Get("jobID")
	filter := hub.Filter{Wildcard: true}
	if jobID != "" && jobID != "*" {
		filter = hub.Filter{JobID: jobID}
	}

	sub, _, err := s.manager.Observe(filter)
	if err != nil {
		WriteJobError(w, err)
		return
	}

	s.serveJobsWS(w, r, sub)
}
