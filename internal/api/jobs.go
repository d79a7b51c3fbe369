package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calebturner/arbiter/internal/model"
	"github.com/calebturner/arbiter/internal/store"
)

const (
	defaultListLimit  = 20
	maxListLimit      = 100
	defaultEventLimit = 100
	maxBodySize       = 1 << 20 // 1 MB
)

// createJobRequest is the JSON body for POST /v1/jobs.
type createJobRequest struct {
	Requirements model.Requirements `json:"requirements"`

	// MaxAttempts overrides the server default when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// jobDetailResponse is the job plus its attempt lineage, ordered by attempt_no.
type jobDetailResponse struct {
	Job      *model.Job       `json:"job"`
	Attempts []*model.Attempt `json:"attempts"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg := validateRequirements(&req.Requirements); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	maxAttempts := s.maxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:           model.NewID(),
		Requirements: req.Requirements,
		Status:       model.StatusQueued,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, store.ErrInvalidRequirements) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := s.store.AddJobEvent(r.Context(), job.ID,
		model.EventSubmitted, "job_type="+job.Requirements.JobType); err != nil {
		s.logger.Error("add submitted event", "job_id", job.ID, "error", err)
	}
	jobsSubmitted.Inc()

	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	attempts, err := s.store.ListAttempts(r.Context(), id)
	if err != nil {
		s.logger.Error("list attempts", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []*model.Attempt{}
	}

	s.writeJSON(w, http.StatusOK, jobDetailResponse{Job: job, Attempts: attempts})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	limit := parseIntQuery(r, "limit", defaultEventLimit)
	events, err := s.store.ListJobEvents(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("list job events", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list job events")
		return
	}
	if events == nil {
		events = []model.JobEvent{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.CancelJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		s.writeError(w, http.StatusConflict, "job is already terminal")
		return
	}
	if err != nil {
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	if err := s.store.AddJobEvent(r.Context(), id, model.EventCancelled, "cancelled via api"); err != nil {
		s.logger.Error("add cancelled event", "job_id", id, "error", err)
	}

	s.writeJSON(w, http.StatusOK, job)
}

// validateRequirements rejects malformed job requirements before they reach
// the queue. Returns an empty string when the requirements are acceptable.
func validateRequirements(req *model.Requirements) string {
	switch req.JobType {
	case model.JobTypeBatch, model.JobTypeInference, model.JobTypeTraining:
	case "":
		return "job_type is required"
	default:
		return fmt.Sprintf("unknown job_type %q", req.JobType)
	}

	if req.Urgency < 0 || req.Urgency > 1 {
		return "urgency must be in [0,1]"
	}
	if req.PayloadSizeMB < 0 {
		return "payload_size_mb must be non-negative"
	}
	if req.SLA.Empty() {
		return "at least one SLA threshold is required"
	}
	if v := req.SLA.MinReliability; v != nil && (*v < 0 || *v > 1) {
		return "sla.min_reliability must be in [0,1]"
	}
	if ft := req.Hints.ForceResourceType; ft != "" && !model.ValidResourceType(ft) {
		return fmt.Sprintf("unknown force_resource_type %q", ft)
	}
	if req.RequiresGPU && req.Hints.ForceResourceType != "" && req.Hints.ForceResourceType != model.ResourceGPU {
		return "requires_gpu conflicts with force_resource_type"
	}
	return ""
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
