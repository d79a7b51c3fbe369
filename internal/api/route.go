package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/calebturner/arbiter/internal/model"
	"github.com/calebturner/arbiter/internal/router"
)

// routeRequest is the JSON body for POST /v1/route: a what-if ranking of the
// current resource pool against hypothetical requirements. No job is created.
type routeRequest struct {
	Requirements model.Requirements `json:"requirements"`
}

type routeResponse struct {
	Candidates  []router.Candidate `json:"candidates"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg := validateRequirements(&req.Requirements); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	snapshots, err := s.store.ListResourceSnapshots(r.Context(), 500)
	if err != nil {
		s.logger.Error("list resources for routing", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load resource snapshot")
		return
	}

	now := time.Now().UTC()
	candidates, err := s.engine.Route(&req.Requirements, snapshots, nil, now)
	if errors.Is(err, router.ErrNoResourcesAvailable) {
		routeRequests.WithLabelValues("none").Inc()
		s.writeError(w, http.StatusConflict, "no resources available for requirements")
		return
	}
	if err != nil {
		s.logger.Error("route", "error", err)
		s.writeError(w, http.StatusInternalServerError, "routing failed")
		return
	}

	routeRequests.WithLabelValues(candidates[0].ResourceType).Inc()
	s.writeJSON(w, http.StatusOK, routeResponse{Candidates: candidates, EvaluatedAt: now})
}
