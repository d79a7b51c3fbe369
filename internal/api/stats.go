package api

import (
	"net/http"

	"github.com/calebturner/arbiter/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	ByStatus          map[string]int `json:"by_status"`
	CompletedAttempts int            `json:"completed_attempts"`
	LatencyMAEMS      float64        `json:"latency_mae_ms"`
	CostMAEUSD        float64        `json:"cost_mae_usd"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		ByStatus:          stats.CountByStatus,
		CompletedAttempts: stats.CompletedAttempts,
		LatencyMAEMS:      stats.LatencyMAEMS,
		CostMAEUSD:        stats.CostMAEUSD,
	})
}

func (s *Server) handleListSLAEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}

	events, err := s.store.ListSLAEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sla events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sla events")
		return
	}
	if events == nil {
		events = []store.SLAEvent{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
