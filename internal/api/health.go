package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

// listRunnersResponse names the resource types with a registered runner.
type listRunnersResponse struct {
	ResourceTypes []string `json:"resource_types"`
}

func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listRunnersResponse{ResourceTypes: s.runners.List()})
}
