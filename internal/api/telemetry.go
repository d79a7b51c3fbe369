package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calebturner/arbiter/internal/model"
	"github.com/calebturner/arbiter/internal/store"
)

const maxBatchPoints = 1000

// batchIngestResponse reports how many points of a batch were accepted and
// which were rejected, keyed by index.
type batchIngestResponse struct {
	Accepted int            `json:"accepted"`
	Rejected map[int]string `json:"rejected,omitempty"`
}

func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var p model.TelemetryPoint
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg := s.ingestPoint(r, &p); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleIngestTelemetryBatch(w http.ResponseWriter, r *http.Request) {
	var points []model.TelemetryPoint
	r.Body = http.MaxBytesReader(w, r.Body, 8*maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&points); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(points) == 0 {
		s.writeError(w, http.StatusBadRequest, "batch is empty")
		return
	}
	if len(points) > maxBatchPoints {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d points", maxBatchPoints))
		return
	}

	resp := batchIngestResponse{}
	for i := range points {
		if msg := s.ingestPoint(r, &points[i]); msg != "" {
			if resp.Rejected == nil {
				resp.Rejected = make(map[int]string)
			}
			resp.Rejected[i] = msg
			continue
		}
		resp.Accepted++
	}

	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	p, err := s.store.LatestTelemetry(r.Context(), resourceID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no telemetry for resource")
		return
	}
	if err != nil {
		s.logger.Error("get telemetry", "resource_id", resourceID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get telemetry")
		return
	}

	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 500)

	snapshots, err := s.store.ListResourceSnapshots(r.Context(), limit)
	if err != nil {
		s.logger.Error("list resources", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list resources")
		return
	}
	if snapshots == nil {
		snapshots = []model.ResourceSnapshot{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"resources": snapshots,
		"count":     len(snapshots),
	})
}

// ingestPoint validates one telemetry point, enriches a missing price from
// the pricing service, and persists it. Returns an error message for the
// caller, or "" on success.
func (s *Server) ingestPoint(r *http.Request, p *model.TelemetryPoint) string {
	if msg := validateTelemetry(p); msg != "" {
		return msg
	}

	if p.TS.IsZero() {
		p.TS = time.Now().UTC()
	}
	if p.PricePerHourUSD <= 0 && s.pricing != nil {
		p.PricePerHourUSD = s.pricing.PricePerHour(r.Context(), p.ResourceType)
	}

	if err := s.store.InsertTelemetry(r.Context(), p); err != nil {
		s.logger.Error("insert telemetry", "resource_id", p.ResourceID, "error", err)
		return "failed to store telemetry"
	}

	telemetryIngested.WithLabelValues(p.ResourceType).Inc()
	return ""
}

func validateTelemetry(p *model.TelemetryPoint) string {
	if p.ResourceID == "" {
		return "resource_id is required"
	}
	if !model.ValidResourceType(p.ResourceType) {
		return fmt.Sprintf("unknown resource_type %q", p.ResourceType)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"cpu_util", p.CPUUtil},
		{"mem_util", p.MemUtil},
		{"gpu_util", p.GPUUtil},
		{"reliability", p.Reliability},
	} {
		if f.value < 0 || f.value > 1 {
			return f.name + " must be in [0,1]"
		}
	}
	if p.NetRTTMS < 0 || p.NetBWMbps < 0 || p.PricePerHourUSD < 0 || p.PowerW < 0 {
		return "telemetry values must be non-negative"
	}
	return ""
}
