// Package router ranks execution resources for a job from live telemetry.
// Routing is a pure function of the job's requirements, the resource
// snapshot it is given, and a provenance timestamp; it holds no locks and
// touches no storage.
package router

import (
	"errors"
	"sort"
	"time"

	"github.com/calebturner/arbiter/internal/config"
	"github.com/calebturner/arbiter/internal/model"
)

// ErrNoResourcesAvailable is returned when no resource survives eligibility
// and hard-constraint filtering. Callers must treat this as a dispatch
// failure, not a transient error.
var ErrNoResourcesAvailable = errors.New("no resources available for requirements")

// Candidate is one ranked resource with the predictions and SLA flags the
// ranking was based on. The violation list explains why a resource scored
// the way it did.
type Candidate struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`

	PredictedLatencyMS float64 `json:"predicted_latency_ms"`
	PredictedCostUSD   float64 `json:"predicted_cost_usd"`
	Score              float64 `json:"score"`

	SLAOK      bool              `json:"sla_ok"`
	Violations []model.Violation `json:"sla_violations"`

	Features Features `json:"features"`
}

// Engine scores and ranks resources. Construct once with the scoring
// parameters; Route is safe for concurrent use.
type Engine struct {
	scoring config.Scoring
}

// NewEngine creates a routing engine with the given scoring parameters.
func NewEngine(scoring config.Scoring) *Engine {
	return &Engine{scoring: scoring}
}

// Route ranks the eligible resources in snapshot for the given requirements,
// ascending by score with ties broken by predicted latency then resource id.
// Resources violating any hard SLA threshold are excluded entirely. extraExclude
// lists resource IDs to skip on top of the requirement hints (used by the
// reroute path). Returns ErrNoResourcesAvailable when nothing ranks.
func (e *Engine) Route(req *model.Requirements, snapshot []model.ResourceSnapshot, extraExclude []string, now time.Time) ([]Candidate, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoResourcesAvailable
	}

	excluded := make(map[string]bool, len(extraExclude)+len(req.Hints.ExcludeResourceIDs))
	for _, id := range req.Hints.ExcludeResourceIDs {
		excluded[id] = true
	}
	for _, id := range extraExclude {
		excluded[id] = true
	}

	var candidates []Candidate
	for _, snap := range snapshot {
		t := snap.Last
		if !eligible(&t, req, excluded) {
			continue
		}

		f := buildFeatures(&t, req, now)
		latency := predictLatencyMS(f)
		cost := predictCostUSD(f)
		violations := checkSLA(req.SLA, latency, cost, t.Reliability)

		if hasHard(violations) {
			continue
		}

		candidates = append(candidates, Candidate{
			ResourceID:         t.ResourceID,
			ResourceType:       t.ResourceType,
			PredictedLatencyMS: latency,
			PredictedCostUSD:   cost,
			Score:              score(e.scoring, f, latency, cost, violations),
			SLAOK:              len(violations) == 0,
			Violations:         violations,
			Features:           f,
		})
	}

	if len(candidates) == 0 {
		return nil, ErrNoResourcesAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.PredictedLatencyMS != b.PredictedLatencyMS {
			return a.PredictedLatencyMS < b.PredictedLatencyMS
		}
		return a.ResourceID < b.ResourceID
	})

	return candidates, nil
}

// eligible applies type constraints and routing hints before scoring.
func eligible(t *model.TelemetryPoint, req *model.Requirements, excluded map[string]bool) bool {
	if excluded[t.ResourceID] {
		return false
	}
	if req.RequiresGPU && t.ResourceType != model.ResourceGPU {
		return false
	}
	if ft := req.Hints.ForceResourceType; ft != "" && t.ResourceType != ft {
		return false
	}
	if fid := req.Hints.ForceResourceID; fid != "" && t.ResourceID != fid {
		return false
	}
	return true
}

func hasHard(violations []model.Violation) bool {
	for _, v := range violations {
		if v.Hard {
			return true
		}
	}
	return false
}
