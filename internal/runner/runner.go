// Package runner provides the execution capability behind the dispatch
// worker. A Runner takes a claimed job and the attempt's chosen resource and
// produces actual latency/cost figures. Implementations are selected per
// resource type through the Registry, so the worker and queue never know
// which variant is running.
package runner

import (
	"context"

	"github.com/calebturner/arbiter/internal/model"
)

// Result holds the actuals produced by executing one attempt.
type Result struct {
	ActualLatencyMS float64 `json:"actual_latency_ms"`
	ActualCostUSD   float64 `json:"actual_cost_usd"`
	OutputRef       string  `json:"output_ref"`
}

// Runner executes a job against a specific resource. The context carries the
// per-attempt deadline; implementations must return promptly once it expires.
type Runner interface {
	Execute(ctx context.Context, job *model.Job, attempt *model.Attempt) (Result, error)

	// Name identifies the runner variant in logs and attempt metadata.
	Name() string
}
