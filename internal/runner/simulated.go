package runner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/calebturner/arbiter/internal/model"
)

const (
	minSimDelay = 50 * time.Millisecond
	maxSimDelay = 3 * time.Second
)

// Simulated produces synthetic actuals anchored on the attempt's predictions
// with bounded noise. It only fails through an injected fault, which makes
// it the default runner when no real backend is configured and the workhorse
// for retry/reroute tests.
type Simulated struct {
	kind string

	mu  sync.Mutex
	rng *rand.Rand

	// Fault, when set, is consulted before execution; a non-nil return is
	// surfaced as the execution error.
	Fault func(job *model.Job) error

	// SleepScale shrinks the simulated service time; tests set it to 0.
	SleepScale float64
}

// NewSimulated creates a simulated runner for the given resource kind.
func NewSimulated(kind string) *Simulated {
	return &Simulated{
		kind:       kind,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		SleepScale: 1,
	}
}

// Name identifies the runner variant.
func (s *Simulated) Name() string {
	return "simulated-" + s.kind
}

// Execute sleeps a bounded fraction of the predicted latency, then returns
// actuals within ±35% of the predictions. Edge executions cost a fifth of
// the prediction to mirror the cheaper price floor of on-prem hardware.
func (s *Simulated) Execute(ctx context.Context, job *model.Job, attempt *model.Attempt) (Result, error) {
	if s.Fault != nil {
		if err := s.Fault(job); err != nil {
			return Result{}, err
		}
	}

	predLat := attempt.PredictedLatencyMS
	if predLat <= 0 {
		predLat = 1000
	}
	predCost := attempt.PredictedCostUSD
	if predCost <= 0 {
		predCost = 0.01
	}

	s.mu.Lock()
	serviceFrac := 0.25 + 0.55*s.rng.Float64()
	latNoise := 0.85 + 0.5*s.rng.Float64()
	costNoise := 0.85 + 0.5*s.rng.Float64()
	s.mu.Unlock()

	delay := time.Duration(predLat*serviceFrac) * time.Millisecond
	if delay < minSimDelay {
		delay = minSimDelay
	}
	if delay > maxSimDelay {
		delay = maxSimDelay
	}
	delay = time.Duration(float64(delay) * s.SleepScale)

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	actualCost := predCost * costNoise
	if s.kind == model.ResourceEdge {
		actualCost *= 0.2
	}

	return Result{
		ActualLatencyMS: predLat * latNoise,
		ActualCostUSD:   actualCost,
		OutputRef:       fmt.Sprintf("sim://%s/%d", job.ID, attempt.AttemptNo),
	}, nil
}
