package store

import (
	"context"
	"errors"
	"time"

	"github.com/calebturner/arbiter/internal/model"
)

// ErrNotFound is returned when a job or attempt does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidRequirements is returned by CreateJob when the requirements
// specify no SLA threshold at all.
var ErrInvalidRequirements = errors.New("requirements must set at least one SLA threshold")

// ErrNoJobs is returned by ClaimNext when nothing is claimable.
var ErrNoJobs = errors.New("no claimable jobs")

// ErrAlreadyFinalized is returned when resolving an attempt that has already
// left the running state. Finalized attempts are immutable.
var ErrAlreadyFinalized = errors.New("attempt already finalized")

// Outcome kinds consumed by ResolveAttempt.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetryable = "retryable"
)

// Outcome is the result of executing one attempt. Exactly one of the actuals
// group (Kind=completed) or the error group (failed/retryable) is meaningful.
type Outcome struct {
	Kind string

	ActualLatencyMS float64
	ActualCostUSD   float64
	OutputRef       string

	ErrorClass   string
	ErrorMessage string
	ErrorTrace   string
}

// Resolution reports what ResolveAttempt decided: the job's resulting status
// and, when the attempt was marked retry, when it becomes claimable again.
type Resolution struct {
	JobStatus string
	Retried   bool
	NextRunAt time.Time
}

// SLAEvent is one entry in the SLA violation feed: an attempt whose frozen
// routing decision carried violations.
type SLAEvent struct {
	JobID              string            `json:"job_id"`
	AttemptID          string            `json:"attempt_id"`
	ResourceID         string            `json:"resource_id"`
	ResourceType       string            `json:"resource_type"`
	PredictedLatencyMS float64           `json:"predicted_latency_ms"`
	PredictedCostUSD   float64           `json:"predicted_cost_usd"`
	Violations         []model.Violation `json:"violations"`
	StartedAt          time.Time         `json:"started_at"`
}

// Stats holds aggregate queue and prediction-accuracy figures derived from
// persisted jobs and attempts.
type Stats struct {
	CountByStatus     map[string]int `json:"count_by_status"`
	CompletedAttempts int            `json:"completed_attempts"`
	LatencyMAEMS      float64        `json:"latency_mae_ms"`
	CostMAEUSD        float64        `json:"cost_mae_usd"`
}

// Store defines the persistence operations for telemetry, jobs, and attempts.
// ClaimNext and ResolveAttempt together form the dispatch state machine; both
// are safe under concurrent callers.
type Store interface {
	// Telemetry (last-writer-wins per resource).
	InsertTelemetry(ctx context.Context, p *model.TelemetryPoint) error
	LatestTelemetry(ctx context.Context, resourceID string) (*model.TelemetryPoint, error)
	ListResourceSnapshots(ctx context.Context, limit int) ([]model.ResourceSnapshot, error)

	// Jobs.
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	CancelJob(ctx context.Context, id string) (*model.Job, error)

	// Dispatch state machine.
	ClaimNext(ctx context.Context, workerID string) (*model.Job, error)
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	ResolveAttempt(ctx context.Context, attemptID string, outcome Outcome) (*Resolution, error)
	FailJob(ctx context.Context, jobID, errorClass, message string) error
	SweepStale(ctx context.Context, olderThan time.Duration) ([]string, error)

	// Attempts and events.
	ListAttempts(ctx context.Context, jobID string) ([]*model.Attempt, error)
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	AddJobEvent(ctx context.Context, jobID, event, message string) error
	ListJobEvents(ctx context.Context, jobID string, limit int) ([]model.JobEvent, error)

	// Projections.
	ListSLAEvents(ctx context.Context, limit int) ([]SLAEvent, error)
	GetStats(ctx context.Context) (*Stats, error)

	// Pricing cache.
	GetCachedPrice(ctx context.Context, key string) (float64, time.Time, error)
	SetCachedPrice(ctx context.Context, key string, pricePerHourUSD float64) error

	Close() error
}
