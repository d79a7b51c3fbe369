package model

import "time"

// Job status constants.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job type constants.
const (
	JobTypeBatch     = "batch"
	JobTypeInference = "inference"
	JobTypeTraining  = "training"
)

// validTransitions maps each job status to the set of statuses it may
// transition to. Terminal statuses have no entries.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning a job from one status to
// another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// SLA holds the service-level thresholds for a job. Each threshold is
// optional; the Hard flags mark thresholds whose violation excludes a
// resource from ranking entirely instead of penalizing its score.
type SLA struct {
	DeadlineMS      *float64 `json:"deadline_ms,omitempty"`
	MaxCostUSD      *float64 `json:"max_cost_usd,omitempty"`
	MinReliability  *float64 `json:"min_reliability,omitempty"`
	DeadlineHard    bool     `json:"deadline_hard,omitempty"`
	CostHard        bool     `json:"cost_hard,omitempty"`
	ReliabilityHard bool     `json:"reliability_hard,omitempty"`
}

// Empty reports whether no threshold is set at all.
func (s SLA) Empty() bool {
	return s.DeadlineMS == nil && s.MaxCostUSD == nil && s.MinReliability == nil
}

// Hints carries optional routing controls. ExcludeResourceIDs is also used
// internally by the reroute path to steer retries away from failed resources.
type Hints struct {
	ForceResourceType  string   `json:"force_resource_type,omitempty"`
	ForceResourceID    string   `json:"force_resource_id,omitempty"`
	ExcludeResourceIDs []string `json:"exclude_resource_ids,omitempty"`
}

// Requirements describes what a job needs from an execution resource.
type Requirements struct {
	JobType       string  `json:"job_type"`
	Urgency       float64 `json:"urgency"`
	PayloadSizeMB float64 `json:"payload_size_mb"`
	RequiresGPU   bool    `json:"requires_gpu"`
	SLA           SLA     `json:"sla"`
	Hints         Hints   `json:"hints,omitempty"`
}

// Job is a unit of work submitted for routed execution. Requirements are
// frozen at submission; status transitions only through the dispatch worker
// or cancellation.
type Job struct {
	ID           string       `json:"id"`
	Requirements Requirements `json:"requirements"`
	Status       string       `json:"status"`

	// Attempts is the number of dispatch attempts started so far; it is
	// incremented by the claim operation and doubles as the next attempt_no.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// InternalErrors counts attempts that failed inside the worker itself
	// rather than in a runner. Capped at one retry to avoid loops.
	InternalErrors int `json:"internal_errors"`

	// NextRunAt delays redispatch after a retryable failure. A running job
	// with no worker bound and NextRunAt in the past is claimable again.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	WorkerID  string     `json:"worker_id,omitempty"`

	ChosenResourceID   string `json:"chosen_resource_id,omitempty"`
	ChosenResourceType string `json:"chosen_resource_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job is in a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// JobEvent is one append-only entry in a job's event log.
type JobEvent struct {
	ID      int64     `json:"id"`
	JobID   string    `json:"job_id"`
	TS      time.Time `json:"ts"`
	Event   string    `json:"event"`
	Message string    `json:"message,omitempty"`
}

// Job event names.
const (
	EventSubmitted = "SUBMITTED"
	EventRunning   = "RUNNING"
	EventRerouted  = "REROUTED"
	EventRetry     = "RETRY"
	EventCompleted = "COMPLETED"
	EventFailed    = "FAILED"
	EventCancelled = "CANCELLED"
	EventSwept     = "SWEPT"
)
