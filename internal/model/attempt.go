package model

import "time"

// Attempt status constants.
const (
	AttemptRunning   = "running"
	AttemptCompleted = "completed"
	AttemptFailed    = "failed"
	AttemptRetry     = "retry"
)

// Error classification constants. These end up in attempt records and drive
// the retry/fail transition.
const (
	ErrClassInvalidRequirements  = "InvalidRequirements"
	ErrClassNoResourcesAvailable = "NoResourcesAvailable"
	ErrClassRunnerError          = "RunnerError"
	ErrClassInternalError        = "InternalError"
	ErrClassTimeout              = "Timeout"
)

// Violation records one SLA threshold breach observed at scoring time.
type Violation struct {
	Threshold string  `json:"threshold"`
	Hard      bool    `json:"hard"`
	Predicted float64 `json:"predicted"`
	Limit     float64 `json:"limit"`
	Message   string  `json:"message"`
}

// SLA threshold names used in violations.
const (
	ThresholdDeadline    = "deadline_ms"
	ThresholdMaxCost     = "max_cost_usd"
	ThresholdReliability = "min_reliability"
)

// Attempt is one execution try of a job against a specific resource. The
// prediction fields are frozen before execution begins; actuals and error
// fields are filled at resolution. Once the status leaves running the record
// is immutable.
type Attempt struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	AttemptNo int    `json:"attempt_no"`

	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`

	Status string `json:"status"`

	PredictedLatencyMS float64     `json:"predicted_latency_ms"`
	PredictedCostUSD   float64     `json:"predicted_cost_usd"`
	FinalScore         float64     `json:"final_score"`
	SLAOK              bool        `json:"sla_ok"`
	Violations         []Violation `json:"sla_violations"`
	FeaturesJSON       string      `json:"features_json,omitempty"`

	ActualLatencyMS *float64 `json:"actual_latency_ms,omitempty"`
	ActualCostUSD   *float64 `json:"actual_cost_usd,omitempty"`
	OutputRef       *string  `json:"output_ref,omitempty"`

	ErrorClass   string `json:"error_class,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorTrace   string `json:"error_trace,omitempty"`

	// Reroute lineage: set on the attempt that changed resource relative to
	// the previous one. ReroutedFrom is the prior resource, ReroutedTo the
	// resource this attempt runs on.
	ReroutedFrom string `json:"rerouted_from,omitempty"`
	ReroutedTo   string `json:"rerouted_to,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finalized reports whether the attempt has left the running state.
func (a *Attempt) Finalized() bool {
	return a.Status != AttemptRunning
}
