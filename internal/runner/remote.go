package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calebturner/arbiter/internal/model"
)

// maxRemoteBody bounds the response body read from a remote runner.
const maxRemoteBody = 1 << 20 // 1 MB

// Remote delegates execution to an external runner service.
// Contract: POST {baseURL}/run with the job payload; the service responds
// with {"actual_latency_ms": n, "actual_cost_usd": n, "output_ref": s}.
// Any non-2xx status or malformed body is an execution error.
type Remote struct {
	baseURL string
	name    string
	client  *http.Client
}

// NewRemote creates a remote runner for the given base URL. The caller owns
// the client's timeout; the per-attempt context still bounds each call.
func NewRemote(baseURL, name string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		client:  client,
	}
}

// Name identifies the runner variant.
func (r *Remote) Name() string {
	return r.name
}

// runRequest is the JSON payload POSTed to the remote runner.
type runRequest struct {
	JobID        string             `json:"job_id"`
	AttemptNo    int                `json:"attempt_no"`
	ResourceID   string             `json:"resource_id"`
	ResourceType string             `json:"resource_type"`
	Requirements model.Requirements `json:"requirements"`
}

// Execute posts the job to the remote service and decodes the actuals.
func (r *Remote) Execute(ctx context.Context, job *model.Job, attempt *model.Attempt) (Result, error) {
	payload, err := json.Marshal(runRequest{
		JobID:        job.ID,
		AttemptNo:    attempt.AttemptNo,
		ResourceID:   attempt.ResourceID,
		ResourceType: attempt.ResourceType,
		Requirements: job.Requirements,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/run", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call runner %s: %w", r.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return Result{}, fmt.Errorf("read runner response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("runner %s returned status %d", r.name, resp.StatusCode)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("malformed runner response: %w", err)
	}
	return res, nil
}
