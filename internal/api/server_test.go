package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebturner/arbiter/internal/config"
	"github.com/calebturner/arbiter/internal/model"
	"github.com/calebturner/arbiter/internal/router"
	"github.com/calebturner/arbiter/internal/runner"
	"github.com/calebturner/arbiter/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := runner.NewDefaultRegistry("", "", "", nil)
	logger := config.NewLogger(io.Discard, slog.LevelError)
	return NewServer(":0", s, router.NewEngine(config.DefaultScoring()), reg, nil, logger, 2)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateJobValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"requirements":{"job_type":"batch","urgency":0.7,"payload_size_mb":25,"sla":{"deadline_ms":2000}}}`
	resp := postJSON(t, ts.URL+"/v1/jobs", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	job := decode[model.Job](t, resp)
	if len(job.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(job.ID))
	}
	if job.Status != model.StatusQueued {
		t.Errorf("Status = %q, want queued", job.Status)
	}
	if job.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want server default 2", job.MaxAttempts)
	}
	if job.Requirements.Urgency != 0.7 {
		t.Errorf("Urgency = %v, want 0.7", job.Requirements.Urgency)
	}
}

func TestCreateJobMaxAttemptsOverride(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"requirements":{"job_type":"batch","sla":{"deadline_ms":2000}},"max_attempts":4}`
	resp := postJSON(t, ts.URL+"/v1/jobs", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	job := decode[model.Job](t, resp)
	if job.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", job.MaxAttempts)
	}
}

func TestCreateJobInvalid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := []struct {
		name string
		body string
	}{
		{"no sla", `{"requirements":{"job_type":"batch","sla":{}}}`},
		{"missing job_type", `{"requirements":{"sla":{"deadline_ms":2000}}}`},
		{"unknown job_type", `{"requirements":{"job_type":"quantum","sla":{"deadline_ms":2000}}}`},
		{"urgency out of range", `{"requirements":{"job_type":"batch","urgency":3,"sla":{"deadline_ms":2000}}}`},
		{"negative payload", `{"requirements":{"job_type":"batch","payload_size_mb":-1,"sla":{"deadline_ms":2000}}}`},
		{"bad force type", `{"requirements":{"job_type":"batch","sla":{"deadline_ms":2000},"hints":{"force_resource_type":"mainframe"}}}`},
		{"gpu vs force conflict", `{"requirements":{"job_type":"batch","requires_gpu":true,"sla":{"deadline_ms":2000},"hints":{"force_resource_type":"edge"}}}`},
		{"not json", `{{{`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/jobs", c.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetJobWithAttempts(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/jobs", `{"requirements":{"job_type":"batch","sla":{"deadline_ms":2000}}}`)
	job := decode[model.Job](t, resp)

	resp2, err := http.Get(ts.URL + "/v1/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
	detail := decode[jobDetailResponse](t, resp2)
	if detail.Job.ID != job.ID {
		t.Errorf("job ID = %q, want %q", detail.Job.ID, job.ID)
	}
	if detail.Attempts == nil || len(detail.Attempts) != 0 {
		t.Errorf("Attempts = %v, want empty non-nil", detail.Attempts)
	}

	resp3, err := http.Get(ts.URL + "/v1/jobs/nonexistent")
	if err != nil {
		t.Fatalf("GET missing job: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", resp3.StatusCode)
	}
}

func TestListJobsPagination(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/v1/jobs", `{"requirements":{"job_type":"batch","sla":{"deadline_ms":2000}}}`)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=2")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	list := decode[listJobsResponse](t, resp)
	if list.Total != 3 {
		t.Errorf("Total = %d, want 3", list.Total)
	}
	if len(list.Jobs) != 2 {
		t.Errorf("Jobs = %d, want 2", len(list.Jobs))
	}
	if list.Limit != 2 {
		t.Errorf("Limit = %d, want 2", list.Limit)
	}
}

func TestCancelJob(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/jobs", `{"requirements":{"job_type":"batch","sla":{"deadline_ms":2000}}}`)
	job := decode[model.Job](t, resp)

	resp2 := postJSON(t, ts.URL+"/v1/jobs/"+job.ID+"/cancel", "")
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp2.StatusCode)
	}
	got := decode[model.Job](t, resp2)
	if got.Status != model.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}

	resp3 := postJSON(t, ts.URL+"/v1/jobs/"+job.ID+"/cancel", "")
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp3.StatusCode)
	}

	resp4 := postJSON(t, ts.URL+"/v1/jobs/nonexistent/cancel", "")
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusNotFound {
		t.Errorf("missing cancel status = %d, want 404", resp4.StatusCode)
	}
}

func TestIngestTelemetry(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"resource_id":"edge-1","resource_type":"edge","cpu_util":0.3,"mem_util":0.4,"net_rtt_ms":12,"net_bw_mbps":900,"price_per_hour_usd":0.05,"reliability":0.97,"power_w":35}`
	resp := postJSON(t, ts.URL+"/v1/telemetry", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	point := decode[model.TelemetryPoint](t, resp)
	if point.TS.IsZero() {
		t.Error("TS not defaulted on ingest")
	}

	resp2, err := http.Get(ts.URL + "/v1/telemetry/edge-1")
	if err != nil {
		t.Fatalf("GET telemetry: %v", err)
	}
	got := decode[model.TelemetryPoint](t, resp2)
	if got.CPUUtil != 0.3 || got.ResourceType != model.ResourceEdge {
		t.Errorf("point = %+v", got)
	}

	resp3, err := http.Get(ts.URL + "/v1/telemetry/unknown")
	if err != nil {
		t.Fatalf("GET missing telemetry: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("missing telemetry status = %d, want 404", resp3.StatusCode)
	}
}

func TestIngestTelemetryInvalid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := []string{
		`{"resource_type":"edge"}`,
		`{"resource_id":"x","resource_type":"quantum"}`,
		`{"resource_id":"x","resource_type":"edge","cpu_util":1.5}`,
		`{"resource_id":"x","resource_type":"edge","net_rtt_ms":-1}`,
	}
	for _, body := range cases {
		resp := postJSON(t, ts.URL+"/v1/telemetry", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestIngestTelemetryBatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `[
		{"resource_id":"edge-1","resource_type":"edge","cpu_util":0.3,"reliability":0.95,"price_per_hour_usd":0.05},
		{"resource_id":"cloud-1","resource_type":"quantum"},
		{"resource_id":"cloud-2","resource_type":"cloud","cpu_util":0.5,"reliability":0.99,"price_per_hour_usd":0.2}
	]`
	resp := postJSON(t, ts.URL+"/v1/telemetry/batch", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	out := decode[batchIngestResponse](t, resp)
	if out.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", out.Accepted)
	}
	if len(out.Rejected) != 1 || out.Rejected[1] == "" {
		t.Errorf("Rejected = %v, want index 1 rejected", out.Rejected)
	}

	resp2, err := http.Get(ts.URL + "/v1/resources")
	if err != nil {
		t.Fatalf("GET resources: %v", err)
	}
	res := decode[struct {
		Count int `json:"count"`
	}](t, resp2)
	if res.Count != 2 {
		t.Errorf("resource count = %d, want 2", res.Count)
	}
}

func TestRouteWhatIf(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, body := range []string{
		`{"resource_id":"edge-1","resource_type":"edge","cpu_util":0.1,"mem_util":0.1,"net_rtt_ms":10,"reliability":0.95,"price_per_hour_usd":0.05,"power_w":30}`,
		`{"resource_id":"edge-2","resource_type":"edge","cpu_util":0.8,"mem_util":0.8,"net_rtt_ms":10,"reliability":0.95,"price_per_hour_usd":0.05,"power_w":30}`,
	} {
		resp := postJSON(t, ts.URL+"/v1/telemetry", body)
		resp.Body.Close()
	}

	resp := postJSON(t, ts.URL+"/v1/route", `{"requirements":{"job_type":"inference","sla":{"deadline_ms":5000}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[routeResponse](t, resp)
	if len(out.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(out.Candidates))
	}
	if out.Candidates[0].ResourceID != "edge-1" {
		t.Errorf("top candidate = %s, want idle edge-1", out.Candidates[0].ResourceID)
	}
	if out.Candidates[0].Score > out.Candidates[1].Score {
		t.Error("candidates not sorted ascending by score")
	}

	// A GPU-only request has no eligible resource here.
	resp2 := postJSON(t, ts.URL+"/v1/route", `{"requirements":{"job_type":"training","requires_gpu":true,"sla":{"deadline_ms":5000}}}`)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("no-resources status = %d, want 409", resp2.StatusCode)
	}
}

func TestStatsAndSLAEvents(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	stats := decode[statsResponse](t, resp)
	if stats.CompletedAttempts != 0 {
		t.Errorf("CompletedAttempts = %d, want 0", stats.CompletedAttempts)
	}

	resp2, err := http.Get(ts.URL + "/v1/sla-events")
	if err != nil {
		t.Fatalf("GET sla-events: %v", err)
	}
	out := decode[struct {
		Count int `json:"count"`
	}](t, resp2)
	if out.Count != 0 {
		t.Errorf("sla event count = %d, want 0", out.Count)
	}
}

func TestListRunners(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runners")
	if err != nil {
		t.Fatalf("GET runners: %v", err)
	}
	out := decode[listRunnersResponse](t, resp)
	if len(out.ResourceTypes) != 3 {
		t.Errorf("ResourceTypes = %v, want all three", out.ResourceTypes)
	}
}
