package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteExecute(t *testing.T) {
	var gotReq runRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run" {
			t.Errorf("request = %s %s, want POST /run", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"actual_latency_ms": 321.5,
			"actual_cost_usd":   0.0042,
			"output_ref":        "s3://bucket/out",
		})
	}))
	defer ts.Close()

	rn := NewRemote(ts.URL, "remote-cloud", nil)
	job, attempt := testJobAndAttempt()

	res, err := rn.Execute(context.Background(), job, attempt)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ActualLatencyMS != 321.5 || res.ActualCostUSD != 0.0042 {
		t.Errorf("actuals = %+v", res)
	}
	if res.OutputRef != "s3://bucket/out" {
		t.Errorf("OutputRef = %q", res.OutputRef)
	}
	if gotReq.JobID != job.ID || gotReq.ResourceID != attempt.ResourceID {
		t.Errorf("payload = %+v", gotReq)
	}
}

func TestRemoteExecuteNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	rn := NewRemote(ts.URL, "remote-cloud", nil)
	job, attempt := testJobAndAttempt()

	if _, err := rn.Execute(context.Background(), job, attempt); err == nil {
		t.Error("Execute on 500 should error")
	}
}

func TestRemoteExecuteMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	rn := NewRemote(ts.URL, "remote-cloud", nil)
	job, attempt := testJobAndAttempt()

	if _, err := rn.Execute(context.Background(), job, attempt); err == nil {
		t.Error("Execute on malformed body should error")
	}
}

func TestRemoteExecuteUnreachable(t *testing.T) {
	rn := NewRemote("http://127.0.0.1:1", "remote-cloud", nil)
	job, attempt := testJobAndAttempt()

	if _, err := rn.Execute(context.Background(), job, attempt); err == nil {
		t.Error("Execute against closed port should error")
	}
}
