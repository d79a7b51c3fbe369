package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultScoringWeightsSumToOne(t *testing.T) {
	s := DefaultScoring()
	sum := s.Weights.Latency + s.Weights.Cost + s.Weights.Reliability + s.Weights.Energy
	if diff := sum - 1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("weights sum = %v, want 1", sum)
	}
	if s.SLAPenalty <= 0 {
		t.Errorf("SLAPenalty = %v, want positive", s.SLAPenalty)
	}
	if s.Bounds.LatencyMS.Min >= s.Bounds.LatencyMS.Max {
		t.Errorf("latency bounds inverted: %+v", s.Bounds.LatencyMS)
	}
}

func TestLoadScoringEmptyPath(t *testing.T) {
	s, err := LoadScoring("")
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}
	if s != DefaultScoring() {
		t.Errorf("empty path should return defaults, got %+v", s)
	}
}

func TestLoadScoringFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	yaml := `
weights:
  latency: 2
  cost: 1
  reliability: 1
  energy: 0
sla_penalty: 0.5
bounds:
  latency_ms:
    min: 10
    max: 2000
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	s, err := LoadScoring(path)
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}

	if s.Weights.Latency != 0.5 || s.Weights.Cost != 0.25 || s.Weights.Reliability != 0.25 {
		t.Errorf("weights not renormalized: %+v", s.Weights)
	}
	if s.Weights.Energy != 0 {
		t.Errorf("Energy = %v, want 0", s.Weights.Energy)
	}
	if s.SLAPenalty != 0.5 {
		t.Errorf("SLAPenalty = %v, want 0.5", s.SLAPenalty)
	}
	if s.Bounds.LatencyMS.Max != 2000 {
		t.Errorf("latency max = %v, want 2000", s.Bounds.LatencyMS.Max)
	}
	// Untouched sections keep their defaults.
	if s.Bounds.CostUSD != DefaultScoring().Bounds.CostUSD {
		t.Errorf("cost bounds changed: %+v", s.Bounds.CostUSD)
	}
}

func TestLoadScoringZeroWeightsFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	yaml := `
weights:
  latency: 0
  cost: 0
  reliability: 0
  energy: 0
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	s, err := LoadScoring(path)
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}
	if s.Weights != DefaultScoring().Weights {
		t.Errorf("all-zero weights should fall back to defaults: %+v", s.Weights)
	}
}

func TestLoadScoringMissingFile(t *testing.T) {
	if _, err := LoadScoring("/nonexistent/scoring.yaml"); err == nil {
		t.Error("LoadScoring on missing file should error")
	}
}
