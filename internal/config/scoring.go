package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bounds is a min/max pair used for min-max normalization of one scoring
// feature.
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Scoring holds the tunable parameters of the routing score. Weights are
// renormalized to sum to 1 on load.
type Scoring struct {
	Weights struct {
		Latency     float64 `yaml:"latency"`
		Cost        float64 `yaml:"cost"`
		Reliability float64 `yaml:"reliability"`
		Energy      float64 `yaml:"energy"`
	} `yaml:"weights"`

	// SLAPenalty is added to the score once per soft violation.
	SLAPenalty float64 `yaml:"sla_penalty"`

	Bounds struct {
		LatencyMS   Bounds `yaml:"latency_ms"`
		CostUSD     Bounds `yaml:"cost_usd"`
		Reliability Bounds `yaml:"reliability"`
		EnergyW     Bounds `yaml:"energy_w"`
	} `yaml:"bounds"`
}

// DefaultScoring returns the built-in scoring parameters.
func DefaultScoring() Scoring {
	var s Scoring
	s.Weights.Latency = 0.45
	s.Weights.Cost = 0.25
	s.Weights.Reliability = 0.20
	s.Weights.Energy = 0.10
	s.SLAPenalty = 0.35
	s.Bounds.LatencyMS = Bounds{Min: 5, Max: 4000}
	s.Bounds.CostUSD = Bounds{Min: 0.0001, Max: 0.2}
	s.Bounds.Reliability = Bounds{Min: 0.80, Max: 0.999}
	s.Bounds.EnergyW = Bounds{Min: 5, Max: 400}
	return s
}

// LoadScoring reads scoring parameters from a YAML file, filling anything
// unset from the defaults. An empty path returns the defaults unchanged.
func LoadScoring(path string) (Scoring, error) {
	s := DefaultScoring()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse scoring config: %w", err)
	}

	s.normalize()
	return s, nil
}

// normalize rescales weights to sum to 1, falling back to defaults when the
// file zeroes them all out.
func (s *Scoring) normalize() {
	sum := s.Weights.Latency + s.Weights.Cost + s.Weights.Reliability + s.Weights.Energy
	if sum <= 0 {
		def := DefaultScoring()
		s.Weights = def.Weights
		return
	}
	s.Weights.Latency /= sum
	s.Weights.Cost /= sum
	s.Weights.Reliability /= sum
	s.Weights.Energy /= sum
}
