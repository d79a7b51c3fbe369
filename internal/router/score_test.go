package router

import (
	"testing"

	"github.com/calebturner/arbiter/internal/config"
	"github.com/calebturner/arbiter/internal/model"
)

func TestPredictLatency(t *testing.T) {
	base := Features{Congestion: 0.5, NetRTTMS: 10, PayloadSizeMB: 100}
	got := predictLatencyMS(base)
	want := 50 + 800*0.5 + 1.2*10 + 0.9*100.0
	if got != want {
		t.Errorf("predictLatencyMS = %v, want %v", got, want)
	}

	gpu := base
	gpu.RequiresGPU = true
	if predictLatencyMS(gpu) != want+400 {
		t.Errorf("gpu warm-up term missing: %v", predictLatencyMS(gpu))
	}

	// Floor applies to degenerate inputs.
	if got := predictLatencyMS(Features{Congestion: -1, NetRTTMS: -100}); got != 5 {
		t.Errorf("latency floor = %v, want 5", got)
	}
}

func TestPredictLatencyMonotoneInCongestion(t *testing.T) {
	low := predictLatencyMS(Features{Congestion: 0.1, NetRTTMS: 10})
	high := predictLatencyMS(Features{Congestion: 0.9, NetRTTMS: 10})
	if high <= low {
		t.Errorf("latency not monotone in congestion: %v <= %v", high, low)
	}
}

func TestPredictCost(t *testing.T) {
	f := Features{Congestion: 0.5, PayloadSizeMB: 100, PricePerHourUSD: 3.6, NetRTTMS: 10, PowerW: 100}
	got := predictCostUSD(f)
	estSeconds := 2 + 20*0.5 + 0.05*100.0
	want := (3.6/3600)*estSeconds + 0.00001*10 + 0.000002*100
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("predictCostUSD = %v, want %v", got, want)
	}

	gpu := f
	gpu.RequiresGPU = true
	if predictCostUSD(gpu) <= got {
		t.Error("gpu surcharge missing from cost")
	}

	if predictCostUSD(Features{}) < 0 {
		t.Error("cost went negative")
	}
}

func TestMinmax01(t *testing.T) {
	b := config.Bounds{Min: 0, Max: 100}
	cases := []struct {
		x, want float64
	}{
		{-10, 0},
		{0, 0},
		{50, 0.5},
		{100, 1},
		{500, 1},
	}
	for _, c := range cases {
		if got := minmax01(c.x, b); got != c.want {
			t.Errorf("minmax01(%v) = %v, want %v", c.x, got, c.want)
		}
	}
	if got := minmax01(5, config.Bounds{Min: 1, Max: 1}); got != 0 {
		t.Errorf("degenerate bounds = %v, want 0", got)
	}
}

func TestCheckSLAEachThresholdIndependent(t *testing.T) {
	deadline, maxCost, minRel := 100.0, 0.01, 0.99

	sla := model.SLA{DeadlineMS: &deadline, MaxCostUSD: &maxCost, MinReliability: &minRel, CostHard: true}
	violations := checkSLA(sla, 200, 0.05, 0.95)
	if len(violations) != 3 {
		t.Fatalf("violations = %d, want 3", len(violations))
	}

	byThreshold := map[string]model.Violation{}
	for _, v := range violations {
		byThreshold[v.Threshold] = v
	}
	if v := byThreshold[model.ThresholdDeadline]; v.Hard || v.Predicted != 200 || v.Limit != 100 {
		t.Errorf("deadline violation = %+v", v)
	}
	if v := byThreshold[model.ThresholdMaxCost]; !v.Hard {
		t.Errorf("cost violation should carry the hard flag: %+v", v)
	}
	if v := byThreshold[model.ThresholdReliability]; v.Predicted != 0.95 {
		t.Errorf("reliability violation = %+v", v)
	}

	if got := checkSLA(sla, 50, 0.005, 0.999); len(got) != 0 {
		t.Errorf("compliant inputs produced violations: %+v", got)
	}
}

func TestScoreSoftPenaltyAndHardNeutrality(t *testing.T) {
	sc := config.DefaultScoring()
	f := Features{Reliability: 0.95, PowerW: 100}

	clean := score(sc, f, 500, 0.01, nil)
	soft := score(sc, f, 500, 0.01, []model.Violation{{Threshold: model.ThresholdDeadline}})
	hard := score(sc, f, 500, 0.01, []model.Violation{{Threshold: model.ThresholdDeadline, Hard: true}})

	if diff := soft - clean - sc.SLAPenalty; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("soft violation penalty = %v, want %v", soft-clean, sc.SLAPenalty)
	}
	// Hard violations exclude a candidate upstream; the score itself does not
	// double-count them.
	if hard != clean {
		t.Errorf("hard violation changed score: %v != %v", hard, clean)
	}
}

func TestScoreMonotoneInLatency(t *testing.T) {
	sc := config.DefaultScoring()
	f := Features{Reliability: 0.95, PowerW: 100}

	fast := score(sc, f, 100, 0.01, nil)
	slow := score(sc, f, 3000, 0.01, nil)
	if slow <= fast {
		t.Errorf("score not monotone in latency: %v <= %v", slow, fast)
	}
}
