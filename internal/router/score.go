package router

import (
	"fmt"

	"github.com/calebturner/arbiter/internal/config"
	"github.com/calebturner/arbiter/internal/model"
)

// predictLatencyMS estimates end-to-end latency for a job on a resource from
// the feature vector. Linear in congestion, network RTT, and payload size,
// with a flat GPU warm-up term. Floored at 5ms.
func predictLatencyMS(f Features) float64 {
	y := 50 + 800*f.Congestion + 1.2*f.NetRTTMS + 0.9*f.PayloadSizeMB
	if f.RequiresGPU {
		y += 400
	}
	if y < 5 {
		y = 5
	}
	return y
}

// predictCostUSD estimates the job's cost from the resource's hourly price
// and an estimated service time, plus small network and power terms.
func predictCostUSD(f Features) float64 {
	estSeconds := 2 + 20*f.Congestion + 0.05*f.PayloadSizeMB
	if f.RequiresGPU {
		estSeconds += 10
	}
	y := (f.PricePerHourUSD/3600)*estSeconds + 0.00001*f.NetRTTMS + 0.000002*f.PowerW
	if y < 0 {
		y = 0
	}
	return y
}

// minmax01 maps x into [0,1] over the given bounds, clamping outliers.
func minmax01(x float64, b config.Bounds) float64 {
	if b.Max <= b.Min {
		return 0
	}
	return clamp01((x - b.Min) / (b.Max - b.Min))
}

// checkSLA evaluates each configured threshold independently against the
// predicted values and the resource's reliability.
func checkSLA(sla model.SLA, latencyMS, costUSD, reliability float64) []model.Violation {
	var v []model.Violation
	if sla.DeadlineMS != nil && latencyMS > *sla.DeadlineMS {
		v = append(v, model.Violation{
			Threshold: model.ThresholdDeadline,
			Hard:      sla.DeadlineHard,
			Predicted: latencyMS,
			Limit:     *sla.DeadlineMS,
			Message:   fmt.Sprintf("deadline_ms violated: predicted %.0f > %.0f", latencyMS, *sla.DeadlineMS),
		})
	}
	if sla.MaxCostUSD != nil && costUSD > *sla.MaxCostUSD {
		v = append(v, model.Violation{
			Threshold: model.ThresholdMaxCost,
			Hard:      sla.CostHard,
			Predicted: costUSD,
			Limit:     *sla.MaxCostUSD,
			Message:   fmt.Sprintf("max_cost_usd violated: predicted %.4f > %.4f", costUSD, *sla.MaxCostUSD),
		})
	}
	if sla.MinReliability != nil && reliability < *sla.MinReliability {
		v = append(v, model.Violation{
			Threshold: model.ThresholdReliability,
			Hard:      sla.ReliabilityHard,
			Predicted: reliability,
			Limit:     *sla.MinReliability,
			Message:   fmt.Sprintf("min_reliability violated: %.3f < %.3f", reliability, *sla.MinReliability),
		})
	}
	return v
}

// score combines the normalized feature terms into the composite routing
// score. Lower is better: every term is a badness measure, and each soft
// violation adds a flat penalty. Monotone increasing in latency, cost,
// energy, unreliability, and violation count.
func score(sc config.Scoring, f Features, latencyMS, costUSD float64, violations []model.Violation) float64 {
	soft := 0
	for _, v := range violations {
		if !v.Hard {
			soft++
		}
	}

	return sc.Weights.Latency*minmax01(latencyMS, sc.Bounds.LatencyMS) +
		sc.Weights.Cost*minmax01(costUSD, sc.Bounds.CostUSD) +
		sc.Weights.Reliability*(1-minmax01(f.Reliability, sc.Bounds.Reliability)) +
		sc.Weights.Energy*minmax01(f.PowerW, sc.Bounds.EnergyW) +
		sc.SLAPenalty*float64(soft)
}
