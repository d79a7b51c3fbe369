package router

import (
	"time"

	"github.com/calebturner/arbiter/internal/model"
)

// Features is the snapshot of inputs a scoring decision was made from.
// It is frozen onto the attempt record at dispatch time so that every
// prediction can be traced back to the exact telemetry it saw.
type Features struct {
	TS              time.Time `json:"ts"`
	Congestion      float64   `json:"congestion"`
	CPUUtil         float64   `json:"cpu_util"`
	MemUtil         float64   `json:"mem_util"`
	GPUUtil         float64   `json:"gpu_util"`
	NetRTTMS        float64   `json:"net_rtt_ms"`
	NetBWMbps       float64   `json:"net_bw_mbps"`
	PricePerHourUSD float64   `json:"price_per_hour_usd"`
	Reliability     float64   `json:"reliability"`
	PowerW          float64   `json:"power_w"`
	Urgency         float64   `json:"urgency"`
	PayloadSizeMB   float64   `json:"payload_size_mb"`
	RequiresGPU     bool      `json:"requires_gpu"`
	JobType         string    `json:"job_type"`
	ResourceType    string    `json:"resource_type"`
}

// congestion folds utilization into a single load figure in [0,1]. GPU
// resources weigh GPU utilization in; others use cpu/mem only.
func congestion(t *model.TelemetryPoint) float64 {
	base := (t.CPUUtil + t.MemUtil) / 2
	if t.ResourceType == model.ResourceGPU {
		base = (base + t.GPUUtil) / 2
	}
	return clamp01(base)
}

// buildFeatures combines one resource's telemetry with the job's workload
// profile, stamping the provenance timestamp.
func buildFeatures(t *model.TelemetryPoint, req *model.Requirements, now time.Time) Features {
	return Features{
		TS:              now,
		Congestion:      congestion(t),
		CPUUtil:         t.CPUUtil,
		MemUtil:         t.MemUtil,
		GPUUtil:         t.GPUUtil,
		NetRTTMS:        t.NetRTTMS,
		NetBWMbps:       t.NetBWMbps,
		PricePerHourUSD: t.PricePerHourUSD,
		Reliability:     t.Reliability,
		PowerW:          t.PowerW,
		Urgency:         req.Urgency,
		PayloadSizeMB:   req.PayloadSizeMB,
		RequiresGPU:     req.RequiresGPU,
		JobType:         req.JobType,
		ResourceType:    t.ResourceType,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
