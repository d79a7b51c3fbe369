package model

import "time"

// Resource type constants.
const (
	ResourceEdge  = "edge"
	ResourceCloud = "cloud"
	ResourceGPU   = "gpu"
)

// ValidResourceType reports whether t names a known resource type.
func ValidResourceType(t string) bool {
	return t == ResourceEdge || t == ResourceCloud || t == ResourceGPU
}

// TelemetryPoint is one live sample of a resource's state. Utilization
// fields are fractions in [0,1].
type TelemetryPoint struct {
	TS           time.Time `json:"ts"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`

	CPUUtil float64 `json:"cpu_util"`
	MemUtil float64 `json:"mem_util"`
	GPUUtil float64 `json:"gpu_util"`

	NetRTTMS  float64 `json:"net_rtt_ms"`
	NetBWMbps float64 `json:"net_bw_mbps"`

	PricePerHourUSD float64 `json:"price_per_hour_usd"`
	Reliability     float64 `json:"reliability"`
	PowerW          float64 `json:"power_w"`
}

// ResourceSnapshot pairs a resource with its last-known telemetry.
// Last-writer-wins: a snapshot always reflects the most recent sample.
type ResourceSnapshot struct {
	ResourceID   string         `json:"resource_id"`
	ResourceType string         `json:"resource_type"`
	Last         TelemetryPoint `json:"last"`
}
