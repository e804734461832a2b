package sample

import (
	"codeberg.org/mutker/jolt/internal/sensor"
)

// Sample is one canonical row of battery and power state at a tick.
// TakenAt is milliseconds since the Unix epoch, assigned by the
// recorder. Optional fields are nil when unknown.
type Sample struct {
	TakenAt           int64              `json:"taken_at"`
	ChargePercent     float64            `json:"charge_percent"`
	State             sensor.ChargeState `json:"state"`
	HealthPercent     *float64           `json:"health_percent,omitempty"`
	CPUW              *float64           `json:"cpu_w,omitempty"`
	GPUW              *float64           `json:"gpu_w,omitempty"`
	SystemW           *float64           `json:"system_w,omitempty"`
	SmoothedSystemW   *float64           `json:"smoothed_system_w,omitempty"`
	ExternalConnected bool               `json:"external_connected"`
	ChargerW          *float64           `json:"charger_w,omitempty"`
}
