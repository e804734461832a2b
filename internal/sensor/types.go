package sensor

import "strings"

// ChargeState is the battery charging state as reported by the OS.
type ChargeState int

const (
	StateUnknown ChargeState = iota
	StateCharging
	StateDischarging
	StateFull
	StateNotCharging
)

var stateLabels = map[ChargeState]string{
	StateUnknown:     "Unknown",
	StateCharging:    "Charging",
	StateDischarging: "Discharging",
	StateFull:        "Full",
	StateNotCharging: "NotCharging",
}

func (s ChargeState) String() string {
	if label, ok := stateLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// ParseChargeState maps an OS status label to a ChargeState.
func ParseChargeState(label string) ChargeState {
	switch label {
	case "Charging":
		return StateCharging
	case "Discharging":
		return StateDischarging
	case "Full":
		return StateFull
	case "Not charging", "NotCharging":
		return StateNotCharging
	default:
		return StateUnknown
	}
}

// IsPluggedIn reports whether external power is connected for states
// that imply it on their own.
func (s ChargeState) IsPluggedIn() bool {
	return s == StateCharging || s == StateFull || s == StateNotCharging
}

// MarshalJSON encodes the state as its label so the wire format stays
// readable and additive.
func (s ChargeState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *ChargeState) UnmarshalJSON(data []byte) error {
	label := strings.Trim(string(data), `"`)
	*s = ParseChargeState(label)
	return nil
}

// PowerMode is the system power profile.
type PowerMode int

const (
	ModeUnknown PowerMode = iota
	ModeLowPower
	ModeBalanced
	ModePerformance
)

func (m PowerMode) String() string {
	switch m {
	case ModeLowPower:
		return "LowPower"
	case ModeBalanced:
		return "Balanced"
	case ModePerformance:
		return "Performance"
	default:
		return "Unknown"
	}
}

// BatterySnapshot is one battery reading. TakenAt is milliseconds
// since the Unix epoch. Optional fields are nil when the platform
// does not report them.
type BatterySnapshot struct {
	TakenAt           int64
	ChargePercent     float64
	State             ChargeState
	MaxCapacityWh     float64
	DesignCapacityWh  float64
	CycleCount        *int64
	VoltageMV         *int64
	CurrentMA         *int64
	TemperatureC      *float64
	TimeToFullS       *int64
	TimeToEmptyS      *int64
	ExternalConnected bool
	ChargerW          *float64
}

// HealthPercent returns 100 * max / design capacity, or nil when
// either capacity is unknown.
func (b BatterySnapshot) HealthPercent() *float64 {
	if b.MaxCapacityWh <= 0 || b.DesignCapacityWh <= 0 {
		return nil
	}
	h := 100 * b.MaxCapacityWh / b.DesignCapacityWh
	return &h
}

// PowerSnapshot is one power reading in watts. All fields are
// independently optional.
type PowerSnapshot struct {
	TakenAt int64
	CPUW    *float64
	GPUW    *float64
	ANEW    *float64
	SystemW *float64
	Mode    *PowerMode
}

// ProcessSample is one per-process CPU accounting reading.
type ProcessSample struct {
	PID        int
	Name       string
	CPUSeconds float64
}
