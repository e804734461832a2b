package sensor

// BatterySource reads the most recent kernel view of the battery. No
// caching; implementations are synchronous and expected to complete
// well inside the sampling interval.
type BatterySource interface {
	Read() (BatterySnapshot, error)
}

// PowerSource reads package power draw. Fields are independently
// optional, so a partial reading is a success, not an error.
type PowerSource interface {
	Read() (PowerSnapshot, error)
}

// ProcessSource reads per-process CPU accounting for the top-process
// energy ranking. Optional; the recorder runs without one.
type ProcessSource interface {
	Read() ([]ProcessSample, error)
}
