package sensor

// NullBatterySource reports a battery with no optional data. Used in
// tests.
type NullBatterySource struct{}

func (NullBatterySource) Read() (BatterySnapshot, error) {
	return BatterySnapshot{State: StateUnknown}, nil
}

// NullPowerSource reports no power data at all. Read always succeeds.
type NullPowerSource struct{}

func (NullPowerSource) Read() (PowerSnapshot, error) {
	return PowerSnapshot{}, nil
}
