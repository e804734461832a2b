package sample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/sensor"
)

type fakeBattery struct {
	snapshot sensor.BatterySnapshot
	err      error
	delay    time.Duration
}

func (f *fakeBattery) Read() (sensor.BatterySnapshot, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.snapshot, f.err
}

type fakePower struct {
	snapshot sensor.PowerSnapshot
}

func (f *fakePower) Read() (sensor.PowerSnapshot, error) {
	return f.snapshot, nil
}

func ptr(v float64) *float64 { return &v }

func assemble(t *testing.T, a *Assembler, battery *fakeBattery, power *fakePower, takenAt int64) Sample {
	t.Helper()
	s, err := a.Assemble(context.Background(), takenAt)
	require.NoError(t, err)
	return s
}

func TestSmoothingWarmup(t *testing.T) {
	battery := &fakeBattery{snapshot: sensor.BatterySnapshot{
		ChargePercent: 50,
		State:         sensor.StateDischarging,
	}}
	power := &fakePower{}
	a := NewAssembler(battery, power, time.Second)

	watts := []float64{4, 6, 8, 10, 12, 14}
	want := []*float64{nil, nil, ptr(6), ptr(7), ptr(8), ptr(10)}

	for i, w := range watts {
		power.snapshot = sensor.PowerSnapshot{SystemW: ptr(w)}
		s := assemble(t, a, battery, power, int64(1000*(i+1)))

		if want[i] == nil {
			assert.Nil(t, s.SmoothedSystemW, "sample %d", i)
		} else {
			require.NotNil(t, s.SmoothedSystemW, "sample %d", i)
			assert.InDelta(t, *want[i], *s.SmoothedSystemW, 0.001, "sample %d", i)
		}
		require.NotNil(t, s.SystemW)
		assert.InDelta(t, w, *s.SystemW, 0.001, "raw watts preserved")
	}
}

func TestSmoothingResetOnGap(t *testing.T) {
	battery := &fakeBattery{snapshot: sensor.BatterySnapshot{State: sensor.StateDischarging}}
	power := &fakePower{}
	a := NewAssembler(battery, power, time.Second)

	for i := 0; i < 4; i++ {
		power.snapshot = sensor.PowerSnapshot{SystemW: ptr(10)}
		assemble(t, a, battery, power, int64(1000*(i+1)))
	}

	// Gap of 3x the interval resets the window.
	power.snapshot = sensor.PowerSnapshot{SystemW: ptr(20)}
	s := assemble(t, a, battery, power, 4000+3000)
	assert.Nil(t, s.SmoothedSystemW, "first sample after gap is unsmoothed")
}

func TestSmoothingResetOnChargeFlip(t *testing.T) {
	battery := &fakeBattery{snapshot: sensor.BatterySnapshot{State: sensor.StateDischarging}}
	power := &fakePower{snapshot: sensor.PowerSnapshot{SystemW: ptr(10)}}
	a := NewAssembler(battery, power, time.Second)

	for i := 0; i < 4; i++ {
		assemble(t, a, battery, power, int64(1000*(i+1)))
	}

	battery.snapshot.State = sensor.StateCharging
	s := assemble(t, a, battery, power, 5000)
	assert.Nil(t, s.SmoothedSystemW, "charge flip resets the window")

	// Full -> Idle style transitions do not reset.
	battery.snapshot.State = sensor.StateFull
	assemble(t, a, battery, power, 6000)
	battery.snapshot.State = sensor.StateCharging
	s = assemble(t, a, battery, power, 7000)
	require.NotNil(t, s.SmoothedSystemW)
}

func TestChargerWattsOnlyWhileCharging(t *testing.T) {
	battery := &fakeBattery{snapshot: sensor.BatterySnapshot{
		State:             sensor.StateCharging,
		ExternalConnected: true,
		ChargerW:          ptr(60),
	}}
	power := &fakePower{}
	a := NewAssembler(battery, power, time.Second)

	s := assemble(t, a, battery, power, 1000)
	require.NotNil(t, s.ChargerW)
	assert.InDelta(t, 60.0, *s.ChargerW, 0.001)

	battery.snapshot.State = sensor.StateDischarging
	battery.snapshot.ExternalConnected = false
	s = assemble(t, a, battery, power, 2000)
	assert.Nil(t, s.ChargerW)
}

func TestSensorDeadline(t *testing.T) {
	battery := &fakeBattery{
		snapshot: sensor.BatterySnapshot{},
		delay:    ReadDeadline + 200*time.Millisecond,
	}
	a := NewAssembler(battery, &fakePower{}, time.Second)

	_, err := a.Assemble(context.Background(), 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}
