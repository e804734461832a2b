package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

type scriptedBattery struct {
	snapshot sensor.BatterySnapshot
	fail     bool
}

func (f *scriptedBattery) Read() (sensor.BatterySnapshot, error) {
	if f.fail {
		return sensor.BatterySnapshot{}, errors.New().New(errors.ErrSensorUnavailable)
	}
	return f.snapshot, nil
}

type scriptedPower struct {
	snapshot sensor.PowerSnapshot
}

func (f *scriptedPower) Read() (sensor.PowerSnapshot, error) {
	return f.snapshot, nil
}

func ptr(v float64) *float64 { return &v }

func newTestRecorder(t *testing.T, cfg Config, battery *scriptedBattery, power *scriptedPower) (*Recorder, *store.Store) {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "history.db")}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rec, err := New(cfg, st, battery, power, nil, logger.Default())
	require.NoError(t, err)
	rec.lastDay = "1970-01-01"
	rec.lastHealthDay = "1970-01-01"

	return rec, st
}

func defaultConfig() Config {
	return Config{Interval: time.Second, RetentionDays: 7}
}

func TestConfigValidate(t *testing.T) {
	err := Config{Interval: 50 * time.Millisecond}.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidInterval, errors.CodeOf(err))

	require.NoError(t, Config{Interval: 100 * time.Millisecond}.Validate())
}

func TestTickPersistsAndBroadcasts(t *testing.T) {
	battery := &scriptedBattery{snapshot: sensor.BatterySnapshot{
		ChargePercent: 80,
		State:         sensor.StateDischarging,
	}}
	power := &scriptedPower{snapshot: sensor.PowerSnapshot{SystemW: ptr(12)}}
	rec, st := newTestRecorder(t, defaultConfig(), battery, power)

	var broadcasted []sample.Sample
	rec.SetBroadcast(func(smp sample.Sample) {
		broadcasted = append(broadcasted, smp)
	})

	rec.tick(context.Background(), time.UnixMilli(1000))
	rec.tick(context.Background(), time.UnixMilli(2000))

	samples, err := st.RecentSamples(10)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	require.Len(t, broadcasted, 2, "each durable sample is broadcast")
	assert.EqualValues(t, 1000, broadcasted[0].TakenAt)
	assert.EqualValues(t, 2000, broadcasted[1].TakenAt)

	diag := rec.Diagnostics()
	assert.EqualValues(t, 2, diag.TickCount)
	assert.EqualValues(t, 0, diag.TickMisses)
	assert.EqualValues(t, 2000, diag.LastSampleAt)

	// The session tracker opened a discharge session.
	sessions, err := st.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, store.SessionDischarge, sessions[0].Kind)
}

func TestFailedTickWritesNoRow(t *testing.T) {
	battery := &scriptedBattery{fail: true}
	power := &scriptedPower{}
	rec, st := newTestRecorder(t, defaultConfig(), battery, power)

	var broadcasts int
	rec.SetBroadcast(func(sample.Sample) { broadcasts++ })

	rec.tick(context.Background(), time.UnixMilli(1000))

	samples, err := st.RecentSamples(10)
	require.NoError(t, err)
	assert.Empty(t, samples, "no row on a missed tick")
	assert.Zero(t, broadcasts)

	diag := rec.Diagnostics()
	assert.EqualValues(t, 1, diag.TickCount)
	assert.EqualValues(t, 1, diag.TickMisses)

	// Recovery on the next tick.
	battery.fail = false
	rec.tick(context.Background(), time.UnixMilli(2000))
	samples, err = st.RecentSamples(10)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestRetentionPrunesOldSamples(t *testing.T) {
	battery := &scriptedBattery{snapshot: sensor.BatterySnapshot{
		ChargePercent: 50,
		State:         sensor.StateDischarging,
	}}
	power := &scriptedPower{}
	rec, st := newTestRecorder(t, defaultConfig(), battery, power)

	dayMS := int64(86_400_000)
	now := time.UnixMilli(30 * dayMS)

	// Ten days of one sample each, the oldest well past retention.
	for i := int64(20); i <= 29; i++ {
		require.NoError(t, st.InsertSample(sample.Sample{
			TakenAt:       i * dayMS,
			ChargePercent: 50,
			State:         sensor.StateDischarging,
		}))
	}

	rec.maybeRetain(now)

	samples, err := st.RangeSamples(0, 100*dayMS)
	require.NoError(t, err)
	require.Len(t, samples, 7, "retention_days of raw samples survive")
	assert.EqualValues(t, 23*dayMS, samples[0].TakenAt)

	// A second pass within the minute is a no-op by schedule.
	require.NoError(t, st.InsertSample(sample.Sample{
		TakenAt:       1000,
		ChargePercent: 50,
		State:         sensor.StateDischarging,
	}))
	rec.maybeRetain(now.Add(time.Second))
	samples, err = st.RangeSamples(0, 2000)
	require.NoError(t, err)
	assert.Len(t, samples, 1, "retention is rate limited")
}

func TestHealthSnapshotOncePerDay(t *testing.T) {
	battery := &scriptedBattery{snapshot: sensor.BatterySnapshot{
		ChargePercent:    50,
		State:            sensor.StateDischarging,
		MaxCapacityWh:    50,
		DesignCapacityWh: 57,
	}}
	power := &scriptedPower{}
	rec, st := newTestRecorder(t, defaultConfig(), battery, power)

	now := time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC)
	rec.maybeRecordHealth(now)
	rec.maybeRecordHealth(now.Add(time.Hour))

	snapshots, err := st.HealthSnapshots("2026-08-06", "2026-08-06")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.InDelta(t, 87.7, snapshots[0].HealthPercent, 0.1)
}
