package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "history.db")}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func observe(t *testing.T, tr *Tracker, takenAt int64, charge float64, state sensor.ChargeState, opts ...func(*sample.Sample)) {
	t.Helper()
	smp := sample.Sample{
		TakenAt:           takenAt,
		ChargePercent:     charge,
		State:             state,
		ExternalConnected: state.IsPluggedIn(),
	}
	for _, opt := range opts {
		opt(&smp)
	}
	require.NoError(t, tr.Observe(smp))
}

func TestDischargeSessionClose(t *testing.T) {
	s := openTestStore(t)
	tr := NewTracker(s, time.Second, logger.Default())

	observe(t, tr, 1000, 80, sensor.StateDischarging)
	observe(t, tr, 2000, 79, sensor.StateDischarging)
	observe(t, tr, 3000, 79, sensor.StateCharging)

	sessions, err := s.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	discharge := sessions[0]
	assert.Equal(t, store.SessionDischarge, discharge.Kind)
	assert.EqualValues(t, 1000, discharge.StartAt)
	require.NotNil(t, discharge.EndAt)
	assert.EqualValues(t, 3000, *discharge.EndAt)
	assert.InDelta(t, 80.0, discharge.StartCharge, 0.001)
	require.NotNil(t, discharge.EndCharge)
	assert.InDelta(t, 79.0, *discharge.EndCharge, 0.001)

	charge := sessions[1]
	assert.Equal(t, store.SessionCharge, charge.Kind)
	assert.EqualValues(t, 3000, charge.StartAt)
	assert.Nil(t, charge.EndAt, "charge session stays open")
}

func TestFlipClosesExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	tr := NewTracker(s, time.Second, logger.Default())

	observe(t, tr, 1000, 80, sensor.StateDischarging)
	// The flip shows up in two consecutive samples.
	observe(t, tr, 2000, 80, sensor.StateCharging)
	observe(t, tr, 3000, 81, sensor.StateCharging)

	sessions, err := s.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2, "one close, one open; no duplicates")
	assert.NotNil(t, sessions[0].EndAt)
	assert.Nil(t, sessions[1].EndAt)
}

func TestGapClosesAtLastObservedSample(t *testing.T) {
	s := openTestStore(t)
	tr := NewTracker(s, time.Second, logger.Default())

	observe(t, tr, 1000, 80, sensor.StateDischarging)
	observe(t, tr, 2000, 79, sensor.StateDischarging)
	// 5 seconds of silence exceeds the 3x interval threshold.
	observe(t, tr, 7000, 70, sensor.StateDischarging)

	sessions, err := s.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	closed := sessions[0]
	require.NotNil(t, closed.EndAt)
	assert.EqualValues(t, 2000, *closed.EndAt, "closed at last observed sample, not the gap end")
	require.NotNil(t, closed.EndCharge)
	assert.InDelta(t, 79.0, *closed.EndCharge, 0.001)

	reopened := sessions[1]
	assert.EqualValues(t, 7000, reopened.StartAt)
	assert.Nil(t, reopened.EndAt)
}

func TestChargeToIdleAfterSustainedFull(t *testing.T) {
	s := openTestStore(t)
	// Wide interval keeps the sparse samples below the gap threshold.
	tr := NewTracker(s, 30*time.Second, logger.Default())

	observe(t, tr, 0, 95, sensor.StateCharging)
	observe(t, tr, 1000, 100, sensor.StateFull)
	observe(t, tr, 30_000, 100, sensor.StateFull)

	sessions, err := s.Sessions(0, 200_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "short Full does not end the charge session")

	observe(t, tr, 61_000, 100, sensor.StateFull)

	sessions, err = s.Sessions(0, 200_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, store.SessionCharge, sessions[0].Kind)
	require.NotNil(t, sessions[0].EndAt)
	assert.Equal(t, store.SessionIdle, sessions[1].Kind)
}

func TestIdleUnplugOpensDischarge(t *testing.T) {
	s := openTestStore(t)
	tr := NewTracker(s, time.Second, logger.Default())

	observe(t, tr, 0, 100, sensor.StateFull)
	// Still reported NotCharging, but the cable is gone.
	observe(t, tr, 1000, 100, sensor.StateNotCharging, func(smp *sample.Sample) {
		smp.ExternalConnected = false
	})

	sessions, err := s.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, store.SessionIdle, sessions[0].Kind)
	assert.Equal(t, store.SessionDischarge, sessions[1].Kind)
	assert.Nil(t, sessions[1].EndAt)
}

func TestDischargeEnergyAccumulates(t *testing.T) {
	s := openTestStore(t)
	tr := NewTracker(s, time.Second, logger.Default())

	observe(t, tr, 0, 80, sensor.StateDischarging)
	for i := int64(1); i <= 10; i++ {
		observe(t, tr, i*1000, 80, sensor.StateDischarging, func(smp *sample.Sample) {
			smp.SystemW = ptr(36)
		})
	}
	observe(t, tr, 11_000, 79, sensor.StateCharging)

	kind := store.SessionDischarge
	sessions, err := s.Sessions(0, 100_000, &kind)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EnergyWh)
	// 36 W over 10 s is 0.1 Wh.
	assert.InDelta(t, 0.1, *sessions[0].EnergyWh, 0.001)
}

func TestResumeReopensRecentSession(t *testing.T) {
	s := openTestStore(t)

	tr := NewTracker(s, time.Second, logger.Default())
	observe(t, tr, 1000, 80, sensor.StateDischarging)

	// New tracker, as after a daemon restart moments later.
	tr2 := NewTracker(s, time.Second, logger.Default())
	require.NoError(t, tr2.Resume(time.UnixMilli(2000)))
	observe(t, tr2, 2000, 79, sensor.StateDischarging)

	sessions, err := s.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "resumed instead of opening a second session")
	assert.Nil(t, sessions[0].EndAt)
}

func TestResumeClosesStaleSession(t *testing.T) {
	s := openTestStore(t)

	tr := NewTracker(s, time.Second, logger.Default())
	observe(t, tr, 1000, 80, sensor.StateDischarging)

	// Restart far in the future: the open session is stale.
	tr2 := NewTracker(s, time.Second, logger.Default())
	require.NoError(t, tr2.Resume(time.UnixMilli(3_600_000)))

	sessions, err := s.Sessions(0, 10_000_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndAt)

	// The next sample starts fresh.
	observe(t, tr2, 3_600_000, 70, sensor.StateDischarging)
	sessions, err = s.Sessions(0, 10_000_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestFlushClosesOnShutdown(t *testing.T) {
	s := openTestStore(t)
	tr := NewTracker(s, time.Second, logger.Default())

	observe(t, tr, 1000, 80, sensor.StateDischarging)
	require.NoError(t, tr.Flush(2000))

	sessions, err := s.Sessions(0, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndAt)
	assert.EqualValues(t, 2000, *sessions[0].EndAt)
}
