package session

import (
	"time"

	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

const (
	// fullToIdleAfter is how long the battery must sit at Full before a
	// charge session gives way to an idle session.
	fullToIdleAfter = 60 * time.Second

	gapFactor = 3
)

// Tracker consumes samples in order and maintains at most one open
// session in the store, detecting charge, discharge and idle intervals
// from state transitions. It is not safe for concurrent use; the
// recorder owns it.
type Tracker struct {
	store    *store.Store
	interval time.Duration
	logger   logger.Logger

	current *active
}

// active is the in-memory side of the open session row.
type active struct {
	id         int64
	kind       store.SessionKind
	startAt    int64
	lastSeenAt int64
	lastCharge float64
	hadPower   bool
	energyWs   float64
	fullSince  int64
}

func NewTracker(st *store.Store, interval time.Duration, log logger.Logger) *Tracker {
	return &Tracker{
		store:    st,
		interval: interval,
		logger:   log,
	}
}

// Resume picks up the most recent unclosed session after a restart.
// A session whose last observed sample is older than the gap threshold
// is closed there instead of being silently extended.
func (t *Tracker) Resume(now time.Time) error {
	row, err := t.store.OpenSessionRow()
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	lastSeen := row.StartAt
	if stats, err := t.store.Stats(); err == nil && stats.NewestSample != nil && *stats.NewestSample > lastSeen {
		lastSeen = *stats.NewestSample
	}

	age := now.UnixMilli() - lastSeen
	if age >= gapFactor*t.interval.Milliseconds() {
		t.logger.Info().
			Int64("session_id", row.ID).
			Str("kind", string(row.Kind)).
			Msg("Closing stale session from previous run")
		return t.store.CloseSession(row.ID, lastSeen, row.StartCharge, nil)
	}

	t.current = &active{
		id:         row.ID,
		kind:       row.Kind,
		startAt:    row.StartAt,
		lastSeenAt: lastSeen,
		lastCharge: row.StartCharge,
	}

	return nil
}

// Observe advances the state machine with one sample.
func (t *Tracker) Observe(smp sample.Sample) error {
	if t.current != nil {
		gap := smp.TakenAt - t.current.lastSeenAt
		if gap >= gapFactor*t.interval.Milliseconds() {
			// The daemon was asleep or stopped; close at the last
			// sample we actually saw.
			if err := t.closeCurrent(t.current.lastSeenAt, t.current.lastCharge); err != nil {
				return err
			}
		}
	}

	if t.current != nil {
		t.accumulate(smp)
	}

	desired, known := kindFor(smp.State)
	if !known {
		return nil
	}

	if t.current == nil {
		return t.open(desired, smp)
	}

	// Losing external power ends idling straight into a discharge,
	// even when the reported state has not caught up yet.
	if t.current.kind == store.SessionIdle && !smp.ExternalConnected {
		if err := t.closeCurrent(smp.TakenAt, smp.ChargePercent); err != nil {
			return err
		}
		return t.open(store.SessionDischarge, smp)
	}

	if desired == t.current.kind {
		t.current.fullSince = 0
		return nil
	}

	// A charge session outlives short stays at Full; only a sustained
	// Full hands over to Idle.
	if t.current.kind == store.SessionCharge && smp.State == sensor.StateFull {
		if t.current.fullSince == 0 {
			t.current.fullSince = smp.TakenAt
		}
		if smp.TakenAt-t.current.fullSince < fullToIdleAfter.Milliseconds() {
			return nil
		}
	}

	if err := t.closeCurrent(smp.TakenAt, smp.ChargePercent); err != nil {
		return err
	}

	// An idle state without external power opens a discharge session
	// instead of an idle one.
	if desired == store.SessionIdle && !smp.ExternalConnected {
		desired = store.SessionDischarge
	}

	return t.open(desired, smp)
}

// Flush closes the open session, if any, at the given instant. Called
// on shutdown.
func (t *Tracker) Flush(endAt int64) error {
	if t.current == nil {
		return nil
	}
	return t.closeCurrent(endAt, t.current.lastCharge)
}

func (t *Tracker) accumulate(smp sample.Sample) {
	dt := float64(smp.TakenAt-t.current.lastSeenAt) / 1000
	if dt < 0 {
		dt = 0
	}
	if smp.SystemW != nil && *smp.SystemW > 0 {
		t.current.energyWs += *smp.SystemW * dt
		t.current.hadPower = true
	}
	t.current.lastSeenAt = smp.TakenAt
	t.current.lastCharge = smp.ChargePercent
}

func (t *Tracker) open(kind store.SessionKind, smp sample.Sample) error {
	var chargerW *float64
	if kind == store.SessionCharge {
		chargerW = smp.ChargerW
	}

	id, err := t.store.OpenSession(kind, smp.TakenAt, smp.ChargePercent, chargerW)
	if err != nil {
		return err
	}

	t.logger.Debug().
		Str("kind", string(kind)).
		Int64("start_at", smp.TakenAt).
		Msg("Session opened")

	t.current = &active{
		id:         id,
		kind:       kind,
		startAt:    smp.TakenAt,
		lastSeenAt: smp.TakenAt,
		lastCharge: smp.ChargePercent,
	}

	return nil
}

func (t *Tracker) closeCurrent(endAt int64, endCharge float64) error {
	current := t.current
	t.current = nil

	var energy *float64
	if current.hadPower {
		wh := current.energyWs / 3600
		energy = &wh
	}

	if err := t.store.CloseSession(current.id, endAt, endCharge, energy); err != nil {
		return err
	}

	t.logger.Debug().
		Str("kind", string(current.kind)).
		Int64("end_at", endAt).
		Msg("Session closed")

	return nil
}

func kindFor(state sensor.ChargeState) (store.SessionKind, bool) {
	switch state {
	case sensor.StateCharging:
		return store.SessionCharge, true
	case sensor.StateDischarging:
		return store.SessionDischarge, true
	case sensor.StateFull, sensor.StateNotCharging:
		return store.SessionIdle, true
	default:
		return "", false
	}
}
