package sample

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/sensor"
)

const (
	// ReadDeadline bounds one sensor read; a slower read fails the tick.
	ReadDeadline = 500 * time.Millisecond

	smoothingWindow = 5
	smoothingWarmup = 3
	gapFactor       = 3
)

// Assembler merges one battery snapshot and one power snapshot into a
// canonical Sample and maintains the power smoothing window. It is not
// safe for concurrent use; the recorder owns it.
type Assembler struct {
	battery  sensor.BatterySource
	power    sensor.PowerSource
	interval time.Duration

	window      []float64
	lastTakenAt int64
	lastState   sensor.ChargeState
}

func NewAssembler(battery sensor.BatterySource, power sensor.PowerSource, interval time.Duration) *Assembler {
	return &Assembler{
		battery:  battery,
		power:    power,
		interval: interval,
		window:   make([]float64, 0, smoothingWindow),
	}
}

// Assemble reads both sources concurrently, joins the results on
// takenAt and computes the smoothed system power.
func (a *Assembler) Assemble(ctx context.Context, takenAt int64) (Sample, error) {
	var battery sensor.BatterySnapshot
	var power sensor.PowerSnapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		battery, err = readBattery(ctx, a.battery)
		return err
	})
	g.Go(func() error {
		var err error
		power, err = readPower(ctx, a.power)
		return err
	})
	if err := g.Wait(); err != nil {
		return Sample{}, err
	}

	s := Sample{
		TakenAt:           takenAt,
		ChargePercent:     battery.ChargePercent,
		State:             battery.State,
		HealthPercent:     battery.HealthPercent(),
		CPUW:              power.CPUW,
		GPUW:              power.GPUW,
		SystemW:           power.SystemW,
		ExternalConnected: battery.ExternalConnected,
	}

	if battery.State == sensor.StateCharging && battery.ExternalConnected {
		s.ChargerW = battery.ChargerW
	}

	a.advanceWindow(&s)

	return s, nil
}

// Reset clears the smoothing window, e.g. after the daemon slept.
func (a *Assembler) Reset() {
	a.window = a.window[:0]
}

func (a *Assembler) advanceWindow(s *Sample) {
	if a.lastTakenAt != 0 {
		gap := time.Duration(s.TakenAt-a.lastTakenAt) * time.Millisecond
		if gap >= gapFactor*a.interval {
			a.Reset()
		}
	}
	if chargeFlip(a.lastState, s.State) {
		a.Reset()
	}
	a.lastTakenAt = s.TakenAt
	a.lastState = s.State

	if s.SystemW == nil {
		return
	}

	a.window = append(a.window, *s.SystemW)
	if len(a.window) > smoothingWindow {
		a.window = a.window[1:]
	}

	if len(a.window) < smoothingWarmup {
		return
	}

	var sum float64
	for _, w := range a.window {
		sum += w
	}
	mean := sum / float64(len(a.window))
	s.SmoothedSystemW = &mean
}

// chargeFlip reports a transition between Charging and Discharging in
// either direction.
func chargeFlip(prev, next sensor.ChargeState) bool {
	return (prev == sensor.StateCharging && next == sensor.StateDischarging) ||
		(prev == sensor.StateDischarging && next == sensor.StateCharging)
}

func readBattery(ctx context.Context, source sensor.BatterySource) (sensor.BatterySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()

	type result struct {
		snapshot sensor.BatterySnapshot
		err      error
	}
	done := make(chan result, 1)
	go func() {
		snapshot, err := source.Read()
		done <- result{snapshot, err}
	}()

	select {
	case r := <-done:
		return r.snapshot, r.err
	case <-ctx.Done():
		return sensor.BatterySnapshot{}, errors.New().Wrap(errors.ErrSensorTimeout, ctx.Err())
	}
}

func readPower(ctx context.Context, source sensor.PowerSource) (sensor.PowerSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()

	type result struct {
		snapshot sensor.PowerSnapshot
		err      error
	}
	done := make(chan result, 1)
	go func() {
		snapshot, err := source.Read()
		done <- result{snapshot, err}
	}()

	select {
	case r := <-done:
		return r.snapshot, r.err
	case <-ctx.Done():
		return sensor.PowerSnapshot{}, errors.New().Wrap(errors.ErrSensorTimeout, ctx.Err())
	}
}
