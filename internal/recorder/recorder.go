package recorder

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/jolt/internal/aggregate"
	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/session"
	"codeberg.org/mutker/jolt/internal/store"
)

const (
	retentionEvery = 60 * time.Second
	vacuumEvery    = 24 * time.Hour

	// Closed sessions are kept longer than raw samples.
	sessionRetentionFactor = 4

	topProcessCount = 10
)

// Config carries the recorder's slice of the daemon configuration.
type Config struct {
	Interval         time.Duration
	RetentionDays    int
	MaxDatabaseMB    int
	ProcessTelemetry bool
}

func (c Config) Validate() error {
	if c.Interval < 100*time.Millisecond {
		return errors.New().WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	return nil
}

// Recorder owns the sample-production timeline: it is the only writer
// of store rows. One tick reads the sensors, persists the sample,
// advances the session tracker and periodically runs aggregation and
// retention.
type Recorder struct {
	cfg        Config
	store      *store.Store
	assembler  *sample.Assembler
	tracker    *session.Tracker
	aggregator *aggregate.Aggregator
	battery    sensor.BatterySource
	processes  sensor.ProcessSource
	broadcast  func(sample.Sample)
	logger     logger.Logger

	tickCount    atomic.Int64
	tickMisses   atomic.Int64
	lastSampleAt atomic.Int64

	lastHour      int64
	lastDay       string
	lastHealthDay string
	lastRetention time.Time
	lastVacuum    time.Time

	dayCPU         map[string]float64
	daySmoothSum   float64
	daySmoothCount int64
}

// New wires a recorder. processes may be nil; broadcast may be nil
// until the IPC server is attached.
func New(cfg Config, st *store.Store, battery sensor.BatterySource, power sensor.PowerSource, processes sensor.ProcessSource, log logger.Logger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Recorder{
		cfg:        cfg,
		store:      st,
		assembler:  sample.NewAssembler(battery, power, cfg.Interval),
		tracker:    session.NewTracker(st, cfg.Interval, log),
		aggregator: aggregate.New(st, cfg.Interval, log),
		battery:    battery,
		processes:  processes,
		logger:     log,
		dayCPU:     make(map[string]float64),
	}, nil
}

// SetBroadcast attaches the subscriber fan-out. Must be called before
// Run.
func (r *Recorder) SetBroadcast(fn func(sample.Sample)) {
	r.broadcast = fn
}

// Diagnostics are the recorder's tick counters for the status surface.
type Diagnostics struct {
	TickCount    int64
	TickMisses   int64
	LastSampleAt int64
}

func (r *Recorder) Diagnostics() Diagnostics {
	return Diagnostics{
		TickCount:    r.tickCount.Load(),
		TickMisses:   r.tickMisses.Load(),
		LastSampleAt: r.lastSampleAt.Load(),
	}
}

// Run executes the tick loop until the context is cancelled, then
// closes the open session at the last observed sample.
func (r *Recorder) Run(ctx context.Context) error {
	now := time.Now()
	if err := r.tracker.Resume(now); err != nil {
		return err
	}
	r.lastHour = now.UTC().Truncate(time.Hour).UnixMilli()
	r.lastDay = aggregate.DayOf(now)

	// Catch up on anything a previous run left unrolled.
	if _, err := r.aggregator.AggregateCompletedHours(now); err != nil {
		r.logger.Warn().Err(err).Msg("Startup hourly aggregation failed")
	}
	if _, err := r.aggregator.AggregateCompletedDays(now); err != nil {
		r.logger.Warn().Err(err).Msg("Startup daily aggregation failed")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if last := r.lastSampleAt.Load(); last > 0 {
				if err := r.tracker.Flush(last); err != nil {
					r.logger.Warn().Err(err).Msg("Failed to close session on shutdown")
				}
			}
			return nil
		case tickAt := <-ticker.C:
			r.tick(ctx, tickAt)
		}
	}
}

func (r *Recorder) tick(ctx context.Context, now time.Time) {
	r.tickCount.Add(1)
	takenAt := now.UnixMilli()

	smp, err := r.assembler.Assemble(ctx, takenAt)
	if err != nil {
		r.tickMisses.Add(1)
		r.logger.Debug().Err(err).Msg("Tick missed")
		return
	}

	if err := r.store.InsertSample(smp); err != nil {
		r.tickMisses.Add(1)
		r.logger.Error().Err(err).Msg("Failed to persist sample")
		return
	}
	r.lastSampleAt.Store(takenAt)

	if err := r.tracker.Observe(smp); err != nil {
		r.logger.Warn().Err(err).Msg("Session tracking failed")
	}

	r.accumulateDay(smp)
	r.maybeAggregate(now)
	r.maybeRetain(now)

	// Subscribers only ever see durably inserted samples.
	if r.broadcast != nil {
		r.broadcast(smp)
	}
}

// maybeAggregate runs hourly aggregation when the tick crosses an hour
// boundary and daily aggregation plus the health snapshot when it
// crosses a day boundary.
func (r *Recorder) maybeAggregate(now time.Time) {
	hour := now.UTC().Truncate(time.Hour).UnixMilli()
	if hour != r.lastHour {
		r.lastHour = hour
		if _, err := r.aggregator.AggregateCompletedHours(now); err != nil {
			r.logger.Error().Err(err).Msg("Hourly aggregation failed")
		}
	}

	day := aggregate.DayOf(now)
	if day != r.lastDay {
		r.flushTopProcesses(r.lastDay)
		r.dayCPU = make(map[string]float64)
		r.daySmoothSum, r.daySmoothCount = 0, 0
		r.lastDay = day

		if _, err := r.aggregator.AggregateCompletedDays(now); err != nil {
			r.logger.Error().Err(err).Msg("Daily aggregation failed")
		}
	}

	r.maybeRecordHealth(now)
}

// maybeRecordHealth writes one battery health snapshot per UTC day.
func (r *Recorder) maybeRecordHealth(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day == r.lastHealthDay {
		return
	}

	snapshot, err := r.battery.Read()
	if err != nil {
		r.logger.Debug().Err(err).Msg("Health snapshot skipped")
		return
	}
	health := snapshot.HealthPercent()
	if health == nil {
		r.lastHealthDay = day
		return
	}

	record := store.HealthSnapshot{
		Day:              day,
		MaxCapacityWh:    snapshot.MaxCapacityWh,
		DesignCapacityWh: snapshot.DesignCapacityWh,
		CycleCount:       snapshot.CycleCount,
		HealthPercent:    *health,
	}
	if err := r.store.UpsertHealthSnapshot(record); err != nil {
		r.logger.Error().Err(err).Msg("Failed to record battery health")
		return
	}
	r.lastHealthDay = day

	r.logger.Info().
		Str("day", day).
		Float64("health_percent", *health).
		Msg("Battery health recorded")
}

// maybeRetain prunes old rows at most once per minute and compacts at
// most once per day.
func (r *Recorder) maybeRetain(now time.Time) {
	if r.cfg.RetentionDays <= 0 {
		return
	}
	if now.Sub(r.lastRetention) < retentionEvery {
		return
	}
	r.lastRetention = now

	cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays).UnixMilli()
	deleted, err := r.store.PruneSamplesBefore(cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Sample retention failed")
		return
	}

	sessionCutoff := now.AddDate(0, 0, -sessionRetentionFactor*r.cfg.RetentionDays).UnixMilli()
	sessionsDeleted, err := r.store.PruneSessionsBefore(sessionCutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Session retention failed")
		return
	}

	if deleted > 0 || sessionsDeleted > 0 {
		r.logger.Info().
			Int64("samples", deleted).
			Int64("sessions", sessionsDeleted).
			Msg("Pruned old records")
	}

	r.maybeCompact(now)
}

func (r *Recorder) maybeCompact(now time.Time) {
	if now.Sub(r.lastVacuum) < vacuumEvery {
		return
	}

	if r.cfg.MaxDatabaseMB > 0 {
		size, err := r.store.SizeBytes()
		if err == nil && size > int64(r.cfg.MaxDatabaseMB)*1024*1024 {
			// Prune raw samples older than half the retention window,
			// once; the size is not re-checked after the prune.
			aggressive := now.AddDate(0, 0, -r.cfg.RetentionDays/2).UnixMilli()
			if _, err := r.store.PruneSamplesBefore(aggressive); err != nil {
				r.logger.Error().Err(err).Msg("Size-based prune failed")
			}
		}
	}

	r.lastVacuum = now
	if err := r.store.Vacuum(); err != nil {
		r.logger.Error().Err(err).Msg("Compaction failed")
		return
	}
	r.logger.Debug().Msg("Database compacted")
}

// accumulateDay tracks per-process CPU and smoothed power for the
// day's top-process ranking.
func (r *Recorder) accumulateDay(smp sample.Sample) {
	if smp.SmoothedSystemW != nil {
		r.daySmoothSum += *smp.SmoothedSystemW
		r.daySmoothCount++
	}

	if !r.cfg.ProcessTelemetry || r.processes == nil {
		return
	}

	samples, err := r.processes.Read()
	if err != nil {
		r.logger.Debug().Err(err).Msg("Process telemetry read failed")
		return
	}
	for _, p := range samples {
		r.dayCPU[p.Name] += p.CPUSeconds
	}
}

// flushTopProcesses writes the day's ranking: cpu seconds weighted by
// the day's average smoothed draw, ordered by score, then name for a
// stable total order.
func (r *Recorder) flushTopProcesses(day string) {
	if !r.cfg.ProcessTelemetry || len(r.dayCPU) == 0 {
		return
	}

	avgW := 1.0
	if r.daySmoothCount > 0 {
		avgW = r.daySmoothSum / float64(r.daySmoothCount)
	}

	ranking := make([]store.TopProcess, 0, len(r.dayCPU))
	for name, cpuSeconds := range r.dayCPU {
		ranking = append(ranking, store.TopProcess{
			Day:         day,
			Name:        name,
			CPUSeconds:  cpuSeconds,
			EnergyScore: cpuSeconds * avgW,
		})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].EnergyScore != ranking[j].EnergyScore {
			return ranking[i].EnergyScore > ranking[j].EnergyScore
		}
		return ranking[i].Name < ranking[j].Name
	})
	if len(ranking) > topProcessCount {
		ranking = ranking[:topProcessCount]
	}
	for i := range ranking {
		ranking[i].Rank = i + 1
	}

	if err := r.store.ReplaceTopProcesses(day, ranking); err != nil {
		r.logger.Error().Err(err).Msg("Failed to record top processes")
	}
}
