package aggregate

import (
	"time"

	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

const (
	hourMS = int64(time.Hour / time.Millisecond)
	dayMS  = int64(24 * time.Hour / time.Millisecond)

	// deltaClampFactor bounds one sample's weight so a recording gap
	// cannot smear its last power reading across the whole gap.
	deltaClampFactor = 2
)

// Aggregator computes hourly and daily rollups from raw samples. All
// operations are idempotent: re-running over the same range rewrites
// identical rows.
type Aggregator struct {
	store    *store.Store
	interval time.Duration
	logger   logger.Logger
}

func New(st *store.Store, interval time.Duration, log logger.Logger) *Aggregator {
	return &Aggregator{
		store:    st,
		interval: interval,
		logger:   log,
	}
}

// AggregateHour rolls up the hour starting at hourStart (epoch ms,
// aligned to the top of a UTC hour). Hours with no samples produce no
// row.
func (a *Aggregator) AggregateHour(hourStart int64) (bool, error) {
	stat, err := a.computeHour(hourStart)
	if err != nil || stat == nil {
		return false, err
	}

	if err := a.store.UpsertHourly(*stat); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Aggregator) computeHour(hourStart int64) (*store.HourlyStat, error) {
	hourEnd := hourStart + hourMS
	samples, err := a.store.RangeSamples(hourStart, hourEnd)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	stat := &store.HourlyStat{
		HourStart: hourStart,
		MinCharge: samples[0].ChargePercent,
		MaxCharge: samples[0].ChargePercent,
	}

	var chargeSum float64
	var weightSum, energy float64

	for i, smp := range samples {
		chargeSum += smp.ChargePercent
		if smp.ChargePercent < stat.MinCharge {
			stat.MinCharge = smp.ChargePercent
		}
		if smp.ChargePercent > stat.MaxCharge {
			stat.MaxCharge = smp.ChargePercent
		}

		if smp.SystemW == nil {
			continue
		}
		stat.SampleCount++

		dt := a.sampleWeight(samples, i, hourEnd)
		weightSum += dt
		energy += *smp.SystemW * dt
	}

	stat.AvgCharge = chargeSum / float64(len(samples))
	if weightSum > 0 {
		stat.AvgPowerW = energy / weightSum
	}
	stat.EnergyWh = energy / 3600

	return stat, nil
}

// sampleWeight is the seconds sample i covers: the gap to the next
// sample, or to the end of the window for the last one, clamped to
// [0, 2x interval].
func (a *Aggregator) sampleWeight(samples []sample.Sample, i int, windowEnd int64) float64 {
	var gapMS int64
	if i+1 < len(samples) {
		gapMS = samples[i+1].TakenAt - samples[i].TakenAt
	} else {
		gapMS = windowEnd - samples[i].TakenAt
	}

	if gapMS < 0 {
		gapMS = 0
	}
	clampMS := deltaClampFactor * int64(a.interval/time.Millisecond)
	if gapMS > clampMS {
		gapMS = clampMS
	}

	return float64(gapMS) / 1000
}

// AggregateDay rolls up one local calendar day from its hourly rollups
// plus the raw samples needed for screen time and partial cycles.
func (a *Aggregator) AggregateDay(day string) (bool, error) {
	dayStart, err := localDayStart(day)
	if err != nil {
		return false, err
	}
	dayEnd := dayStart + dayMS

	hourly, err := a.store.HourlyStats(dayStart, dayEnd)
	if err != nil {
		return false, err
	}
	samples, err := a.store.RangeSamples(dayStart, dayEnd)
	if err != nil {
		return false, err
	}
	if len(hourly) == 0 && len(samples) == 0 {
		return false, nil
	}

	stat := store.DailyStat{Day: day}

	var weightSum, powerSum float64
	first := true
	for _, h := range hourly {
		stat.EnergyWh += h.EnergyWh
		w := float64(h.SampleCount)
		weightSum += w
		powerSum += h.AvgPowerW * w
		if first || h.MinCharge < stat.MinCharge {
			stat.MinCharge = h.MinCharge
		}
		if first || h.MaxCharge > stat.MaxCharge {
			stat.MaxCharge = h.MaxCharge
		}
		first = false
	}
	if weightSum > 0 {
		stat.AvgPowerW = powerSum / weightSum
	}

	stat.ScreenTimeS = a.screenTime(samples, dayEnd)

	if err := a.store.UpsertDaily(stat); err != nil {
		return false, err
	}

	if err := a.aggregateDailyCycle(day, dayStart, dayEnd, samples); err != nil {
		return false, err
	}

	return true, nil
}

// screenTime sums sample weights over states that proxy active use.
func (a *Aggregator) screenTime(samples []sample.Sample, dayEnd int64) int64 {
	var total float64
	for i, smp := range samples {
		if smp.State != sensor.StateDischarging && smp.State != sensor.StateNotCharging {
			continue
		}
		total += a.sampleWeight(samples, i, dayEnd)
	}
	return int64(total)
}

// partialCycles sums discharge drops between consecutive samples where
// the earlier sample was discharging.
func partialCycles(samples []sample.Sample) float64 {
	var total float64
	for i := 1; i < len(samples); i++ {
		if samples[i-1].State != sensor.StateDischarging {
			continue
		}
		drop := samples[i-1].ChargePercent - samples[i].ChargePercent
		if drop > 0 {
			total += drop
		}
	}
	return total / 100
}

func (a *Aggregator) aggregateDailyCycle(day string, dayStart, dayEnd int64, samples []sample.Sample) error {
	sessions, err := a.store.Sessions(dayStart, dayEnd, nil)
	if err != nil {
		return err
	}

	cycle := store.DailyCycle{
		Day:           day,
		PartialCycles: partialCycles(samples),
	}

	var chargingMS, dischargeMS int64
	for _, session := range sessions {
		duration := int64(0)
		if session.EndAt != nil {
			duration = *session.EndAt - session.StartAt
		}

		switch session.Kind {
		case store.SessionCharge:
			cycle.ChargeSessions++
			chargingMS += duration
			if session.EnergyWh != nil {
				cycle.EnergyChargedWh += *session.EnergyWh
			}
		case store.SessionDischarge:
			cycle.DischargeSessions++
			dischargeMS += duration
			if session.EnergyWh != nil {
				cycle.EnergyDischargedWh += *session.EnergyWh
			}
			if session.EndCharge != nil {
				if cycle.DeepestDischarge == nil || *session.EndCharge < *cycle.DeepestDischarge {
					end := *session.EndCharge
					cycle.DeepestDischarge = &end
				}
			}
		}
	}
	cycle.ChargingMins = int(chargingMS / 60_000)
	cycle.DischargeMins = int(dischargeMS / 60_000)

	return a.store.UpsertDailyCycle(cycle)
}

// AggregateCompletedHours rolls up every fully elapsed hour that has
// samples but no rollup yet. Returns how many rows were written.
func (a *Aggregator) AggregateCompletedHours(now time.Time) (int, error) {
	stats, err := a.store.Stats()
	if err != nil {
		return 0, err
	}
	if stats.OldestSample == nil {
		return 0, nil
	}

	currentHour := now.UTC().Truncate(time.Hour).UnixMilli()
	hour := (*stats.OldestSample / hourMS) * hourMS

	written := 0
	for ; hour < currentHour; hour += hourMS {
		existing, err := a.store.HourlyStats(hour, hour+1)
		if err != nil {
			return written, err
		}
		if len(existing) > 0 {
			continue
		}
		ok, err := a.AggregateHour(hour)
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}

	if written > 0 {
		a.logger.Info().Int("hours", written).Msg("Aggregated hourly stats")
	}

	return written, nil
}

// AggregateCompletedDays rolls up every fully elapsed local day that
// has samples but no daily rollup yet.
func (a *Aggregator) AggregateCompletedDays(now time.Time) (int, error) {
	stats, err := a.store.Stats()
	if err != nil {
		return 0, err
	}
	if stats.OldestSample == nil {
		return 0, nil
	}

	today := DayOf(now)
	day := DayOf(time.UnixMilli(*stats.OldestSample))

	written := 0
	for day < today {
		existing, err := a.store.DailyStats(day, day)
		if err != nil {
			return written, err
		}
		if len(existing) == 0 {
			ok, err := a.AggregateDay(day)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
		day = nextDay(day)
	}

	if written > 0 {
		a.logger.Info().Int("days", written).Msg("Aggregated daily stats")
	}

	return written, nil
}

// DayOf formats t as the local calendar day key.
func DayOf(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

func localDayStart(day string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func nextDay(day string) string {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}
