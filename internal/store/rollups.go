package store

import (
	"database/sql"

	"codeberg.org/mutker/jolt/internal/errors"
)

// HourlyStat is one hour of rolled-up samples. HourStart is aligned to
// the top of the hour, UTC, in epoch milliseconds.
type HourlyStat struct {
	HourStart   int64   `json:"hour_start"`
	AvgCharge   float64 `json:"avg_charge"`
	MinCharge   float64 `json:"min_charge"`
	MaxCharge   float64 `json:"max_charge"`
	AvgPowerW   float64 `json:"avg_power_w"`
	EnergyWh    float64 `json:"energy_wh"`
	SampleCount int     `json:"sample_count"`
}

// DailyStat is one local calendar day of rolled-up hourly stats.
type DailyStat struct {
	Day         string  `json:"day"`
	AvgPowerW   float64 `json:"avg_power_w"`
	EnergyWh    float64 `json:"energy_wh"`
	ScreenTimeS int64   `json:"screen_time_s"`
	MinCharge   float64 `json:"min_charge"`
	MaxCharge   float64 `json:"max_charge"`
}

// DailyCycle summarizes battery cycling over one local day.
type DailyCycle struct {
	Day                string   `json:"day"`
	ChargeSessions     int      `json:"charge_sessions"`
	DischargeSessions  int      `json:"discharge_sessions"`
	ChargingMins       int      `json:"charging_mins"`
	DischargeMins      int      `json:"discharge_mins"`
	EnergyChargedWh    float64  `json:"energy_charged_wh"`
	EnergyDischargedWh float64  `json:"energy_discharged_wh"`
	PartialCycles      float64  `json:"partial_cycles"`
	DeepestDischarge   *float64 `json:"deepest_discharge,omitempty"`
}

// UpsertHourly replaces the rollup for its hour.
func (s *Store) UpsertHourly(stat HourlyStat) error {
	return s.write(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO hourly_stats (hour_start, avg_charge, min_charge, max_charge, avg_power_w, energy_wh, sample_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(hour_start) DO UPDATE SET
			    avg_charge = excluded.avg_charge,
			    min_charge = excluded.min_charge,
			    max_charge = excluded.max_charge,
			    avg_power_w = excluded.avg_power_w,
			    energy_wh = excluded.energy_wh,
			    sample_count = excluded.sample_count`,
			stat.HourStart, stat.AvgCharge, stat.MinCharge, stat.MaxCharge,
			stat.AvgPowerW, stat.EnergyWh, stat.SampleCount,
		)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		return nil
	})
}

// UpsertDaily replaces the rollup for its day.
func (s *Store) UpsertDaily(stat DailyStat) error {
	return s.write(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO daily_stats (day, avg_power_w, energy_wh, screen_time_s, min_charge, max_charge)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(day) DO UPDATE SET
			    avg_power_w = excluded.avg_power_w,
			    energy_wh = excluded.energy_wh,
			    screen_time_s = excluded.screen_time_s,
			    min_charge = excluded.min_charge,
			    max_charge = excluded.max_charge`,
			stat.Day, stat.AvgPowerW, stat.EnergyWh, stat.ScreenTimeS,
			stat.MinCharge, stat.MaxCharge,
		)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		return nil
	})
}

// UpsertDailyCycle replaces the cycle summary for its day.
func (s *Store) UpsertDailyCycle(cycle DailyCycle) error {
	return s.write(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO daily_cycles (day, charge_sessions, discharge_sessions, charging_mins, discharge_mins, energy_charged_wh, energy_discharged_wh, partial_cycles, deepest_discharge)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(day) DO UPDATE SET
			    charge_sessions = excluded.charge_sessions,
			    discharge_sessions = excluded.discharge_sessions,
			    charging_mins = excluded.charging_mins,
			    discharge_mins = excluded.discharge_mins,
			    energy_charged_wh = excluded.energy_charged_wh,
			    energy_discharged_wh = excluded.energy_discharged_wh,
			    partial_cycles = excluded.partial_cycles,
			    deepest_discharge = excluded.deepest_discharge`,
			cycle.Day, cycle.ChargeSessions, cycle.DischargeSessions,
			cycle.ChargingMins, cycle.DischargeMins,
			cycle.EnergyChargedWh, cycle.EnergyDischargedWh,
			cycle.PartialCycles, nullFloat(cycle.DeepestDischarge),
		)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		return nil
	})
}

// HourlyStats returns rollups with from <= hour_start < to, ascending.
func (s *Store) HourlyStats(from, to int64) ([]HourlyStat, error) {
	rows, err := s.db.Query(
		`SELECT hour_start, avg_charge, min_charge, max_charge, avg_power_w, energy_wh, sample_count
		 FROM hourly_stats
		 WHERE hour_start >= ? AND hour_start < ?
		 ORDER BY hour_start ASC`,
		from, to,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var stats []HourlyStat
	for rows.Next() {
		var stat HourlyStat
		if err := rows.Scan(
			&stat.HourStart, &stat.AvgCharge, &stat.MinCharge, &stat.MaxCharge,
			&stat.AvgPowerW, &stat.EnergyWh, &stat.SampleCount,
		); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// DailyStats returns rollups with from <= day <= to, ascending. Days
// are YYYY-MM-DD strings, so lexical order is chronological.
func (s *Store) DailyStats(from, to string) ([]DailyStat, error) {
	rows, err := s.db.Query(
		`SELECT day, avg_power_w, energy_wh, screen_time_s, min_charge, max_charge
		 FROM daily_stats
		 WHERE day >= ? AND day <= ?
		 ORDER BY day ASC`,
		from, to,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		if err := rows.Scan(
			&stat.Day, &stat.AvgPowerW, &stat.EnergyWh, &stat.ScreenTimeS,
			&stat.MinCharge, &stat.MaxCharge,
		); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// DailyCycles returns cycle summaries with from <= day <= to,
// ascending.
func (s *Store) DailyCycles(from, to string) ([]DailyCycle, error) {
	rows, err := s.db.Query(
		`SELECT day, charge_sessions, discharge_sessions, charging_mins, discharge_mins, energy_charged_wh, energy_discharged_wh, partial_cycles, deepest_discharge
		 FROM daily_cycles
		 WHERE day >= ? AND day <= ?
		 ORDER BY day ASC`,
		from, to,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var cycles []DailyCycle
	for rows.Next() {
		var cycle DailyCycle
		var deepest sql.NullFloat64
		if err := rows.Scan(
			&cycle.Day, &cycle.ChargeSessions, &cycle.DischargeSessions,
			&cycle.ChargingMins, &cycle.DischargeMins,
			&cycle.EnergyChargedWh, &cycle.EnergyDischargedWh,
			&cycle.PartialCycles, &deepest,
		); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		cycle.DeepestDischarge = floatPtr(deepest)
		cycles = append(cycles, cycle)
	}

	return cycles, rows.Err()
}
