package store

import (
	"database/sql"

	"codeberg.org/mutker/jolt/internal/errors"
)

// HealthSnapshot is the once-per-day battery health record.
type HealthSnapshot struct {
	Day              string  `json:"day"`
	MaxCapacityWh    float64 `json:"max_capacity_wh"`
	DesignCapacityWh float64 `json:"design_capacity_wh"`
	CycleCount       *int64  `json:"cycle_count,omitempty"`
	HealthPercent    float64 `json:"health_percent"`
}

// TopProcess is one row of the per-day process energy ranking.
type TopProcess struct {
	Day         string  `json:"day"`
	Rank        int     `json:"rank"`
	Name        string  `json:"name"`
	CPUSeconds  float64 `json:"cpu_seconds"`
	EnergyScore float64 `json:"energy_score"`
}

// UpsertHealthSnapshot replaces the health record for its day.
func (s *Store) UpsertHealthSnapshot(snapshot HealthSnapshot) error {
	return s.write(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO health_snapshots (day, max_capacity_wh, design_capacity_wh, cycle_count, health_percent)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(day) DO UPDATE SET
			    max_capacity_wh = excluded.max_capacity_wh,
			    design_capacity_wh = excluded.design_capacity_wh,
			    cycle_count = excluded.cycle_count,
			    health_percent = excluded.health_percent`,
			snapshot.Day, snapshot.MaxCapacityWh, snapshot.DesignCapacityWh,
			nullInt(snapshot.CycleCount), snapshot.HealthPercent,
		)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		return nil
	})
}

// HealthSnapshots returns health records with from <= day <= to,
// ascending.
func (s *Store) HealthSnapshots(from, to string) ([]HealthSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT day, max_capacity_wh, design_capacity_wh, cycle_count, health_percent
		 FROM health_snapshots
		 WHERE day >= ? AND day <= ?
		 ORDER BY day ASC`,
		from, to,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var snapshots []HealthSnapshot
	for rows.Next() {
		var snapshot HealthSnapshot
		var cycles sql.NullInt64
		if err := rows.Scan(
			&snapshot.Day, &snapshot.MaxCapacityWh, &snapshot.DesignCapacityWh,
			&cycles, &snapshot.HealthPercent,
		); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		snapshot.CycleCount = intPtr(cycles)
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, rows.Err()
}

// ReplaceTopProcesses rewrites the ranking for one day in a single
// transaction. Rows must already be ordered by rank.
func (s *Store) ReplaceTopProcesses(day string, processes []TopProcess) error {
	return s.write(func(tx *sql.Tx) error {
		errFactory := errors.New()

		if _, err := tx.Exec(`DELETE FROM top_processes WHERE day = ?`, day); err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}

		stmt, err := tx.Prepare(
			`INSERT INTO top_processes (day, rank, name, cpu_seconds, energy_score)
			 VALUES (?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}
		defer stmt.Close()

		for _, p := range processes {
			if _, err := stmt.Exec(day, p.Rank, p.Name, p.CPUSeconds, p.EnergyScore); err != nil {
				return errFactory.Wrap(ErrQueryFailed, err)
			}
		}
		return nil
	})
}

// TopProcesses returns the ranking for one day ordered by rank.
func (s *Store) TopProcesses(day string) ([]TopProcess, error) {
	rows, err := s.db.Query(
		`SELECT day, rank, name, cpu_seconds, energy_score
		 FROM top_processes WHERE day = ? ORDER BY rank ASC`,
		day,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var processes []TopProcess
	for rows.Next() {
		var p TopProcess
		if err := rows.Scan(&p.Day, &p.Rank, &p.Name, &p.CPUSeconds, &p.EnergyScore); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		processes = append(processes, p)
	}

	return processes, rows.Err()
}
