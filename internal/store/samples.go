package store

import (
	"database/sql"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/sensor"
)

const sampleColumns = `taken_at, charge, state, cpu_w, gpu_w, system_w, smoothed_w, external, charger_w`

// InsertSample appends one sample. Duplicate taken_at is a silent
// no-op, making replays idempotent. The row is durable on return.
func (s *Store) InsertSample(smp sample.Sample) error {
	return s.write(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO samples (`+sampleColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			smp.TakenAt,
			smp.ChargePercent,
			smp.State.String(),
			nullFloat(smp.CPUW),
			nullFloat(smp.GPUW),
			nullFloat(smp.SystemW),
			nullFloat(smp.SmoothedSystemW),
			boolToInt(smp.ExternalConnected),
			nullFloat(smp.ChargerW),
		)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		return nil
	})
}

// RecentSamples returns the last limit samples in descending taken_at,
// capped at RecentSamplesMax.
func (s *Store) RecentSamples(limit int) ([]sample.Sample, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > RecentSamplesMax {
		limit = RecentSamplesMax
	}

	rows, err := s.db.Query(
		`SELECT `+sampleColumns+` FROM samples ORDER BY taken_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// RangeSamples returns samples with from <= taken_at < to in ascending
// time.
func (s *Store) RangeSamples(from, to int64) ([]sample.Sample, error) {
	rows, err := s.db.Query(
		`SELECT `+sampleColumns+` FROM samples
		 WHERE taken_at >= ? AND taken_at < ?
		 ORDER BY taken_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// PruneSamplesBefore deletes raw samples strictly older than cutoff.
// Rollups are untouched. Returns the number of deleted rows.
func (s *Store) PruneSamplesBefore(cutoff int64) (int64, error) {
	var deleted int64
	err := s.write(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM samples WHERE taken_at < ?`, cutoff)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func scanSamples(rows *sql.Rows) ([]sample.Sample, error) {
	var samples []sample.Sample
	for rows.Next() {
		var smp sample.Sample
		var state string
		var cpu, gpu, system, smoothed, charger sql.NullFloat64
		var external int

		if err := rows.Scan(
			&smp.TakenAt, &smp.ChargePercent, &state,
			&cpu, &gpu, &system, &smoothed, &external, &charger,
		); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}

		smp.State = sensor.ParseChargeState(state)
		smp.CPUW = floatPtr(cpu)
		smp.GPUW = floatPtr(gpu)
		smp.SystemW = floatPtr(system)
		smp.SmoothedSystemW = floatPtr(smoothed)
		smp.ExternalConnected = external != 0
		smp.ChargerW = floatPtr(charger)

		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}

	return samples, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
