package store

import (
	"database/sql"

	"codeberg.org/mutker/jolt/internal/errors"
)

// SessionKind classifies a contiguous battery interval.
type SessionKind string

const (
	SessionCharge    SessionKind = "charge"
	SessionDischarge SessionKind = "discharge"
	SessionIdle      SessionKind = "idle"
)

// Session is one charge, discharge or idle interval. EndAt is nil
// while the session is open. At most one session per kind is open at
// any time.
type Session struct {
	ID          int64       `json:"id"`
	Kind        SessionKind `json:"kind"`
	StartAt     int64       `json:"start_at"`
	EndAt       *int64      `json:"end_at,omitempty"`
	StartCharge float64     `json:"start_charge"`
	EndCharge   *float64    `json:"end_charge,omitempty"`
	EnergyWh    *float64    `json:"energy_wh,omitempty"`
	ChargerW    *float64    `json:"charger_w,omitempty"`
}

const sessionColumns = `id, kind, start_at, end_at, start_charge, end_charge, energy_wh, charger_w`

// OpenSession opens a session and returns its id. Fails with
// ErrSessionOpen if a session of the same kind is already open.
func (s *Store) OpenSession(kind SessionKind, startAt int64, startCharge float64, chargerW *float64) (int64, error) {
	errFactory := errors.New()
	var id int64

	err := s.write(func(tx *sql.Tx) error {
		var open int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM sessions WHERE kind = ? AND end_at IS NULL`,
			string(kind),
		).Scan(&open); err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}
		if open > 0 {
			return errFactory.WithData(ErrSessionOpen, string(kind))
		}

		res, err := tx.Exec(
			`INSERT INTO sessions (kind, start_at, start_charge, charger_w) VALUES (?, ?, ?, ?)`,
			string(kind), startAt, startCharge, nullFloat(chargerW),
		)
		if err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}
		id, err = res.LastInsertId()
		return err
	})

	return id, err
}

// CloseSession closes an open session. Fails with ErrSessionClosed if
// it is already closed.
func (s *Store) CloseSession(id int64, endAt int64, endCharge float64, energyWh *float64) error {
	errFactory := errors.New()

	return s.write(func(tx *sql.Tx) error {
		var endValue sql.NullInt64
		err := tx.QueryRow(`SELECT end_at FROM sessions WHERE id = ?`, id).Scan(&endValue)
		if errors.Is(err, sql.ErrNoRows) {
			return errFactory.WithData(ErrSessionNotFound, id)
		}
		if err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}
		if endValue.Valid {
			return errFactory.WithData(ErrSessionClosed, id)
		}

		_, err = tx.Exec(
			`UPDATE sessions SET end_at = ?, end_charge = ?, energy_wh = ? WHERE id = ?`,
			endAt, endCharge, nullFloat(energyWh), id,
		)
		if err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}
		return nil
	})
}

// OpenSessionRow returns the most recent session with no end, or nil.
// Used to resume tracking across daemon restarts.
func (s *Store) OpenSessionRow() (*Session, error) {
	row := s.db.QueryRow(
		`SELECT ` + sessionColumns + ` FROM sessions
		 WHERE end_at IS NULL
		 ORDER BY start_at DESC LIMIT 1`,
	)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}

	return session, nil
}

// Sessions returns sessions with from <= start_at < to, ascending,
// optionally filtered by kind.
func (s *Store) Sessions(from, to int64, kind *SessionKind) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
	          WHERE start_at >= ? AND start_at < ?`
	args := []any{from, to}
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*kind))
	}
	query += ` ORDER BY start_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		sessions = append(sessions, *session)
	}

	return sessions, rows.Err()
}

// PruneSessionsBefore deletes closed sessions that ended before
// cutoff. Open sessions are never pruned.
func (s *Store) PruneSessionsBefore(cutoff int64) (int64, error) {
	var deleted int64
	err := s.write(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`DELETE FROM sessions WHERE end_at IS NOT NULL AND end_at < ?`,
			cutoff,
		)
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var kind string
	var endAt sql.NullInt64
	var endCharge, energy, charger sql.NullFloat64

	if err := row.Scan(
		&session.ID, &kind, &session.StartAt, &endAt,
		&session.StartCharge, &endCharge, &energy, &charger,
	); err != nil {
		return nil, err
	}

	session.Kind = SessionKind(kind)
	session.EndAt = intPtr(endAt)
	session.EndCharge = floatPtr(endCharge)
	session.EnergyWh = floatPtr(energy)
	session.ChargerW = floatPtr(charger)

	return &session, nil
}
