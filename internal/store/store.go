package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
)

// Store owns all persisted state on disk. The database is opened in
// WAL mode so one writer and many readers can proceed concurrently;
// write calls are additionally serialized behind a mutex so every
// write is one transaction.
type Store struct {
	db     *sql.DB
	path   string
	logger logger.Logger

	mu sync.Mutex
}

var busyBackoff = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	200 * time.Millisecond,
}

// Open opens or creates the database at cfg.Path and migrates the
// schema. A successful return means the schema is at SchemaVersion.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Path,
			Error: err.Error(),
		})
	}

	dsn := cfg.Path + "?_journal=WAL&_busy_timeout=5000&_auto_vacuum=2&_synchronous=FULL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Msg("History store opened")

	return &Store{
		db:     db,
		path:   cfg.Path,
		logger: log,
	}, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Debug().Err(err).Msg("WAL checkpoint failed on close")
	}

	if err := s.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	s.logger.Info().Msg("History store closed")

	return nil
}

// SchemaVersion returns the on-disk schema version.
func (s *Store) SchemaVersion() (int, error) {
	return schemaVersionOf(s.db)
}

// SizeBytes returns the database file size.
func (s *Store) SizeBytes() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, errors.New().Wrap(ErrQueryFailed, err)
	}
	return info.Size(), nil
}

// Vacuum compacts the database. Callers rate-limit this; one pass can
// rewrite the whole file.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return errors.New().Wrap(ErrQueryFailed, err)
	}
	return nil
}

// Stats summarizes the stored data for the daemon status response.
type Stats struct {
	SampleCount  int64
	OldestSample *int64
	NewestSample *int64
	SessionCount int64
}

func (s *Store) Stats() (Stats, error) {
	var stats Stats
	var oldest, newest sql.NullInt64

	err := s.db.QueryRow(
		`SELECT COUNT(*), MIN(taken_at), MAX(taken_at) FROM samples`,
	).Scan(&stats.SampleCount, &oldest, &newest)
	if err != nil {
		return Stats{}, errors.New().Wrap(ErrQueryFailed, err)
	}
	if oldest.Valid {
		stats.OldestSample = &oldest.Int64
	}
	if newest.Valid {
		stats.NewestSample = &newest.Int64
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&stats.SessionCount); err != nil {
		return Stats{}, errors.New().Wrap(ErrQueryFailed, err)
	}

	return stats, nil
}

// write serializes a write transaction and retries transient lock
// contention with 10/50/200 ms backoff before giving up as ErrBusy.
func (s *Store) write(fn func(tx *sql.Tx) error) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= len(busyBackoff); attempt++ {
		if attempt > 0 {
			time.Sleep(busyBackoff[attempt-1])
		}

		lastErr = s.writeOnce(fn)
		if lastErr == nil || !isBusy(lastErr) {
			return lastErr
		}
		s.logger.Debug().Int("attempt", attempt+1).Msg("Store busy, retrying")
	}

	return errFactory.Wrap(ErrBusy, lastErr)
}

func (s *Store) writeOnce(fn func(tx *sql.Tx) error) error {
	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Debug().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
