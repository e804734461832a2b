package store

import (
	"database/sql"
	"strconv"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
)

// SchemaVersion is the schema this build writes. Databases written by
// newer builds are refused; older databases are migrated in place.
const SchemaVersion = 3

// migrations[i] upgrades a database from version i to i+1; index 0
// creates the version-1 schema from nothing. Each runs in its own
// transaction, and each is a pure function of the prior schema.
var migrations = []string{
	// v1: base tables.
	`
	CREATE TABLE meta (
	    key   TEXT PRIMARY KEY,
	    value TEXT NOT NULL
	);
	CREATE TABLE samples (
	    taken_at  INTEGER PRIMARY KEY,
	    charge    REAL NOT NULL CHECK (charge >= 0 AND charge <= 100),
	    state     TEXT NOT NULL,
	    cpu_w     REAL,
	    gpu_w     REAL,
	    system_w  REAL,
	    external  INTEGER NOT NULL CHECK (external IN (0, 1)),
	    charger_w REAL
	);
	CREATE TABLE hourly_stats (
	    hour_start   INTEGER PRIMARY KEY,
	    avg_charge   REAL NOT NULL,
	    min_charge   REAL NOT NULL,
	    max_charge   REAL NOT NULL,
	    avg_power_w  REAL NOT NULL,
	    energy_wh    REAL NOT NULL,
	    sample_count INTEGER NOT NULL
	);
	CREATE TABLE daily_stats (
	    day           TEXT PRIMARY KEY,
	    avg_power_w   REAL NOT NULL,
	    energy_wh     REAL NOT NULL,
	    screen_time_s INTEGER NOT NULL,
	    min_charge    REAL NOT NULL,
	    max_charge    REAL NOT NULL
	);
	CREATE TABLE daily_cycles (
	    day                TEXT PRIMARY KEY,
	    charge_sessions    INTEGER NOT NULL,
	    discharge_sessions INTEGER NOT NULL,
	    charging_mins      INTEGER NOT NULL,
	    discharge_mins     INTEGER NOT NULL,
	    energy_charged_wh  REAL NOT NULL,
	    energy_discharged_wh REAL NOT NULL,
	    partial_cycles     REAL NOT NULL CHECK (partial_cycles >= 0),
	    deepest_discharge  REAL
	);
	CREATE TABLE sessions (
	    id           INTEGER PRIMARY KEY AUTOINCREMENT,
	    kind         TEXT NOT NULL,
	    start_at     INTEGER NOT NULL,
	    end_at       INTEGER,
	    start_charge REAL NOT NULL,
	    end_charge   REAL,
	    energy_wh    REAL
	);
	CREATE INDEX idx_sessions_start ON sessions(start_at);
	CREATE TABLE health_snapshots (
	    day                TEXT PRIMARY KEY,
	    max_capacity_wh    REAL NOT NULL,
	    design_capacity_wh REAL NOT NULL,
	    cycle_count        INTEGER,
	    health_percent     REAL NOT NULL
	);
	`,
	// v2: trailing-mean power smoothing; prior rows stay NULL.
	`
	ALTER TABLE samples ADD COLUMN smoothed_w REAL;
	`,
	// v3: charger wattage on sessions, top-process rankings.
	`
	ALTER TABLE sessions ADD COLUMN charger_w REAL;
	CREATE TABLE top_processes (
	    day          TEXT NOT NULL,
	    rank         INTEGER NOT NULL,
	    name         TEXT NOT NULL,
	    cpu_seconds  REAL NOT NULL,
	    energy_score REAL NOT NULL,
	    PRIMARY KEY (day, rank)
	);
	`,
}

// migrate brings the database to SchemaVersion, refusing downgrades.
func migrate(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	version, err := schemaVersionOf(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if version > SchemaVersion {
		return errFactory.WithData(ErrSchemaIncompatible, struct {
			OnDisk int
			Build  int
		}{
			OnDisk: version,
			Build:  SchemaVersion,
		})
	}

	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	}

	for next := version + 1; next <= SchemaVersion; next++ {
		if err := applyMigration(db, next); err != nil {
			return err
		}
		log.Info().Int("version", next).Msg("Schema migrated")
	}

	return nil
}

func applyMigration(db *sql.DB, version int) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback migration")
			}
		}
	}()

	if _, err := tx.Exec(migrations[version-1]); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Version int
			Error   string
		}{
			Version: version,
			Error:   err.Error(),
		})
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(version),
	); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}

// schemaVersionOf returns the stored schema version, 0 for an empty
// database.
func schemaVersionOf(db *sql.DB) (int, error) {
	exists, err := tableExists(db, "meta")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var raw string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(raw)
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
	    SELECT EXISTS (
	        SELECT 1 FROM sqlite_master
	        WHERE type='table' AND name=?
	    )
	`, name).Scan(&exists)
	return exists, err
}
