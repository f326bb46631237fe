package store

import (
	"database/sql"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS runs (
	       run_id      TEXT PRIMARY KEY,
	       started_at  INTEGER NOT NULL,
	       finished_at INTEGER,
	       machines    INTEGER NOT NULL CHECK (machines > 0),
	       duration_s  REAL NOT NULL,
	       threshold   REAL NOT NULL CHECK (threshold BETWEEN 0 AND 1),
	       source      TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS results (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       run_id          TEXT NOT NULL REFERENCES runs (run_id),
	       machine_id      INTEGER NOT NULL,
	       timestamp       INTEGER NOT NULL,
	       tier            TEXT NOT NULL CHECK (tier IN ('edge', 'cloud', 'fallback')),
	       fault           INTEGER NOT NULL CHECK (fault IN (0, 1)),
	       probability     REAL NOT NULL CHECK (probability BETWEEN 0 AND 1),
	       latency_us      INTEGER NOT NULL CHECK (typeof(latency_us) = 'integer'),
	       method          TEXT NOT NULL,
	       escalated       INTEGER NOT NULL CHECK (escalated IN (0, 1)),
	       edge_confidence REAL NOT NULL,
	       labeled         INTEGER NOT NULL CHECK (labeled IN (0, 1)),
	       true_fault      INTEGER NOT NULL CHECK (true_fault IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS idx_results_run ON results (run_id, machine_id);
	   CREATE TABLE IF NOT EXISTS reports (
	       run_id      TEXT PRIMARY KEY REFERENCES runs (run_id),
	       created_at  INTEGER NOT NULL,
	       body        TEXT NOT NULL
	   );`

	insertRunSQL = `
    INSERT INTO runs (run_id, started_at, machines, duration_s, threshold, source)
    VALUES (?, ?, ?, ?, ?, ?)`

	insertResultSQL = `
    INSERT INTO results (
        run_id, machine_id, timestamp,
        tier, fault, probability, latency_us, method,
        escalated, edge_confidence,
        labeled, true_fault
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertReportSQL = `
    INSERT OR REPLACE INTO reports (run_id, created_at, body)
    VALUES (?, ?, ?)`

	finishRunSQL = `UPDATE runs SET finished_at = ? WHERE run_id = ?`

	latestReportSQL = `
    SELECT body FROM reports
    ORDER BY created_at DESC, rowid DESC
    LIMIT 1`
)

// schemaTables lists every table, dependents first.
var schemaTables = []string{"reports", "results", "runs", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
