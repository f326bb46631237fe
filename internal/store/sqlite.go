package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/report"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores results in a local schema-versioned database.
type SQLite struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	batch  *batcher

	mu    sync.Mutex
	runID string
}

// OpenSQLite opens or creates the database at cfg.DBPath.
func OpenSQLite(cfg Config, log logger.Logger) (*SQLite, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
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

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("SQLite store initialized")

	s := &SQLite{
		db:     db,
		logger: log,
		cfg:    cfg,
	}
	s.batch = newBatcher(cfg.BatchSize, cfg.BatchTimeout, log, s.insertResults)

	return s, nil
}

func (s *SQLite) StartRun(ctx context.Context, run RunInfo) error {
	if _, err := s.db.ExecContext(ctx, insertRunSQL,
		run.ID,
		run.StartedAt.UnixNano(),
		run.Machines,
		run.Duration.Seconds(),
		run.Threshold,
		run.Source,
	); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	s.mu.Lock()
	s.runID = run.ID
	s.mu.Unlock()

	s.logger.Debug().Str("run_id", run.ID).Msg("Run registered")
	return nil
}

func (s *SQLite) currentRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Record buffers r for the current run.
func (s *SQLite) Record(ctx context.Context, r offload.RoutingResult) error {
	errFactory := errors.New()

	runID := s.currentRun()
	if runID == "" {
		return errFactory.New(ErrNoActiveRun)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	return s.batch.add(row{runID: runID, result: r})
}

func (s *SQLite) insertResults(rows []row) error {
	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertResultSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rw := range rows {
		r := rw.result
		if _, err := stmt.Exec(
			rw.runID,
			r.MachineID,
			r.Timestamp.UnixNano(),
			string(r.FinalLocation),
			r.Fault,
			r.Probability,
			r.Latency.Microseconds(),
			r.Method,
			boolToInt(r.Escalated),
			r.EdgeConfidence,
			boolToInt(r.Labeled),
			r.TrueFault,
		); err != nil {
			if err := tx.Rollback(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	return nil
}

// SaveReport flushes buffered results, stores rep and marks its run
// finished.
func (s *SQLite) SaveReport(ctx context.Context, rep *report.Report) error {
	errFactory := errors.New()

	if err := s.batch.flush(); err != nil {
		return err
	}

	body, err := rep.Encode(report.FormatJSON)
	if err != nil {
		return err
	}

	finished := rep.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, insertReportSQL, rep.RunID, finished.UnixNano(), string(body)); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if _, err := s.db.ExecContext(ctx, finishRunSQL, finished.UnixNano(), rep.RunID); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	s.logger.Info().Str("run_id", rep.RunID).Msg("Report stored")
	return nil
}

// LatestReport returns the most recently stored report.
func (s *SQLite) LatestReport(ctx context.Context) (*report.Report, error) {
	errFactory := errors.New()

	var body string
	err := s.db.QueryRowContext(ctx, latestReportSQL).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.New(ErrNoReport)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return report.Decode([]byte(body), report.FormatJSON)
}

// CountResults returns the number of stored results for runID.
func (s *SQLite) CountResults(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	errFactory := errors.New()

	if err := s.batch.close(); err != nil {
		s.logger.Warn().Err(err).Msg("Final flush failed")
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.logger.Info().Msg("SQLite store closed")
	return nil
}
