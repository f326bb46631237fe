package store

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/report"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var clickhouseTables = []string{
	`CREATE TABLE IF NOT EXISTS fogpdm_runs (
		run_id      String,
		started_at  DateTime64(3),
		machines    UInt32,
		duration_s  Float64,
		threshold   Float64,
		source      LowCardinality(String)
	) ENGINE = MergeTree ORDER BY (started_at, run_id)`,
	`CREATE TABLE IF NOT EXISTS fogpdm_results (
		run_id          String,
		machine_id      UInt32,
		ts              DateTime64(6),
		tier            LowCardinality(String),
		fault           UInt8,
		probability     Float64,
		latency_us      Int64,
		method          LowCardinality(String),
		escalated       UInt8,
		edge_confidence Float64,
		labeled         UInt8,
		true_fault      UInt8
	) ENGINE = MergeTree ORDER BY (run_id, machine_id, ts)`,
	`CREATE TABLE IF NOT EXISTS fogpdm_reports (
		run_id      String,
		created_at  DateTime64(3),
		body        String
	) ENGINE = MergeTree ORDER BY (created_at, run_id)`,
}

const clickhouseInsertResults = `INSERT INTO fogpdm_results (
	run_id, machine_id, ts, tier, fault, probability, latency_us,
	method, escalated, edge_confidence, labeled, true_fault)`

// ClickHouse stores results in a ClickHouse server, batching inserts.
type ClickHouse struct {
	conn   driver.Conn
	logger logger.Logger
	batch  *batcher

	mu    sync.Mutex
	runID string
}

// OpenClickHouse connects, pings and creates the tables if missing.
func OpenClickHouse(ctx context.Context, cfg Config, log logger.Logger) (*ClickHouse, error) {
	errFactory := errors.New()

	ch := cfg.ClickHouse
	dialTimeout := ch.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{ch.Addr},
		Auth: clickhouse.Auth{
			Database: ch.Database,
			Username: ch.Username,
			Password: ch.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Addr  string
			Error string
		}{"open", ch.Addr, err.Error()})
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Addr  string
			Error string
		}{"ping", ch.Addr, err.Error()})
	}

	for _, ddl := range clickhouseTables {
		if err := conn.Exec(ctx, ddl); err != nil {
			conn.Close()
			return nil, errFactory.Wrap(ErrSchemaInitFailed, err)
		}
	}

	log.Info().
		Str("addr", ch.Addr).
		Str("database", ch.Database).
		Int("batch_size", cfg.BatchSize).
		Msg("ClickHouse store initialized")

	c := &ClickHouse{conn: conn, logger: log}
	c.batch = newBatcher(cfg.BatchSize, cfg.BatchTimeout, log, c.insertResults)
	return c, nil
}

func (c *ClickHouse) StartRun(ctx context.Context, run RunInfo) error {
	err := c.conn.Exec(ctx,
		`INSERT INTO fogpdm_runs (run_id, started_at, machines, duration_s, threshold, source) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, uint32(run.Machines), run.Duration.Seconds(), run.Threshold, run.Source)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	c.mu.Lock()
	c.runID = run.ID
	c.mu.Unlock()
	return nil
}

func (c *ClickHouse) Record(ctx context.Context, r offload.RoutingResult) error {
	errFactory := errors.New()

	c.mu.Lock()
	runID := c.runID
	c.mu.Unlock()
	if runID == "" {
		return errFactory.New(ErrNoActiveRun)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	return c.batch.add(row{runID: runID, result: r})
}

// clickhouseRow converts a result to column values in insert order.
func clickhouseRow(runID string, r offload.RoutingResult) []any {
	return []any{
		runID,
		uint32(r.MachineID),
		r.Timestamp,
		string(r.FinalLocation),
		uint8(r.Fault),
		r.Probability,
		r.Latency.Microseconds(),
		r.Method,
		uint8(boolToInt(r.Escalated)),
		r.EdgeConfidence,
		uint8(boolToInt(r.Labeled)),
		uint8(r.TrueFault),
	}
}

func (c *ClickHouse) insertResults(rows []row) error {
	errFactory := errors.New()
	ctx := context.Background()

	batch, err := c.conn.PrepareBatch(ctx, clickhouseInsertResults)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	for _, rw := range rows {
		if err := batch.Append(clickhouseRow(rw.runID, rw.result)...); err != nil {
			_ = batch.Abort()
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := batch.Send(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	return nil
}

func (c *ClickHouse) SaveReport(ctx context.Context, rep *report.Report) error {
	if err := c.batch.flush(); err != nil {
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

	if err := c.conn.Exec(ctx,
		`INSERT INTO fogpdm_reports (run_id, created_at, body) VALUES (?, ?, ?)`,
		rep.RunID, finished, string(body)); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (c *ClickHouse) LatestReport(ctx context.Context) (*report.Report, error) {
	errFactory := errors.New()

	rows, err := c.conn.Query(ctx, `SELECT body FROM fogpdm_reports ORDER BY created_at DESC LIMIT 1`)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		return nil, errFactory.New(ErrNoReport)
	}

	var body string
	if err := rows.Scan(&body); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	return report.Decode([]byte(body), report.FormatJSON)
}

func (c *ClickHouse) Close() error {
	if err := c.batch.close(); err != nil {
		c.logger.Warn().Err(err).Msg("Final flush failed")
	}
	if err := c.conn.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	c.logger.Info().Msg("ClickHouse store closed")
	return nil
}
