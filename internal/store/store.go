// Package store persists routing results and reports to SQLite or
// ClickHouse.
package store

import (
	"context"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/report"
)

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	switch cfg.Driver {
	case DriverNone:
		log.Debug().Msg("Result storage disabled, using no-op store")
		return &noopStore{}, nil
	case DriverSQLite:
		return OpenSQLite(cfg, log)
	case DriverClickHouse:
		return OpenClickHouse(ctx, cfg, log)
	default:
		return nil, errFactory.WithData(ErrUnknownDriver, cfg.Driver)
	}
}

// No-op implementation
type noopStore struct{}

func (*noopStore) StartRun(context.Context, RunInfo) error             { return nil }
func (*noopStore) Record(context.Context, offload.RoutingResult) error { return nil }
func (*noopStore) SaveReport(context.Context, *report.Report) error    { return nil }
func (*noopStore) Close() error                                        { return nil }
func (*noopStore) LatestReport(context.Context) (*report.Report, error) {
	return nil, errors.New().New(ErrNoReport)
}
