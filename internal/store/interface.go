package store

import (
	"context"
	"time"

	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/report"
)

// Store persists routing results and run reports. Record satisfies
// monitor.Sink; all methods are safe for concurrent use.
type Store interface {
	StartRun(ctx context.Context, run RunInfo) error
	Record(ctx context.Context, r offload.RoutingResult) error
	SaveReport(ctx context.Context, rep *report.Report) error
	LatestReport(ctx context.Context) (*report.Report, error)
	Close() error
}

// RunInfo identifies the run that subsequent results belong to.
type RunInfo struct {
	ID        string
	StartedAt time.Time
	Machines  int
	Duration  time.Duration
	Threshold float64
	Source    string
}

// row is one buffered result, tagged with its run.
type row struct {
	runID  string
	result offload.RoutingResult
}
