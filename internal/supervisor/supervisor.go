// Package supervisor runs one monitor per machine for a bounded time, drains
// them and produces the final report.
package supervisor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/aggregator"
	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/monitor"
	"codeberg.org/mutker/fogpdm/internal/report"
	"codeberg.org/mutker/fogpdm/internal/sensor"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultJoinTimeout      = 3 * time.Second
	DefaultProgressInterval = 30 * time.Second
)

// State is the supervisor's lifecycle position.
type State int32

const (
	StateInitialized State = iota
	StateMonitoring
	StateDraining
	StateReported
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateMonitoring:
		return "monitoring"
	case StateDraining:
		return "draining"
	case StateReported:
		return "reported"
	default:
		return "unknown"
	}
}

// Config tunes a run. Zero JoinTimeout uses DefaultJoinTimeout; zero
// ProgressInterval disables progress logging.
type Config struct {
	Interval         time.Duration
	JoinTimeout      time.Duration
	ProgressInterval time.Duration

	// Echoed in the report.
	RunID     string
	Threshold float64
	Source    string
	Edge      string
	Cloud     string

	Logger logger.Logger
}

// Supervisor owns the monitors and the aggregator of a single run.
type Supervisor struct {
	source sensor.Source
	router monitor.Router
	sinks  []monitor.Sink
	cfg    Config
	log    logger.Logger

	mu       sync.Mutex
	state    State
	agg      *aggregator.Aggregator
	monitors []*monitor.Monitor
}

// New returns a supervisor in the Initialized state.
func New(source sensor.Source, router monitor.Router, cfg Config, sinks ...monitor.Sink) *Supervisor {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.With("supervisor")
	}

	return &Supervisor{
		source: source,
		router: router,
		sinks:  sinks,
		cfg:    cfg,
		log:    log,
		agg:    aggregator.New(),
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Snapshot returns the statistics recorded so far.
func (s *Supervisor) Snapshot() aggregator.Stats {
	return s.agg.Snapshot()
}

// Run monitors machines 1..machines until duration elapses, ctx is
// cancelled or every monitor finishes on its own, then stops the monitors,
// waits up to the join timeout and reports. Monitors still running after
// the join timeout are abandoned and listed in the report.
func (s *Supervisor) Run(ctx context.Context, machines int, duration time.Duration) (*report.Report, error) {
	errFactory := errors.New()

	if machines <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, struct{ Machines int }{machines})
	}
	if duration <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, struct{ Duration time.Duration }{duration})
	}

	s.mu.Lock()
	if s.state != StateInitialized {
		s.mu.Unlock()
		return nil, errFactory.WithMessage(errors.ErrAlreadyRunning, "supervisor has already run")
	}
	s.state = StateMonitoring
	s.mu.Unlock()

	started := time.Now()
	start := make(chan struct{})
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }
	defer stopAll()

	mcfg := monitor.Config{Duration: duration, Interval: s.cfg.Interval}
	var g errgroup.Group
	for id := 1; id <= machines; id++ {
		m := monitor.New(id, s.source, s.router, s.agg, mcfg, s.sinks...)
		if s.cfg.Logger != nil {
			m.WithLogger(s.cfg.Logger)
		}
		s.monitors = append(s.monitors, m)
		g.Go(func() error {
			return m.Run(ctx, start, stop)
		})
	}

	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		if err := g.Wait(); err != nil {
			s.log.Error().
				Err(err).
				Str("error_code", string(errors.CodeOf(err))).
				Msg("Monitor crashed")
		}
	}()

	// Every monitor exists before any reading is taken.
	close(start)
	s.log.Info().
		Int("machines", machines).
		Dur("duration", duration).
		Dur("interval", s.cfg.Interval).
		Msg("Monitoring started")

	reason := s.await(ctx, allDone, started, duration)

	s.setState(StateDraining)
	s.log.Info().Str("reason", reason).Msg("Stopping monitors")
	stopAll()

	abandoned := s.join(allDone)

	stats := s.agg.Snapshot()
	rep := report.Build(stats, report.Params{
		RunID:      s.cfg.RunID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Machines:   machines,
		Duration:   duration,
		Interval:   s.cfg.Interval,
		Threshold:  s.cfg.Threshold,
		Source:     s.cfg.Source,
		Edge:       s.cfg.Edge,
		Cloud:      s.cfg.Cloud,
		Abandoned:  abandoned,
	})

	s.setState(StateReported)
	s.log.Info().
		Str("run_id", rep.RunID).
		Int("total", rep.Total).
		Float64("accuracy", rep.Accuracy).
		Str("status", rep.Status).
		Msg("Monitoring finished")

	return rep, nil
}

func (s *Supervisor) await(ctx context.Context, allDone <-chan struct{}, started time.Time, duration time.Duration) string {
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	var progress <-chan time.Time
	if s.cfg.ProgressInterval > 0 {
		ticker := time.NewTicker(s.cfg.ProgressInterval)
		defer ticker.Stop()
		progress = ticker.C
	}

	for {
		select {
		case <-deadline.C:
			return "duration elapsed"
		case <-ctx.Done():
			return "interrupted"
		case <-allDone:
			return "all monitors finished"
		case <-progress:
			s.logProgress(started, duration)
		}
	}
}

func (s *Supervisor) logProgress(started time.Time, duration time.Duration) {
	stats := s.agg.Snapshot()
	s.log.Info().
		Dur("elapsed", time.Since(started).Round(time.Second)).
		Dur("remaining", max(duration-time.Since(started), 0).Round(time.Second)).
		Int("total", stats.Total).
		Int("edge", stats.Edge.Handled).
		Int("cloud", stats.Cloud.Handled).
		Int("fallback", stats.Fallback.Handled).
		Int("escalations", stats.Escalations).
		Msg("Progress")
}

// join waits for the monitors up to the join timeout and returns the ids of
// any that did not stop.
func (s *Supervisor) join(allDone <-chan struct{}) []int {
	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-allDone:
		return nil
	case <-timer.C:
	}

	var stale []int
	for _, m := range s.monitors {
		state := m.State()
		if state == monitor.StateStopped {
			continue
		}
		stale = append(stale, m.ID())
		// Stopping means the monitor saw the stop signal and is still
		// inside its last iteration.
		s.log.Warn().
			Int("machine_id", m.ID()).
			Str("state", state.String()).
			Dur("join_timeout", s.cfg.JoinTimeout).
			Msg("Abandoning monitor that did not stop in time")
	}
	return stale
}
