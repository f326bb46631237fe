// Package monitor runs the per-machine read, route and record loop.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// State is a monitor's lifecycle position.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Router decides one reading. *offload.Policy implements it.
type Router interface {
	Route(ctx context.Context, r sensor.Reading) offload.RoutingResult
}

// Recorder accumulates results. *aggregator.Aggregator implements it.
type Recorder interface {
	Record(r offload.RoutingResult)
}

// Sink receives every result after it has been recorded. Sinks must be safe
// for concurrent use; a failing sink does not stop the monitor.
type Sink interface {
	Record(ctx context.Context, r offload.RoutingResult) error
}

// Config bounds one monitor's loop. A zero Duration means no limit of its
// own; the monitor then runs until stopped.
type Config struct {
	Duration time.Duration
	Interval time.Duration
}

// Monitor processes readings for one machine.
type Monitor struct {
	id       int
	source   sensor.Source
	router   Router
	recorder Recorder
	sinks    []Sink
	cfg      Config
	log      logger.Logger

	state      atomic.Int32
	iterations atomic.Int64
	failures   atomic.Int64
}

// New returns a monitor for machine id in the Starting state.
func New(id int, source sensor.Source, router Router, recorder Recorder, cfg Config, sinks ...Sink) *Monitor {
	return &Monitor{
		id:       id,
		source:   source,
		router:   router,
		recorder: recorder,
		sinks:    sinks,
		cfg:      cfg,
		log:      logger.With("monitor"),
	}
}

// WithLogger replaces the monitor's logger.
func (m *Monitor) WithLogger(log logger.Logger) *Monitor {
	m.log = log
	return m
}

func (m *Monitor) ID() int           { return m.id }
func (m *Monitor) State() State      { return State(m.state.Load()) }
func (m *Monitor) Iterations() int64 { return m.iterations.Load() }
func (m *Monitor) Failures() int64   { return m.failures.Load() }

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

// Run blocks until start is closed (a nil start does not wait), then loops
// until stop is closed, ctx is cancelled, the duration elapses or the source
// is exhausted. Stop is checked at the top of each iteration and during the
// wait between iterations; an iteration in progress always completes. The
// monitor reports Stopping as soon as a stop condition fires and Stopped
// once Run returns. Run only returns an error if the loop itself panics.
func (m *Monitor) Run(ctx context.Context, start, stop <-chan struct{}) (err error) {
	defer m.setState(StateStopped)
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New().WithData(errors.ErrMonitorCrashed, struct {
				MachineID int
				Panic     any
			}{m.id, rec})
		}
	}()

	if start != nil {
		select {
		case <-start:
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}

	m.setState(StateRunning)
	m.log.Debug().Int("machine_id", m.id).Msg("Monitor started")

	began := time.Now()
	done := make(chan struct{})
	defer close(done)
	go m.watch(ctx, stop, done, began)

	reason := m.loop(ctx, stop, began)

	m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	m.log.Debug().
		Int("machine_id", m.id).
		Str("reason", reason).
		Int64("iterations", m.Iterations()).
		Int64("failures", m.Failures()).
		Dur("elapsed", time.Since(began)).
		Msg("Monitor stopped")

	return nil
}

// watch moves a running monitor to Stopping when stop, ctx or the duration
// fires, while the current iteration may still be in flight.
func (m *Monitor) watch(ctx context.Context, stop, done <-chan struct{}, began time.Time) {
	var deadline <-chan time.Time
	if m.cfg.Duration > 0 {
		timer := time.NewTimer(m.cfg.Duration - time.Since(began))
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-stop:
	case <-ctx.Done():
	case <-deadline:
	case <-done:
		return
	}
	m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}, began time.Time) string {
	for {
		select {
		case <-stop:
			return "stop requested"
		case <-ctx.Done():
			return "context cancelled"
		default:
		}

		if m.cfg.Duration > 0 && time.Since(began) >= m.cfg.Duration {
			return "duration elapsed"
		}

		err := m.iterate(ctx)
		m.iterations.Add(1)
		if sensor.IsExhausted(err) {
			return "source exhausted"
		}
		if err != nil {
			m.failures.Add(1)
			m.log.ErrorWithCode(errors.New().Wrap(errors.ErrMonitorIteration, err)).
				Int("machine_id", m.id).
				Msg("Monitor iteration failed")
		}

		if !m.wait(ctx, stop) {
			return "stop requested"
		}
	}
}

// wait sleeps for the interval. It returns false if stop fired first.
func (m *Monitor) wait(ctx context.Context, stop <-chan struct{}) bool {
	if m.cfg.Interval <= 0 {
		return true
	}

	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Monitor) iterate(ctx context.Context) (err error) {
	errFactory := errors.New()

	defer func() {
		if rec := recover(); rec != nil {
			err = errFactory.WithData(errors.ErrMonitorIteration, struct{ Panic any }{rec})
		}
	}()

	reading, err := m.source.Next(ctx, m.id)
	if err != nil {
		return err
	}

	// In-flight decisions are never pre-empted by shutdown.
	detached := context.WithoutCancel(ctx)

	result := m.router.Route(detached, reading)
	m.recorder.Record(result)

	for _, sink := range m.sinks {
		if err := sink.Record(detached, result); err != nil {
			m.log.ErrorWithCode(errFactory.Wrap(errors.ErrSinkRecord, err)).
				Int("machine_id", m.id).
				Msg("Failed to forward result")
		}
	}

	m.log.Debug().
		Int("machine_id", m.id).
		Str("tier", result.FinalLocation.String()).
		Int("fault", result.Fault).
		Float64("probability", result.Probability).
		Dur("latency", result.Latency).
		Msg("Reading processed")

	return nil
}
