package predictor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Delayed wraps a predictor with simulated network cost: a fixed delay plus
// uniform jitter, and an optional failure rate. The added delay is included
// in the reported latency.
type Delayed struct {
	next        Predictor
	delay       time.Duration
	jitter      time.Duration
	failureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewDelayed wraps next. A zero seed uses the current time.
func NewDelayed(next Predictor, delay, jitter time.Duration, failureRate float64, seed int64) *Delayed {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Delayed{
		next:        next,
		delay:       delay,
		jitter:      jitter,
		failureRate: failureRate,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

func (d *Delayed) draw() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wait := d.delay
	if d.jitter > 0 {
		wait += time.Duration(d.rnd.Int63n(int64(d.jitter) + 1))
	}
	return wait, d.rnd.Float64() < d.failureRate
}

func (d *Delayed) Predict(ctx context.Context, r sensor.Reading) (Outcome, error) {
	errFactory := errors.New()
	wait, fail := d.draw()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Outcome{}, errFactory.Wrap(ErrTimeout, ctx.Err())
	case <-timer.C:
	}

	if fail {
		return Outcome{}, errFactory.WithMessage(ErrPredictionFailed, "simulated tier failure")
	}

	outcome, err := d.next.Predict(ctx, r)
	if err != nil {
		return Outcome{}, err
	}
	outcome.Latency += wait
	return outcome, nil
}
