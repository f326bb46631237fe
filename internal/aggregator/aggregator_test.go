package aggregator_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fogpdm/internal/aggregator"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(machine int, tier predictor.Tier, fault, trueFault int, escalated bool) offload.RoutingResult {
	return offload.RoutingResult{
		Outcome: predictor.Outcome{
			Fault:       fault,
			Probability: float64(fault),
			Latency:     time.Duration(machine) * time.Millisecond,
			Tier:        tier,
		},
		MachineID:     machine,
		Labeled:       true,
		TrueFault:     trueFault,
		FinalLocation: tier,
		Escalated:     escalated,
	}
}

func assertInvariant(t *testing.T, s aggregator.Stats) {
	t.Helper()
	assert.Equal(t, s.Total, s.Edge.Handled+s.Cloud.Handled+s.Fallback.Handled)
	assert.Equal(t, s.Edge.Handled, len(s.Edge.Latencies))
	assert.Equal(t, s.Cloud.Handled, len(s.Cloud.Latencies))
	assert.Equal(t, s.Fallback.Handled, len(s.Fallback.Latencies))

	var perMachine int
	for _, m := range s.Machines {
		perMachine += m.Predictions
	}
	assert.Equal(t, s.Total, perMachine)
}

func TestRecord(t *testing.T) {
	a := aggregator.New()

	a.Record(result(1, predictor.TierEdge, 1, 1, false))
	a.Record(result(1, predictor.TierCloud, 0, 1, true))
	a.Record(result(2, predictor.TierFallback, 1, 1, false))
	unlabeled := result(2, predictor.TierEdge, 0, 0, false)
	unlabeled.Labeled = false
	a.Record(unlabeled)

	s := a.Snapshot()
	assertInvariant(t, s)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Edge.Handled)
	assert.Equal(t, 1, s.Edge.Labeled)
	assert.Equal(t, 1, s.Edge.Correct)
	assert.Equal(t, 1, s.Cloud.Handled)
	assert.Equal(t, 0, s.Cloud.Correct)
	assert.Equal(t, 1, s.Fallback.Correct)
	assert.Equal(t, 1, s.Escalations)
	assert.Equal(t, 3, s.Labeled())
	assert.Equal(t, 2, s.Correct())
	assert.Equal(t, 2, s.FaultsDetected())
	assert.Equal(t, aggregator.MachineStats{Predictions: 2, FaultsDetected: 1}, s.Machines[1])
	assert.Equal(t, aggregator.MachineStats{Predictions: 2, FaultsDetected: 1}, s.Machines[2])
}

func TestEmptySnapshot(t *testing.T) {
	s := aggregator.New().Snapshot()
	assert.Zero(t, s.Total)
	assert.NotNil(t, s.Machines)
	assertInvariant(t, s)
}

func TestSnapshotIsolation(t *testing.T) {
	a := aggregator.New()
	a.Record(result(1, predictor.TierEdge, 0, 0, false))

	s := a.Snapshot()
	s.Edge.Latencies[0] = time.Hour
	s.Machines[1] = aggregator.MachineStats{Predictions: 99}
	s.Machines[7] = aggregator.MachineStats{}

	a.Record(result(1, predictor.TierEdge, 0, 0, false))

	again := a.Snapshot()
	assert.Equal(t, 1, s.Total, "earlier snapshot must not change")
	assert.Equal(t, 2, again.Total)
	assert.Equal(t, time.Millisecond, again.Edge.Latencies[0])
	assert.Equal(t, 2, again.Machines[1].Predictions)
	assert.NotContains(t, again.Machines, 7)
}

func TestConcurrentRecord(t *testing.T) {
	const (
		workers   = 16
		perWorker = 1000
	)
	tiers := predictor.Tiers

	a := aggregator.New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Snapshots taken while writers run must always be consistent.
	snapshots := make(chan aggregator.Stats, 64)
	go func() {
		defer close(snapshots)
		for {
			select {
			case <-stop:
				return
			default:
				select {
				case snapshots <- a.Snapshot():
				default:
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(machine int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tier := tiers[i%len(tiers)]
				a.Record(result(machine, tier, i%2, 1, tier == predictor.TierCloud))
			}
		}(w)
	}

	wg.Wait()
	close(stop)
	for s := range snapshots {
		assertInvariant(t, s)
	}

	s := a.Snapshot()
	require.Equal(t, workers*perWorker, s.Total)
	assertInvariant(t, s)
	assert.Len(t, s.Machines, workers)
	for id, m := range s.Machines {
		assert.Equal(t, perWorker, m.Predictions, "machine %d", id)
	}
	assert.Equal(t, s.Cloud.Handled, s.Escalations)
	assert.Equal(t, workers*perWorker/2, s.Correct())
}
