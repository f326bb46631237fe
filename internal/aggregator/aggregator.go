// Package aggregator accumulates routing results from concurrent monitors.
package aggregator

import (
	"maps"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/predictor"
)

// TierStats counts the results a tier made the final decision for.
type TierStats struct {
	Handled        int             `json:"handled"`
	Labeled        int             `json:"labeled"`
	Correct        int             `json:"correct"`
	FaultsDetected int             `json:"faults_detected"`
	Latencies      []time.Duration `json:"latencies"`
}

// MachineStats counts results per machine.
type MachineStats struct {
	Predictions    int `json:"predictions"`
	FaultsDetected int `json:"faults_detected"`
}

// Stats is a point-in-time view of everything recorded.
type Stats struct {
	Total       int                  `json:"total"`
	Edge        TierStats            `json:"edge"`
	Cloud       TierStats            `json:"cloud"`
	Fallback    TierStats            `json:"fallback"`
	Escalations int                  `json:"escalations"`
	Machines    map[int]MachineStats `json:"machines"`
}

// Tier returns the stats for t.
func (s *Stats) Tier(t predictor.Tier) *TierStats {
	switch t {
	case predictor.TierEdge:
		return &s.Edge
	case predictor.TierCloud:
		return &s.Cloud
	default:
		return &s.Fallback
	}
}

// Labeled is the number of labeled results across tiers.
func (s Stats) Labeled() int {
	return s.Edge.Labeled + s.Cloud.Labeled + s.Fallback.Labeled
}

// Correct is the number of correct labeled results across tiers.
func (s Stats) Correct() int {
	return s.Edge.Correct + s.Cloud.Correct + s.Fallback.Correct
}

// FaultsDetected is the number of fault decisions across tiers.
func (s Stats) FaultsDetected() int {
	return s.Edge.FaultsDetected + s.Cloud.FaultsDetected + s.Fallback.FaultsDetected
}

func (ts TierStats) clone() TierStats {
	ts.Latencies = slices.Clone(ts.Latencies)
	return ts
}

// Aggregator is safe for concurrent use. One mutex guards every counter.
type Aggregator struct {
	mu    sync.Mutex
	stats Stats
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{stats: Stats{Machines: make(map[int]MachineStats)}}
}

// Record adds one result. All counters change together.
func (a *Aggregator) Record(r offload.RoutingResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Total++

	tier := a.stats.Tier(r.FinalLocation)
	tier.Handled++
	tier.Latencies = append(tier.Latencies, r.Latency)
	if r.Fault == 1 {
		tier.FaultsDetected++
	}
	if r.Labeled {
		tier.Labeled++
		if r.Correct() {
			tier.Correct++
		}
	}

	if r.Escalated {
		a.stats.Escalations++
	}

	m := a.stats.Machines[r.MachineID]
	m.Predictions++
	if r.Fault == 1 {
		m.FaultsDetected++
	}
	a.stats.Machines[r.MachineID] = m
}

// Snapshot returns a deep copy that later Records do not affect.
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.Edge = s.Edge.clone()
	s.Cloud = s.Cloud.clone()
	s.Fallback = s.Fallback.clone()
	s.Machines = maps.Clone(s.Machines)
	if s.Machines == nil {
		s.Machines = make(map[int]MachineStats)
	}
	return s
}
