// Package report turns aggregated statistics into the end-of-run summary.
package report

import (
	"slices"
	"time"

	"codeberg.org/mutker/fogpdm/internal/aggregator"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"github.com/google/uuid"
)

// Status bands by overall accuracy, in percent.
const (
	StatusExcellent        = "EXCELLENT"
	StatusGood             = "GOOD"
	StatusAcceptable       = "ACCEPTABLE"
	StatusNeedsImprovement = "NEEDS_IMPROVEMENT"
	StatusUnscored         = "UNSCORED"
)

// Params describes the run being reported.
type Params struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Machines  int
	Duration  time.Duration
	Interval  time.Duration
	Threshold float64
	Source    string
	Edge      string
	Cloud     string

	// Abandoned lists machines whose monitors missed the join deadline.
	Abandoned []int
}

// RunConfig echoes the settings a run used.
type RunConfig struct {
	Machines  int     `json:"machines" yaml:"machines"`
	Duration  float64 `json:"duration_s" yaml:"duration_s"`
	Interval  float64 `json:"interval_s" yaml:"interval_s"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Source    string  `json:"source" yaml:"source"`
	Edge      string  `json:"edge" yaml:"edge"`
	Cloud     string  `json:"cloud" yaml:"cloud"`
}

// TierReport summarizes one tier. Share and Accuracy are percentages;
// latencies are milliseconds.
type TierReport struct {
	Tier           predictor.Tier `json:"tier" yaml:"tier"`
	Handled        int            `json:"handled" yaml:"handled"`
	Share          float64        `json:"share_pct" yaml:"share_pct"`
	Labeled        int            `json:"labeled" yaml:"labeled"`
	Correct        int            `json:"correct" yaml:"correct"`
	Accuracy       float64        `json:"accuracy_pct" yaml:"accuracy_pct"`
	FaultsDetected int            `json:"faults_detected" yaml:"faults_detected"`
	LatencyMin     float64        `json:"latency_min_ms" yaml:"latency_min_ms"`
	LatencyAvg     float64        `json:"latency_avg_ms" yaml:"latency_avg_ms"`
	LatencyMax     float64        `json:"latency_max_ms" yaml:"latency_max_ms"`
}

// MachineReport summarizes one machine. FaultRate is a percentage.
type MachineReport struct {
	MachineID      int     `json:"machine_id" yaml:"machine_id"`
	Predictions    int     `json:"predictions" yaml:"predictions"`
	FaultsDetected int     `json:"faults_detected" yaml:"faults_detected"`
	FaultRate      float64 `json:"fault_rate_pct" yaml:"fault_rate_pct"`
}

// Report is the final summary of a run.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Elapsed    float64   `json:"elapsed_s" yaml:"elapsed_s"`
	Config     RunConfig `json:"config" yaml:"config"`

	Total          int     `json:"total" yaml:"total"`
	Labeled        int     `json:"labeled" yaml:"labeled"`
	Correct        int     `json:"correct" yaml:"correct"`
	Accuracy       float64 `json:"accuracy_pct" yaml:"accuracy_pct"`
	Status         string  `json:"status" yaml:"status"`
	FaultsDetected int     `json:"faults_detected" yaml:"faults_detected"`
	Escalations    int     `json:"escalations" yaml:"escalations"`
	EscalationRate float64 `json:"escalation_rate_pct" yaml:"escalation_rate_pct"`

	Tiers     []TierReport    `json:"tiers" yaml:"tiers"`
	Machines  []MachineReport `json:"machines" yaml:"machines"`
	Abandoned []int           `json:"abandoned_monitors,omitempty" yaml:"abandoned_monitors,omitempty"`
}

// Build summarizes stats. An empty RunID in p gets a fresh UUID.
func Build(stats aggregator.Stats, p Params) *Report {
	runID := p.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	r := &Report{
		RunID:      runID,
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
		Elapsed:    p.FinishedAt.Sub(p.StartedAt).Seconds(),
		Config: RunConfig{
			Machines:  p.Machines,
			Duration:  p.Duration.Seconds(),
			Interval:  p.Interval.Seconds(),
			Threshold: p.Threshold,
			Source:    p.Source,
			Edge:      p.Edge,
			Cloud:     p.Cloud,
		},
		Total:          stats.Total,
		Labeled:        stats.Labeled(),
		Correct:        stats.Correct(),
		FaultsDetected: stats.FaultsDetected(),
		Escalations:    stats.Escalations,
		EscalationRate: percent(stats.Escalations, stats.Total),
		Abandoned:      slices.Clone(p.Abandoned),
	}
	r.Accuracy = percent(r.Correct, r.Labeled)
	r.Status = status(r.Accuracy, r.Labeled)

	for _, tier := range predictor.Tiers {
		ts := stats.Tier(tier)
		minMs, avgMs, maxMs := latencyMs(ts.Latencies)
		r.Tiers = append(r.Tiers, TierReport{
			Tier:           tier,
			Handled:        ts.Handled,
			Share:          percent(ts.Handled, stats.Total),
			Labeled:        ts.Labeled,
			Correct:        ts.Correct,
			Accuracy:       percent(ts.Correct, ts.Labeled),
			FaultsDetected: ts.FaultsDetected,
			LatencyMin:     minMs,
			LatencyAvg:     avgMs,
			LatencyMax:     maxMs,
		})
	}

	ids := make([]int, 0, len(stats.Machines))
	for id := range stats.Machines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	r.Machines = make([]MachineReport, 0, len(ids))
	for _, id := range ids {
		m := stats.Machines[id]
		r.Machines = append(r.Machines, MachineReport{
			MachineID:      id,
			Predictions:    m.Predictions,
			FaultsDetected: m.FaultsDetected,
			FaultRate:      percent(m.FaultsDetected, m.Predictions),
		})
	}

	return r
}

// Tier returns the summary for t, or a zero value when absent.
func (r *Report) Tier(t predictor.Tier) TierReport {
	for _, tr := range r.Tiers {
		if tr.Tier == t {
			return tr
		}
	}
	return TierReport{Tier: t}
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

func status(accuracy float64, labeled int) string {
	switch {
	case labeled == 0:
		return StatusUnscored
	case accuracy >= 80:
		return StatusExcellent
	case accuracy >= 70:
		return StatusGood
	case accuracy >= 60:
		return StatusAcceptable
	default:
		return StatusNeedsImprovement
	}
}

func latencyMs(latencies []time.Duration) (minMs, avgMs, maxMs float64) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}

	lo, hi := latencies[0], latencies[0]
	var sum time.Duration
	for _, l := range latencies {
		lo = min(lo, l)
		hi = max(hi, l)
		sum += l
	}

	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return ms(lo), ms(sum) / float64(len(latencies)), ms(hi)
}
