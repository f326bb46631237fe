package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/fogpdm/internal/aggregator"
	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"codeberg.org/mutker/fogpdm/internal/report"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStats() aggregator.Stats {
	return aggregator.Stats{
		Total: 10,
		Edge: aggregator.TierStats{
			Handled: 6, Labeled: 6, Correct: 5, FaultsDetected: 1,
			Latencies: []time.Duration{
				time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond,
				time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond,
			},
		},
		Cloud: aggregator.TierStats{
			Handled: 3, Labeled: 3, Correct: 3, FaultsDetected: 2,
			Latencies: []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond},
		},
		Fallback: aggregator.TierStats{
			Handled: 1, Labeled: 1, Correct: 0, FaultsDetected: 1,
			Latencies: []time.Duration{0},
		},
		Escalations: 3,
		Machines: map[int]aggregator.MachineStats{
			2: {Predictions: 4, FaultsDetected: 1},
			1: {Predictions: 6, FaultsDetected: 3},
		},
	}
}

func sampleParams() report.Params {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return report.Params{
		StartedAt:  start,
		FinishedAt: start.Add(100 * time.Second),
		Machines:   2,
		Duration:   100 * time.Second,
		Interval:   10 * time.Second,
		Threshold:  0.8,
		Source:     "simulated",
		Edge:       "rule",
		Cloud:      "linear",
	}
}

func TestBuild(t *testing.T) {
	r := report.Build(sampleStats(), sampleParams())

	_, err := uuid.Parse(r.RunID)
	require.NoError(t, err)

	assert.Equal(t, 10, r.Total)
	assert.Equal(t, 10, r.Labeled)
	assert.Equal(t, 8, r.Correct)
	assert.InDelta(t, 80.0, r.Accuracy, 1e-9)
	assert.Equal(t, report.StatusExcellent, r.Status)
	assert.Equal(t, 4, r.FaultsDetected)
	assert.InDelta(t, 30.0, r.EscalationRate, 1e-9)
	assert.InDelta(t, 100.0, r.Elapsed, 1e-9)
	assert.Equal(t, 2, r.Config.Machines)
	assert.Equal(t, 10.0, r.Config.Interval)

	require.Len(t, r.Tiers, 3)
	edge := r.Tier(predictor.TierEdge)
	assert.Equal(t, 6, edge.Handled)
	assert.InDelta(t, 60.0, edge.Share, 1e-9)
	assert.InDelta(t, 100.0*5/6, edge.Accuracy, 1e-9)
	assert.InDelta(t, 1.0, edge.LatencyMin, 1e-9)
	assert.InDelta(t, 2.0, edge.LatencyAvg, 1e-9)
	assert.InDelta(t, 3.0, edge.LatencyMax, 1e-9)

	cloud := r.Tier(predictor.TierCloud)
	assert.InDelta(t, 150.0, cloud.LatencyAvg, 1e-9)
	assert.InDelta(t, 100.0, cloud.Accuracy, 1e-9)

	fallback := r.Tier(predictor.TierFallback)
	assert.InDelta(t, 10.0, fallback.Share, 1e-9)
	assert.Zero(t, fallback.Accuracy)

	require.Len(t, r.Machines, 2)
	assert.Equal(t, 1, r.Machines[0].MachineID, "machines are sorted")
	assert.InDelta(t, 50.0, r.Machines[0].FaultRate, 1e-9)
	assert.InDelta(t, 25.0, r.Machines[1].FaultRate, 1e-9)
}

func TestBuildKeepsRunID(t *testing.T) {
	p := sampleParams()
	p.RunID = "fixed"
	assert.Equal(t, "fixed", report.Build(sampleStats(), p).RunID)
}

func TestBuildEmpty(t *testing.T) {
	r := report.Build(aggregator.New().Snapshot(), sampleParams())

	assert.Zero(t, r.Total)
	assert.Zero(t, r.Accuracy)
	assert.Equal(t, report.StatusUnscored, r.Status)
	assert.Len(t, r.Tiers, 3)
	assert.Empty(t, r.Machines)
	for _, tier := range r.Tiers {
		assert.Zero(t, tier.Share)
		assert.Zero(t, tier.LatencyMax)
	}
}

func TestStatusBands(t *testing.T) {
	tests := []struct {
		correct int
		want    string
	}{
		{10, report.StatusExcellent},
		{8, report.StatusExcellent},
		{7, report.StatusGood},
		{6, report.StatusAcceptable},
		{5, report.StatusNeedsImprovement},
		{0, report.StatusNeedsImprovement},
	}
	for _, tt := range tests {
		stats := aggregator.Stats{
			Total: 10,
			Edge:  aggregator.TierStats{Handled: 10, Labeled: 10, Correct: tt.correct},
		}
		assert.Equal(t, tt.want, report.Build(stats, sampleParams()).Status, "correct=%d", tt.correct)
	}
}

func TestWriteFile(t *testing.T) {
	r := report.Build(sampleStats(), sampleParams())
	dir := t.TempDir()

	for _, format := range []string{report.FormatJSON, report.FormatYAML} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "out", "report."+format)
			require.NoError(t, r.WriteFile(path, format))

			data, err := os.ReadFile(path)
			require.NoError(t, err)

			back, err := report.Decode(data, format)
			require.NoError(t, err)
			assert.Equal(t, r.RunID, back.RunID)
			assert.Equal(t, r.Total, back.Total)
			assert.Equal(t, r.Status, back.Status)
			assert.Equal(t, r.Machines, back.Machines)
			assert.True(t, r.FinishedAt.Equal(back.FinishedAt))
		})
	}
}

func TestUnknownFormat(t *testing.T) {
	r := report.Build(sampleStats(), sampleParams())

	err := r.WriteFile(filepath.Join(t.TempDir(), "report.xml"), "xml")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, report.ErrUnknownFormat))

	_, err = report.Decode([]byte("{}"), "xml")
	assert.True(t, errors.HasCode(err, report.ErrUnknownFormat))
}

func TestPrint(t *testing.T) {
	stats := sampleStats()
	stats.Total = 12345
	stats.Edge.Handled = 12341

	var buf bytes.Buffer
	require.NoError(t, report.Build(stats, sampleParams()).Print(&buf))

	out := buf.String()
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, report.StatusExcellent)
	assert.Contains(t, out, "edge")
	assert.Contains(t, out, "cloud")
	assert.Contains(t, out, "fallback")
	assert.Contains(t, out, "MACHINE")
}
