package predictor_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"codeberg.org/mutker/fogpdm/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		prob float64
		want float64
	}{
		{0.5, 0},
		{0, 1},
		{1, 1},
		{0.52, 0.04},
		{0.95, 0.9},
		{0.25, 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, predictor.Confidence(tt.prob), 1e-9, "prob=%v", tt.prob)
		assert.InDelta(t, tt.want, predictor.Outcome{Probability: tt.prob}.Confidence(), 1e-9)
	}
}

func TestRule(t *testing.T) {
	tests := []struct {
		name      string
		reading   sensor.Reading
		wantFault int
		wantProb  float64
	}{
		{
			name:      "missing fields use defaults",
			reading:   sensor.Reading{},
			wantFault: 0,
			wantProb:  0,
		},
		{
			name: "normal machine",
			reading: sensor.Reading{
				Temperature: sensor.Float(50),
				Voltage:     sensor.Float(220),
				Vibration:   series(0.8, 100),
			},
			wantFault: 0,
			wantProb:  0,
		},
		{
			name: "warm machine is ambiguous",
			reading: sensor.Reading{
				Temperature: sensor.Float(58),
				Voltage:     sensor.Float(220),
				Vibration:   series(1.2, 100),
			},
			wantFault: 0,
			wantProb:  0.3,
		},
		{
			name: "hot over-voltage machine",
			reading: sensor.Reading{
				Temperature: sensor.Float(75),
				Voltage:     sensor.Float(250),
				Vibration:   series(3.5, 100),
			},
			wantFault: 1,
			wantProb:  1,
		},
	}

	p := predictor.NewRule()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Predict(context.Background(), tt.reading)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFault, out.Fault)
			assert.InDelta(t, tt.wantProb, out.Probability, 1e-9)
			assert.Equal(t, "rules", out.Method)
		})
	}
}

func TestLinearDefaultModel(t *testing.T) {
	p := predictor.NewLinear(predictor.DefaultModel())

	normal, err := p.Predict(context.Background(), sensor.Reading{
		Temperature: sensor.Float(52),
		Voltage:     sensor.Float(222),
		Current:     sensor.Float(14.5),
		Vibration:   series(1.0, 100),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, normal.Fault)
	assert.Less(t, normal.Probability, 0.05)

	fault, err := p.Predict(context.Background(), sensor.Reading{
		Temperature: sensor.Float(75),
		Voltage:     sensor.Float(250),
		Current:     sensor.Float(21.5),
		Vibration:   series(3.0, 100),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fault.Fault)
	assert.Greater(t, fault.Probability, 0.95)
}

func TestLoadLinear(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"coefficients":{"temperature":1},"intercept":-70,"threshold":0.5}`), 0o600))
	p, err := predictor.LoadLinear(good)
	require.NoError(t, err)

	out, err := p.Predict(context.Background(), sensor.Reading{Temperature: sensor.Float(72)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fault)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"threshold":0}`), 0o600))
	_, err = predictor.LoadLinear(bad)
	assert.True(t, errors.HasCode(err, predictor.ErrModelLoad))

	_, err = predictor.LoadLinear(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.HasCode(err, predictor.ErrModelLoad))
}

func TestResponseOutcome(t *testing.T) {
	out, err := predictor.Response{Fault: 1, Prob: 0.8, Method: "ann"}.Outcome(3 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fault)
	assert.Equal(t, 3*time.Millisecond, out.Latency)
	assert.Equal(t, "ann", out.Method)

	_, err = predictor.Response{Error: "model missing"}.Outcome(0)
	assert.True(t, errors.HasCode(err, predictor.ErrPredictionFailed))

	_, err = predictor.Response{Fault: 2, Prob: 0.5}.Outcome(0)
	assert.True(t, errors.HasCode(err, predictor.ErrInvalidResponse))

	_, err = predictor.Response{Fault: 0, Prob: 1.5}.Outcome(0)
	assert.True(t, errors.HasCode(err, predictor.ErrInvalidResponse))
}

func TestRequestRoundTripsReading(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := sensor.Reading{MachineID: 4, Timestamp: ts, Temperature: sensor.Float(61), Vibration: []float64{1, 2}}

	back := predictor.NewRequest(r).Reading()
	assert.Equal(t, 4, back.MachineID)
	assert.WithinDuration(t, ts, back.Timestamp, time.Microsecond)
	assert.Equal(t, 61.0, *back.Temperature)
	assert.Nil(t, back.Voltage)
	assert.Equal(t, []float64{1, 2}, back.Vibration)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec predictor tests need a POSIX shell")
	}
}

func TestExec(t *testing.T) {
	requireShell(t)

	p := predictor.NewExec("sh", "-c",
		`grep -q '"temp":72' "$1" && echo '{"fault":1,"prob":0.9,"latency_ms":1.5,"method":"script"}'`, "sh")

	out, err := p.Predict(context.Background(), sensor.Reading{MachineID: 1, Temperature: sensor.Float(72)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fault)
	assert.Equal(t, 0.9, out.Probability)
	assert.Equal(t, "script", out.Method)
	assert.Positive(t, out.Latency)
}

func TestExecFailures(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name   string
		script string
		code   errors.ErrorCode
	}{
		{"non-zero exit", `echo boom >&2; exit 3`, predictor.ErrPredictionFailed},
		{"garbage output", `echo not-json`, predictor.ErrInvalidResponse},
		{"reported error", `echo '{"error":"no model"}'`, predictor.ErrPredictionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := predictor.NewExec("sh", "-c", tt.script, "sh").
				Predict(context.Background(), sensor.Reading{MachineID: 1})
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestExecTimeout(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := predictor.NewExec("sh", "-c", "exec sleep 5", "sh").Predict(ctx, sensor.Reading{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, predictor.ErrTimeout))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func startServer(t *testing.T, p predictor.Predictor) string {
	t.Helper()

	srv := predictor.NewServer(p, time.Second, logger.Nop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return srv.Addr().String()
}

func TestSocketAgainstServer(t *testing.T) {
	addr := startServer(t, predictor.NewRule())
	client := predictor.NewSocket(addr)

	out, err := client.Predict(context.Background(), sensor.Reading{
		MachineID:   3,
		Temperature: sensor.Float(80),
		Voltage:     sensor.Float(255),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fault)
	assert.InDelta(t, 0.8, out.Probability, 1e-9)
	assert.Equal(t, "rules", out.Method)
}

func TestSocketServerSideError(t *testing.T) {
	failing := predictor.Func(func(context.Context, sensor.Reading) (predictor.Outcome, error) {
		return predictor.Outcome{}, errors.New().New(predictor.ErrPredictionFailed)
	})
	addr := startServer(t, failing)

	_, err := predictor.NewSocket(addr).Predict(context.Background(), sensor.Reading{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, predictor.ErrPredictionFailed))
}

func TestSocketTimeout(t *testing.T) {
	slow := predictor.Func(func(ctx context.Context, _ sensor.Reading) (predictor.Outcome, error) {
		<-ctx.Done()
		return predictor.Outcome{}, ctx.Err()
	})
	addr := startServer(t, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := predictor.NewSocket(addr).Predict(ctx, sensor.Reading{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, predictor.ErrTimeout), "got %v", err)
}

func TestSocketUnreachable(t *testing.T) {
	_, err := predictor.NewSocket("127.0.0.1:1").Predict(context.Background(), sensor.Reading{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, predictor.ErrPredictionFailed))
}

func TestDelayed(t *testing.T) {
	inner := predictor.Func(func(context.Context, sensor.Reading) (predictor.Outcome, error) {
		return predictor.Outcome{Fault: 1, Probability: 0.9, Latency: time.Millisecond}, nil
	})

	out, err := predictor.NewDelayed(inner, 20*time.Millisecond, 0, 0, 1).
		Predict(context.Background(), sensor.Reading{})
	require.NoError(t, err)
	assert.Equal(t, 21*time.Millisecond, out.Latency)

	_, err = predictor.NewDelayed(inner, 0, 0, 1, 1).Predict(context.Background(), sensor.Reading{})
	assert.True(t, errors.HasCode(err, predictor.ErrPredictionFailed))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = predictor.NewDelayed(inner, time.Second, 0, 0, 1).Predict(ctx, sensor.Reading{})
	assert.True(t, errors.HasCode(err, predictor.ErrTimeout))
}
