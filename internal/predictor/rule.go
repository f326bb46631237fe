package predictor

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Rule is the lightweight edge classifier: a handful of additive threshold
// rules over temperature, voltage and vibration statistics. It runs in
// microseconds and needs no model file.
type Rule struct{}

// NewRule returns the rule classifier.
func NewRule() *Rule {
	return &Rule{}
}

type vibrationStats struct {
	mean, std, max, energy float64
}

func vibrationFeatures(series []float64) vibrationStats {
	if len(series) == 0 {
		return vibrationStats{}
	}

	var sum, energy float64
	peak := math.Inf(-1)
	for _, v := range series {
		sum += v
		energy += v * v
		peak = math.Max(peak, v)
	}
	mean := sum / float64(len(series))

	var variance float64
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}

	return vibrationStats{
		mean:   mean,
		std:    math.Sqrt(variance / float64(len(series))),
		max:    peak,
		energy: energy,
	}
}

func (*Rule) Predict(ctx context.Context, r sensor.Reading) (Outcome, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	temp := r.TemperatureOr(sensor.DefaultTemperature)
	voltage := r.VoltageOr(sensor.DefaultVoltage)
	vib := vibrationFeatures(r.Vibration)

	var score float64
	switch {
	case temp > 60:
		score += 0.4
	case temp > 55:
		score += 0.2
	}
	switch {
	case voltage > 235:
		score += 0.4
	case voltage < 210:
		score += 0.3
	}
	if math.Abs(vib.mean) > 1.0 {
		score += 0.1
	}
	if vib.std > 2.0 {
		score += 0.1
	}
	if math.Abs(vib.max) > 3.0 {
		score += 0.1
	}
	if vib.energy > 150 {
		score += 0.1
	}

	prob := math.Min(score, 1.0)
	fault := 0
	if prob > 0.5 {
		fault = 1
	}

	return Outcome{
		Fault:       fault,
		Probability: prob,
		Latency:     time.Since(start),
		Method:      "rules",
	}, nil
}
