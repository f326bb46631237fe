package predictor

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Model is a logistic regression over the reading's scalar features and
// vibration RMS.
type Model struct {
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
	Threshold    float64            `json:"threshold"`
}

// DefaultModel separates the normal and fault operating bands used by the
// simulator.
func DefaultModel() Model {
	return Model{
		Coefficients: map[string]float64{
			"temperature":   0.25,
			"voltage":       0.12,
			"current":       0.6,
			"vibration_rms": 1.0,
		},
		Intercept: -56.35,
		Threshold: 0.5,
	}
}

// Linear scores readings with a Model. It stands in for the heavier cloud
// classifier.
type Linear struct {
	model Model
}

// NewLinear returns a predictor for model.
func NewLinear(model Model) *Linear {
	return &Linear{model: model}
}

// LoadLinear reads a Model from a JSON file.
func LoadLinear(path string) (*Linear, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrModelLoad, err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, errFactory.Wrap(ErrModelLoad, err)
	}
	if model.Threshold <= 0 || model.Threshold >= 1 {
		return nil, errFactory.WithData(ErrModelLoad, struct{ Threshold float64 }{model.Threshold})
	}

	return NewLinear(model), nil
}

// featureNames fixes the summation order so scores are reproducible.
var featureNames = []string{"temperature", "voltage", "current", "vibration_rms"}

// Features returns the named inputs the model can weight.
func Features(r sensor.Reading) map[string]float64 {
	var rms float64
	if len(r.Vibration) > 0 {
		var sum float64
		for _, v := range r.Vibration {
			sum += v * v
		}
		rms = math.Sqrt(sum / float64(len(r.Vibration)))
	}

	return map[string]float64{
		"temperature":   r.TemperatureOr(sensor.DefaultTemperature),
		"voltage":       r.VoltageOr(sensor.DefaultVoltage),
		"current":       r.CurrentOr(sensor.DefaultCurrent),
		"vibration_rms": rms,
	}
}

func (l *Linear) Predict(ctx context.Context, r sensor.Reading) (Outcome, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	features := Features(r)
	score := l.model.Intercept
	for _, name := range featureNames {
		score += l.model.Coefficients[name] * features[name]
	}
	prob := 1 / (1 + math.Exp(-score))

	fault := 0
	if prob >= l.model.Threshold {
		fault = 1
	}

	return Outcome{
		Fault:       fault,
		Probability: prob,
		Latency:     time.Since(start),
		Method:      "logistic",
	}, nil
}
