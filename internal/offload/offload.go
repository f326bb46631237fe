// Package offload decides, per reading, whether the edge classifier's answer
// is good enough or the reading must be escalated to the cloud, and falls
// back to a fixed safety rule when neither tier answers.
package offload

import (
	"context"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

const (
	DefaultThreshold           = 0.8
	DefaultEdgeTimeout         = 5 * time.Second
	DefaultCloudTimeout        = 12 * time.Second
	DefaultFallbackTemperature = 70.0

	// FallbackConfidence is reported for every safety-rule decision.
	FallbackConfidence = 0.5
	FallbackMethod     = "safety_rule"
)

// Config holds the policy's tunables.
type Config struct {
	// Threshold is the minimum edge confidence, inclusive, that keeps a
	// decision on the edge.
	Threshold           float64
	EdgeTimeout         time.Duration
	CloudTimeout        time.Duration
	FallbackTemperature float64
}

// DefaultConfig returns the stock policy settings.
func DefaultConfig() Config {
	return Config{
		Threshold:           DefaultThreshold,
		EdgeTimeout:         DefaultEdgeTimeout,
		CloudTimeout:        DefaultCloudTimeout,
		FallbackTemperature: DefaultFallbackTemperature,
	}
}

// RoutingResult is the final decision for one reading.
type RoutingResult struct {
	predictor.Outcome

	MachineID int       `json:"machine_id"`
	Timestamp time.Time `json:"timestamp"`
	Labeled   bool      `json:"labeled"`
	TrueFault int       `json:"true_fault"`

	FinalLocation predictor.Tier `json:"final_location"`
	Escalated     bool           `json:"escalated"`
	// EdgeConfidence is 0 when the edge tier failed outright.
	EdgeConfidence float64 `json:"edge_confidence"`
}

// Correct reports whether a labeled result matches its ground truth.
func (r RoutingResult) Correct() bool {
	return r.Labeled && r.Fault == r.TrueFault
}

// Policy routes readings between an edge and a cloud predictor. It keeps no
// state besides its configuration and is safe for concurrent use.
type Policy struct {
	edge  predictor.Predictor
	cloud predictor.Predictor
	cfg   Config
}

// NewPolicy validates cfg and returns a policy over the two tiers.
func NewPolicy(edge, cloud predictor.Predictor, cfg Config) (*Policy, error) {
	errFactory := errors.New()

	switch {
	case edge == nil || cloud == nil:
		return nil, errFactory.WithMessage(ErrInvalidPolicy, "edge and cloud predictors are required")
	case cfg.Threshold < 0 || cfg.Threshold > 1 || cfg.Threshold != cfg.Threshold:
		return nil, errFactory.WithData(ErrInvalidPolicy, struct{ Threshold float64 }{cfg.Threshold})
	case cfg.EdgeTimeout <= 0:
		return nil, errFactory.WithData(ErrInvalidPolicy, struct{ EdgeTimeout time.Duration }{cfg.EdgeTimeout})
	case cfg.CloudTimeout <= 0:
		return nil, errFactory.WithData(ErrInvalidPolicy, struct{ CloudTimeout time.Duration }{cfg.CloudTimeout})
	}

	return &Policy{edge: edge, cloud: cloud, cfg: cfg}, nil
}

// Config returns the policy's configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Route classifies r. It never fails: when both tiers are unavailable the
// safety rule decides.
func (p *Policy) Route(ctx context.Context, r sensor.Reading) RoutingResult {
	result := RoutingResult{
		MachineID: r.MachineID,
		Timestamp: r.Timestamp,
		Labeled:   r.Labeled,
		TrueFault: r.TrueFault,
	}

	edge, err := call(ctx, p.edge, r, p.cfg.EdgeTimeout)
	if err != nil {
		logger.Debug().Err(err).Int("machine_id", r.MachineID).Msg("Edge prediction failed, escalating")
	} else {
		result.EdgeConfidence = edge.Confidence()
		if result.EdgeConfidence >= p.cfg.Threshold {
			edge.Tier = predictor.TierEdge
			return p.finish(result, edge, false)
		}
	}

	cloud, err := call(ctx, p.cloud, r, p.cfg.CloudTimeout)
	if err == nil {
		cloud.Tier = predictor.TierCloud
		return p.finish(result, cloud, true)
	}

	logger.Debug().Err(err).Int("machine_id", r.MachineID).Msg("Cloud prediction failed, applying safety rule")
	return p.finish(result, p.fallback(r), false)
}

func (p *Policy) finish(result RoutingResult, o predictor.Outcome, escalated bool) RoutingResult {
	result.Outcome = o
	result.FinalLocation = o.Tier
	result.Escalated = escalated
	return result
}

// fallback applies the temperature safety rule. No I/O.
func (p *Policy) fallback(r sensor.Reading) predictor.Outcome {
	start := time.Now()

	o := predictor.Outcome{
		Probability: 0.5 - FallbackConfidence/2,
		Tier:        predictor.TierFallback,
		Method:      FallbackMethod,
	}
	if r.TemperatureOr(sensor.DefaultTemperature) > p.cfg.FallbackTemperature {
		o.Fault = 1
		o.Probability = 0.5 + FallbackConfidence/2
	}
	o.Latency = time.Since(start)
	return o
}

type callResult struct {
	outcome predictor.Outcome
	err     error
}

// call runs one predictor with a hard deadline. The deadline holds even when
// the predictor ignores ctx; a late answer is discarded.
func call(ctx context.Context, p predictor.Predictor, r sensor.Reading, timeout time.Duration) (predictor.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callResult{err: errors.New().WithData(predictor.ErrPredictionFailed, rec)}
			}
		}()
		o, err := p.Predict(ctx, r)
		done <- callResult{outcome: o, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return predictor.Outcome{}, res.err
		}
		o := res.outcome
		if (o.Fault != 0 && o.Fault != 1) || o.Probability < 0 || o.Probability > 1 || o.Probability != o.Probability {
			return predictor.Outcome{}, errors.New().WithData(predictor.ErrInvalidResponse, struct {
				Fault       int
				Probability float64
			}{o.Fault, o.Probability})
		}
		return res.outcome, nil
	case <-ctx.Done():
		return predictor.Outcome{}, errors.New().Wrap(predictor.ErrTimeout, ctx.Err())
	}
}
