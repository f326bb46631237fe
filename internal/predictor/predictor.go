// Package predictor defines the prediction capability used by the offload
// policy and the adapters that implement it.
package predictor

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Tier names where a decision was made.
type Tier string

const (
	TierEdge     Tier = "edge"
	TierCloud    Tier = "cloud"
	TierFallback Tier = "fallback"
)

// Tiers lists every tier in reporting order.
var Tiers = []Tier{TierEdge, TierCloud, TierFallback}

func (t Tier) String() string { return string(t) }

// Outcome is the result of one successful predictor invocation.
type Outcome struct {
	Fault       int           `json:"fault"`
	Probability float64       `json:"probability"`
	Latency     time.Duration `json:"latency"`
	Tier        Tier          `json:"tier"`
	Method      string        `json:"method"`
}

// Confidence maps the probability onto [0,1]: 0 at p=0.5, 1 at p=0 or p=1.
func (o Outcome) Confidence() float64 {
	return Confidence(o.Probability)
}

// Confidence returns |p-0.5|*2.
func Confidence(p float64) float64 {
	return math.Abs(p-0.5) * 2
}

// Predictor classifies a reading. Implementations should honor ctx, but
// callers must not rely on it to bound the call.
type Predictor interface {
	Predict(ctx context.Context, r sensor.Reading) (Outcome, error)
}

// Func adapts a plain function to the Predictor interface.
type Func func(ctx context.Context, r sensor.Reading) (Outcome, error)

func (f Func) Predict(ctx context.Context, r sensor.Reading) (Outcome, error) {
	return f(ctx, r)
}
