package sensor

import (
	"context"
	"time"
)

// Defaults substituted for missing scalar fields by consumers that need a
// value. They sit inside the normal operating band.
const (
	DefaultTemperature = 50.0
	DefaultVoltage     = 220.0
	DefaultCurrent     = 14.0
)

// Reading is one sample from a machine. It is never mutated after creation.
type Reading struct {
	MachineID   int       `json:"machine_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temp,omitempty"`
	Voltage     *float64  `json:"voltage,omitempty"`
	Current     *float64  `json:"current,omitempty"`
	Vibration   []float64 `json:"vibration,omitempty"`

	// Ground truth, only known in simulation and replay.
	Labeled   bool `json:"labeled,omitempty"`
	TrueFault int  `json:"true_fault,omitempty"`
}

// Source produces readings for a machine.
type Source interface {
	Next(ctx context.Context, machineID int) (Reading, error)
}

// Float returns a pointer to v, for building readings.
func Float(v float64) *float64 {
	return &v
}

func (r Reading) TemperatureOr(def float64) float64 { return valueOr(r.Temperature, def) }
func (r Reading) VoltageOr(def float64) float64     { return valueOr(r.Voltage, def) }
func (r Reading) CurrentOr(def float64) float64     { return valueOr(r.Current, def) }

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
