package predictor

import (
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Request is the flat record sent to out-of-process predictors.
type Request struct {
	MachineID   int       `json:"machine_id"`
	Timestamp   float64   `json:"timestamp"`
	Temperature *float64  `json:"temp,omitempty"`
	Voltage     *float64  `json:"voltage,omitempty"`
	Current     *float64  `json:"current,omitempty"`
	Vibration   []float64 `json:"vibration,omitempty"`
}

// Response is what an out-of-process predictor answers with.
type Response struct {
	Fault     int     `json:"fault"`
	Prob      float64 `json:"prob"`
	LatencyMs float64 `json:"latency_ms"`
	Method    string  `json:"method"`
	Error     string  `json:"error,omitempty"`
}

// NewRequest flattens a reading. The timestamp is Unix seconds.
func NewRequest(r sensor.Reading) Request {
	return Request{
		MachineID:   r.MachineID,
		Timestamp:   float64(r.Timestamp.UnixNano()) / float64(time.Second),
		Temperature: r.Temperature,
		Voltage:     r.Voltage,
		Current:     r.Current,
		Vibration:   r.Vibration,
	}
}

// Reading rebuilds a reading from a request, for the serving side.
func (req Request) Reading() sensor.Reading {
	sec := int64(req.Timestamp)
	nsec := int64((req.Timestamp - float64(sec)) * float64(time.Second))
	return sensor.Reading{
		MachineID:   req.MachineID,
		Timestamp:   time.Unix(sec, nsec),
		Temperature: req.Temperature,
		Voltage:     req.Voltage,
		Current:     req.Current,
		Vibration:   req.Vibration,
	}
}

// Outcome validates the response. elapsed is used as the latency because it
// includes transport cost the remote side cannot see.
func (resp Response) Outcome(elapsed time.Duration) (Outcome, error) {
	errFactory := errors.New()

	switch {
	case resp.Error != "":
		return Outcome{}, errFactory.WithMessage(ErrPredictionFailed, "predictor reported error: "+resp.Error)
	case resp.Fault != 0 && resp.Fault != 1:
		return Outcome{}, errFactory.WithData(ErrInvalidResponse, struct{ Fault int }{resp.Fault})
	case resp.Prob < 0 || resp.Prob > 1 || resp.Prob != resp.Prob:
		return Outcome{}, errFactory.WithData(ErrInvalidResponse, struct{ Prob float64 }{resp.Prob})
	}

	return Outcome{
		Fault:       resp.Fault,
		Probability: resp.Prob,
		Latency:     elapsed,
		Method:      resp.Method,
	}, nil
}

// NewResponse is the inverse of Response.Outcome, for the serving side.
func NewResponse(o Outcome) Response {
	return Response{
		Fault:     o.Fault,
		Prob:      o.Probability,
		LatencyMs: float64(o.Latency) / float64(time.Millisecond),
		Method:    o.Method,
	}
}
