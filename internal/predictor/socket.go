package predictor

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Socket talks to a prediction server over TCP: one JSON request and one
// JSON response per connection.
type Socket struct {
	address string
	dialer  net.Dialer
}

// NewSocket returns a predictor for the server at address.
func NewSocket(address string) *Socket {
	return &Socket{
		address: address,
		dialer:  net.Dialer{Timeout: 5 * time.Second},
	}
}

func (s *Socket) Predict(ctx context.Context, r sensor.Reading) (Outcome, error) {
	errFactory := errors.New()
	start := time.Now()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, errFactory.Wrap(ErrTimeout, err)
		}
		return Outcome{}, errFactory.Wrap(ErrPredictionFailed, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Outcome{}, errFactory.Wrap(ErrPredictionFailed, err)
		}
	}

	if err := json.NewEncoder(conn).Encode(NewRequest(r)); err != nil {
		return Outcome{}, classify(ctx, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Outcome{}, classify(ctx, err)
	}

	return resp.Outcome(time.Since(start))
}

func classify(ctx context.Context, err error) error {
	errFactory := errors.New()

	var netErr net.Error
	if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errFactory.Wrap(ErrTimeout, err)
	}
	if _, ok := err.(*json.SyntaxError); ok {
		return errFactory.Wrap(ErrInvalidResponse, err)
	}
	return errFactory.Wrap(ErrPredictionFailed, err)
}
