package predictor

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
)

// Server exposes a Predictor over TCP using the Socket wire format.
type Server struct {
	predictor Predictor
	timeout   time.Duration
	log       logger.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer returns a server for p. Each request is bounded by timeout.
func NewServer(p Predictor, timeout time.Duration, log logger.Logger) *Server {
	return &Server{predictor: p, timeout: timeout, log: log}
}

// Listen binds address. Use Addr to find the port when address ends in :0.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return errors.New().Wrap(ErrServer, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Info().Str("address", l.Addr().String()).Msg("Prediction server listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for in-flight
// requests to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New().WithMessage(ErrServer, "server is not listening")
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	defer s.wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info().Msg("Prediction server stopped")
				return nil
			}
			return errors.New().Wrap(ErrServer, err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.log.Debug().Err(err).Msg("Failed to set connection deadline")
	}

	enc := json.NewEncoder(conn)

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.Warn().Err(err).Msg("Malformed prediction request")
		_ = enc.Encode(Response{Error: err.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := s.predictor.Predict(reqCtx, req.Reading())
	if err != nil {
		s.log.Warn().Err(err).Int("machine_id", req.MachineID).Msg("Prediction failed")
		_ = enc.Encode(Response{Method: "server_error", Error: err.Error()})
		return
	}

	if err := enc.Encode(NewResponse(outcome)); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write prediction response")
	}
}
