package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taylorza/go-lfsr"
	"golang.org/x/time/rate"

	"github.com/orchaframework/orcha/engine"
	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/queue"
)

// DefaultRateLimit/DefaultRateBurst bound how many submit/cancel calls a
// single connection may issue per second, mirroring the teacher's
// SocketOpts.RateLimit/RateBurst (transport/socket.go) applied per
// connection rather than per packet.
const (
	DefaultRateLimit = 32
	DefaultRateBurst = 128
)

// Engine is the subset of *engine.Engine the IPC layer drives; declared as
// an interface so server tests can substitute a fake without a running
// scheduler.
type Engine interface {
	Submit(msg petition.Message) (queue.Queue[petition.Frame], error)
	Cancel(id string) error
}

var _ Engine = (*engine.Engine)(nil)

// Server is the authenticated TCP endpoint named by spec §4.5/§6: it
// accepts connections, performs the pre-shared-key handshake, then services
// submit/cancel requests against an Engine until the connection closes or
// the server is stopped.
type Server struct {
	eng     Engine
	authKey string
	log     zerolog.Logger

	rateLimit int
	rateBurst int

	ln net.Listener
}

// NewServer builds a Server. authKey may be empty, in which case no
// authentication is enforced and a warning is logged once per connection
// (spec §6).
func NewServer(eng Engine, authKey string, log zerolog.Logger) *Server {
	return &Server{
		eng:       eng,
		authKey:   authKey,
		log:       log,
		rateLimit: DefaultRateLimit,
		rateBurst: DefaultRateBurst,
	}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
// Each connection is handled on its own goroutine and does not block
// others; Serve itself blocks until the listener stops accepting.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Temporary() {
				return err
			}
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	sessionID := uuid.NewString()
	clog := s.log.With().Str("session", sessionID).Str("remote", raw.RemoteAddr().String()).Logger()

	if s.authKey == "" {
		clog.Warn().Msg("no pre-shared key configured, accepting connection unauthenticated")
	}

	c := newNetConn(raw)

	limiter := rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst)
	callIDs := newCallIDGenerator()

	connCtx, cancel := context.WithCancel(c.Context())
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-connCtx.Done():
		}
	}()

	// A submit's reply-frame forwarding (handleSubmit) runs on its own
	// goroutine: it blocks until the stream's terminal frame, and the read
	// loop below must stay free in the meantime to observe a cancel
	// envelope for that same petition over this same connection (spec
	// §4.5/Design Notes §9: "closeable from either end"). wg lets the
	// connection teardown below wait for every such goroutine to actually
	// exit before returning.
	var wg sync.WaitGroup
	defer func() {
		cancel()
		raw.Close()
		wg.Wait()
	}()

	if err := serverHandshake(c, s.authKey); err != nil {
		clog.Warn().Err(err).Msg("handshake failed")
		return
	}

	for {
		var req Envelope
		if err := c.Read(&req); err != nil {
			if connCtx.Err() == nil {
				clog.Debug().Err(err).Msg("connection read failed, closing")
			}
			return
		}

		if !limiter.Allow() {
			clog.Warn().Msg("rate limit exceeded, closing connection")
			_ = c.Send(Envelope{Type: typeError, Error: "rate limit exceeded"})
			return
		}

		callID := <-callIDs
		rlog := clog.With().Int("call_id", callID).Str("op", req.Type).Str("petition", req.ID).Logger()

		switch req.Type {
		case typeSubmit:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleSubmit(connCtx, c, rlog, callID, req)
			}()
		case typeCancel:
			s.handleCancel(c, rlog, callID, req)
		default:
			rlog.Warn().Msg("unrecognized envelope type")
			_ = c.Send(Envelope{Type: typeError, CallID: callID, Error: "unrecognized type"})
		}
	}
}

func (s *Server) handleSubmit(ctx context.Context, c Conn, log zerolog.Logger, callID int, req Envelope) {
	msg, err := decodeMessage(req)
	if err != nil {
		log.Warn().Err(err).Msg("malformed submit envelope")
		_ = c.Send(Envelope{Type: typeError, CallID: callID, Error: err.Error()})
		return
	}

	replyQ, err := s.eng.Submit(msg)
	if err != nil {
		log.Info().Err(err).Msg("submit rejected")
		_ = c.Send(Envelope{Type: typeError, CallID: callID, Error: errorCode(err)})
		return
	}

	// Join before acking: replyQ is a broadcast queue that drops pushes
	// made while no listener is registered, so the listener must exist
	// before the caller can possibly learn the submission succeeded.
	listener := replyQ.Join(ctx)
	if replyQ.Listeners() == 0 {
		log.Error().Msg("reply queue has no listeners immediately after Join, frames would be dropped")
	}
	_ = c.Send(Envelope{Type: typeAck, CallID: callID})

	for {
		frame, ok := listener.Next()
		if !ok {
			return
		}
		raw, err := json.Marshal(frame)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal frame")
			return
		}
		if err := c.Send(Envelope{Type: typeFrame, CallID: callID, ID: req.ID, Frame: raw}); err != nil {
			return
		}
		if frame.Terminal() {
			return
		}
	}
}

func (s *Server) handleCancel(c Conn, log zerolog.Logger, callID int, req Envelope) {
	if err := s.eng.Cancel(req.ID); err != nil {
		log.Info().Err(err).Msg("cancel rejected")
		_ = c.Send(Envelope{Type: typeError, CallID: callID, Error: errorCode(err)})
		return
	}
	_ = c.Send(Envelope{Type: typeAck, CallID: callID})
}

func decodeMessage(req Envelope) (petition.Message, error) {
	msg := petition.Message{ID: req.ID}
	if len(req.Message) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(req.Message, &msg.Extras); err != nil {
		return msg, fmt.Errorf("ipc: message field must be an object: %w", err)
	}
	return msg, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, orchaerr.ErrManagerShutdown):
		return "manager_shutdown"
	case errors.Is(err, orchaerr.ErrAlreadyShutdown):
		return "already_shutdown"
	default:
		return err.Error()
	}
}

// newCallIDGenerator hands out per-connection call-correlation IDs for
// request/reply matching and log fields, grounded on the teacher's
// newIDGenerator (call/uniq.go) -- same LFSR-over-a-channel shape, just
// re-seeded per connection instead of per process.
func newCallIDGenerator() <-chan int {
	gen := lfsr.NewLfsr32(rand.Uint32())
	out := make(chan int)

	go func() {
		for {
			id, restarted := gen.Next()
			if restarted {
				gen = lfsr.NewLfsr32(rand.Uint32())
				continue
			}
			if id == 0 || id&0x80000000 == 0x80000000 {
				continue
			}
			out <- int(id)
		}
	}()

	return out
}
