package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
)

// Handler answers one call. The returned bytes are the response body; a
// returned error is delivered to the caller as a RemoteError.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// Server answers calls arriving on a host.
type Server struct {
	host    host.Host
	maxSize int
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxMessageSize caps request frames. Larger requests are rejected
// without invoking a handler.
func WithMaxMessageSize(n int) ServerOption {
	return func(s *Server) { s.maxSize = n }
}

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.timeout = d }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server bound to h's identity.
func NewServer(h host.Host, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		host:     h,
		maxSize:  DefaultMaxMessageSize,
		timeout:  2 * DefaultTimeout,
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond registers fn for method, replacing any previous handler.
func (s *Server) Respond(method string, fn Handler) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

// Listen starts accepting calls. libp2p serves every stream on its own
// goroutine, so calls run concurrently and unordered.
func (s *Server) Listen() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrServerClosed
	}
	s.host.SetStreamHandler(ProtocolID, s.handleStream)
	return nil
}

// PublicKey returns the identity clients address this server by.
func (s *Server) PublicKey() crypto.PubKey {
	return s.host.Peerstore().PubKey(s.host.ID())
}

// Close stops accepting calls and cancels in-flight handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.host.RemoveStreamHandler(ProtocolID)
	s.cancel()
	return nil
}

func (s *Server) handleStream(st network.Stream) {
	defer st.Close()

	id := uuid.NewString()
	log := s.logger.With("request_id", id, "peer", st.Conn().RemotePeer())

	_ = st.SetReadDeadline(time.Now().Add(s.timeout))

	var req request
	if err := readFrame(st, s.maxSize, &req); err != nil {
		log.Warn("rpc bad request", "error", err)
		s.reply(st, log, response{Error: err.Error()})
		return
	}

	s.mu.RLock()
	fn, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		log.Warn("rpc unknown method", "method", req.Method)
		s.reply(st, log, response{Error: fmt.Sprintf("%s: %s", ErrUnknownMethod, req.Method)})
		return
	}

	ctx, cancel := context.WithTimeout(withRequestID(s.ctx, id), s.timeout)
	defer cancel()

	start := time.Now()
	body, err := s.invoke(ctx, fn, req.Body)
	if err != nil {
		log.Warn("rpc handler failed", "method", req.Method, "error", err, "elapsed", time.Since(start))
		s.reply(st, log, response{Error: err.Error()})
		return
	}
	log.Debug("rpc call served", "method", req.Method, "elapsed", time.Since(start))
	s.reply(st, log, response{Body: body})
}

func (s *Server) invoke(ctx context.Context, fn Handler, body []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rpc handler panic", "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, body)
}

func (s *Server) reply(st network.Stream, log *slog.Logger, resp response) {
	_ = st.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := writeFrame(st, resp); err != nil {
		log.Warn("rpc reply failed", "error", err)
		_ = st.Reset()
	}
}
