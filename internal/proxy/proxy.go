// Package proxy implements the CDP reconnection proxy: a WebSocket
// intermediary that accepts the host-side debugger connection and forwards
// Chrome DevTools Protocol traffic to the application target.
//
// The proxy is mechanism only. It reports a connection failure at most once
// per initialization cycle through OnConnectionError and never retries on
// its own; retry policy belongs to the session orchestrator.
package proxy

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crollins/webdap/internal/errors"
)

// TrafficHandler is the protocol-translation hook applied to every message
// crossing the proxy. Returning nil drops the message.
type TrafficHandler interface {
	// FromHost transforms a message travelling host -> target.
	FromHost(msg []byte) []byte

	// FromTarget transforms a message travelling target -> host.
	FromTarget(msg []byte) []byte
}

// Handle is a disposable error-callback subscription. Disposing a handle
// that has already been replaced is a no-op.
type Handle interface {
	Dispose()
}

// Server is the CDP proxy. One Server is owned by exactly one logical
// debug session.
type Server struct {
	log        *zap.Logger
	lvl        zap.AtomicLevel
	listenHost string
	listenPort int

	mu         sync.Mutex
	targetPort int
	inspectURI string
	handler    TrafficHandler
	onError    func(error)
	errorGen   int
	errFired   bool
	ln         net.Listener
	httpSrv    *http.Server
	boundPort  int
	active     bool

	upgrader websocket.Upgrader
}

// NewServer creates a proxy that will listen on listenHost:listenPort.
// Port 0 binds an ephemeral port, readable via Port after Start.
func NewServer(listenHost string, listenPort int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	// The proxy's verbosity is adjusted per Start through the shared atomic
	// level, never by rewrapping the logger.
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return &Server{
		log:        log.WithOptions(zap.IncreaseLevel(lvl)),
		lvl:        lvl,
		listenHost: listenHost,
		listenPort: listenPort,
		upgrader: websocket.Upgrader{
			// The host connects locally; origin checks don't apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetApplicationTargetPort sets the target's remote debugging port. Changing
// it while the proxy is active redirects subsequent connections, not
// in-flight ones.
func (s *Server) SetApplicationTargetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetPort = port
}

// SetBrowserInspectURI pins the target's debugger WebSocket endpoint,
// skipping discovery for subsequent connections.
func (s *Server) SetBrowserInspectURI(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inspectURI = uri
}

// OnConnectionError registers the connection-failure callback, replacing
// any previous registration. The returned handle disposes this registration
// unless it has already been superseded.
func (s *Server) OnConnectionError(cb func(error)) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorGen++
	s.onError = cb
	return &errorHandle{srv: s, gen: s.errorGen}
}

type errorHandle struct {
	srv *Server
	gen int
}

func (h *errorHandle) Dispose() {
	h.srv.mu.Lock()
	defer h.srv.mu.Unlock()
	if h.srv.errorGen == h.gen {
		h.srv.onError = nil
	}
}

// Start binds the listener and begins accepting host connections. It fails
// with ProxyStartFailed when the port cannot be bound. Cancelling ctx shuts
// the proxy down and releases the port. Each Start begins a new error
// cycle: the error callback is re-armed to fire at most once.
func (s *Server) Start(ctx context.Context, handler TrafficHandler, level zapcore.Level) error {
	s.mu.Lock()
	if s.active {
		// Re-initialization: tear down the previous listener first.
		s.closeLocked()
	}

	addr := net.JoinHostPort(s.listenHost, strconv.Itoa(s.listenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return errors.ProxyStartFailed(s.listenPort, err)
	}

	s.ln = ln
	s.boundPort = ln.Addr().(*net.TCPAddr).Port
	s.handler = handler
	s.errFired = false
	s.active = true
	s.lvl.SetLevel(level)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHostConnection)
	srv := &http.Server{Handler: mux}
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		// ErrServerClosed is the normal shutdown path.
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Warn("proxy listener stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.log.Debug("proxy listening", zap.Int("port", s.boundPort))
	return nil
}

// Port returns the bound listener port, valid after Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// Close shuts down the listener and releases the port. Safe to call more
// than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Server) closeLocked() {
	if !s.active {
		return
	}
	s.active = false
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	s.ln = nil
}

// fireError reports a connection failure to the registered callback, at
// most once per initialization cycle.
func (s *Server) fireError(err error) {
	s.mu.Lock()
	if s.errFired || s.onError == nil {
		s.mu.Unlock()
		return
	}
	s.errFired = true
	cb := s.onError
	s.mu.Unlock()

	s.log.Debug("proxy connection failure", zap.Error(err))
	cb(err)
}

// handleHostConnection upgrades the host connection, dials the target's
// CDP endpoint, and pumps traffic both ways until either side fails.
func (s *Server) handleHostConnection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	targetPort := s.targetPort
	inspectURI := s.inspectURI
	handler := s.handler
	s.mu.Unlock()

	hostConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.fireError(err)
		return
	}
	defer hostConn.Close()

	endpoint := inspectURI
	if endpoint == "" {
		endpoint, err = DiscoverWebSocketURL(r.Context(), "127.0.0.1", targetPort)
		if err != nil {
			s.fireError(err)
			return
		}
	}

	targetConn, _, err := websocket.DefaultDialer.DialContext(r.Context(), endpoint, nil)
	if err != nil {
		s.fireError(err)
		return
	}
	defer targetConn.Close()

	s.log.Debug("proxying connection", zap.String("endpoint", endpoint))

	errCh := make(chan error, 2)
	go s.pump(hostConn, targetConn, func(msg []byte) []byte {
		if handler == nil {
			return msg
		}
		return handler.FromHost(msg)
	}, errCh)
	go s.pump(targetConn, hostConn, func(msg []byte) []byte {
		if handler == nil {
			return msg
		}
		return handler.FromTarget(msg)
	}, errCh)

	err = <-errCh
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.fireError(err)
	}
}

// pump copies messages from src to dst through transform until a read or
// write fails, then reports the failure.
func (s *Server) pump(src, dst *websocket.Conn, transform func([]byte) []byte, errCh chan<- error) {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		if out := transform(msg); out != nil {
			if err := dst.WriteMessage(msgType, out); err != nil {
				errCh <- err
				return
			}
		}
	}
}

