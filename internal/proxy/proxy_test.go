package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestOnConnectionError_Replacement verifies a superseded handle cannot
// clear the current callback.
func TestOnConnectionError_Replacement(t *testing.T) {
	s := NewServer("127.0.0.1", 0, nil)

	first := 0
	second := 0
	h1 := s.OnConnectionError(func(error) { first++ })
	_ = s.OnConnectionError(func(error) { second++ })

	// Disposing the stale handle must not detach the current callback.
	h1.Dispose()
	s.fireError(errors.New("boom"))

	if first != 0 {
		t.Errorf("replaced callback fired %d times", first)
	}
	if second != 1 {
		t.Errorf("expected current callback fired once, got %d", second)
	}
}

// TestOnConnectionError_Dispose verifies disposing the current handle
// silences the callback.
func TestOnConnectionError_Dispose(t *testing.T) {
	s := NewServer("127.0.0.1", 0, nil)

	calls := 0
	h := s.OnConnectionError(func(error) { calls++ })
	h.Dispose()

	s.fireError(errors.New("boom"))
	if calls != 0 {
		t.Errorf("disposed callback fired %d times", calls)
	}
}

// TestFireError_OncePerCycle verifies at most one error report per
// initialization cycle, re-armed by Start.
func TestFireError_OncePerCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer("127.0.0.1", 0, nil)
	calls := 0
	s.OnConnectionError(func(error) { calls++ })

	if err := s.Start(ctx, nil, zapcore.InfoLevel); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()

	s.fireError(errors.New("first"))
	s.fireError(errors.New("suppressed"))
	if calls != 1 {
		t.Fatalf("expected exactly 1 error report, got %d", calls)
	}

	// A new cycle re-arms the report.
	if err := s.Start(ctx, nil, zapcore.InfoLevel); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	s.fireError(errors.New("second cycle"))
	if calls != 2 {
		t.Errorf("expected a report in the new cycle, got %d total", calls)
	}
}

// TestStart_PortConflict verifies a bind failure is reported as a proxy
// start error.
func TestStart_PortConflict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := NewServer("127.0.0.1", 0, nil)
	if err := first.Start(ctx, nil, zapcore.InfoLevel); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer first.Close()

	second := NewServer("127.0.0.1", first.Port(), nil)
	err := second.Start(ctx, nil, zapcore.InfoLevel)
	if err == nil {
		second.Close()
		t.Fatal("expected bind failure on an occupied port")
	}
	if !strings.Contains(err.Error(), "failed to start the debug proxy") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestStart_LogLevelPerCycle verifies the level passed to Start takes effect
// for that cycle and is reset by later cycles, rather than accumulating.
func TestStart_LogLevelPerCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zapcore.DebugLevel)
	s := NewServer("127.0.0.1", 0, zap.New(core))

	debugCount := func() int {
		return logs.FilterMessage("proxy listening").Len()
	}

	if err := s.Start(ctx, nil, zapcore.InfoLevel); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()
	if n := debugCount(); n != 0 {
		t.Fatalf("debug output at info level: %d entries", n)
	}

	if err := s.Start(ctx, nil, zapcore.DebugLevel); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if n := debugCount(); n != 1 {
		t.Fatalf("expected debug output after restarting at debug level, got %d entries", n)
	}

	// Dropping back to info must silence debug again.
	if err := s.Start(ctx, nil, zapcore.InfoLevel); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if n := debugCount(); n != 1 {
		t.Errorf("debug output leaked after returning to info level: %d entries", n)
	}
}

// upperHandler uppercases host->target traffic and tags target->host
// traffic, so both directions are observable.
type upperHandler struct{}

func (upperHandler) FromHost(msg []byte) []byte   { return []byte(strings.ToUpper(string(msg))) }
func (upperHandler) FromTarget(msg []byte) []byte { return append(msg, '!') }

// TestProxy_EndToEnd verifies traffic flows host -> proxy -> target and
// back, with the handler applied in both directions.
func TestProxy_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	defer target.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer("127.0.0.1", 0, nil)
	s.SetBrowserInspectURI("ws" + strings.TrimPrefix(target.URL, "http"))
	if err := s.Start(ctx, upperHandler{}, zapcore.InfoLevel); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()

	host, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", s.Port()), nil)
	if err != nil {
		t.Fatalf("host dial failed: %v", err)
	}
	defer host.Close()

	if err := host.WriteMessage(websocket.TextMessage, []byte(`{"method":"runtime.enable"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	host.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := host.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	// Uppercased on the way in, tagged on the way out.
	want := `{"METHOD":"RUNTIME.ENABLE"}!`
	if string(msg) != want {
		t.Errorf("expected %q, got %q", want, msg)
	}
}

// TestProxy_UnreachableTargetReportsError verifies a failed target
// connection surfaces through the error callback exactly once.
func TestProxy_UnreachableTargetReportsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer("127.0.0.1", 0, nil)
	// Nothing listens on the target port.
	s.SetApplicationTargetPort(1)

	errCh := make(chan error, 2)
	s.OnConnectionError(func(err error) { errCh <- err })

	if err := s.Start(ctx, nil, zapcore.InfoLevel); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Close()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", s.Port()), nil)
	if err == nil {
		defer conn.Close()
	}

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("connection failure never reported")
	}
}

// TestDiscoverWebSocketURL verifies page targets win and claimed targets are
// skipped.
func TestDiscoverWebSocketURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[
			{"id":"1","type":"iframe","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/iframe/1"},
			{"id":"2","type":"page","webSocketDebuggerUrl":""},
			{"id":"3","type":"page","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/page/3"}
		]`)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	got, err := DiscoverWebSocketURL(context.Background(), host, port)
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if got != "ws://127.0.0.1:9222/devtools/page/3" {
		t.Errorf("expected the debuggable page target, got %q", got)
	}
}

// TestDiscoverWebSocketURL_FallbackToAnyTarget verifies non-page targets are
// used when no page is available.
func TestDiscoverWebSocketURL_FallbackToAnyTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"1","type":"node","webSocketDebuggerUrl":"ws://127.0.0.1:9229/node/1"}]`)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	got, err := DiscoverWebSocketURL(context.Background(), host, port)
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if got != "ws://127.0.0.1:9229/node/1" {
		t.Errorf("unexpected endpoint %q", got)
	}
}

// TestDiscoverWebSocketURL_NoTargets verifies an empty list is an error.
func TestDiscoverWebSocketURL_NoTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	if _, err := DiscoverWebSocketURL(context.Background(), host, port); err == nil {
		t.Error("expected error for an empty target list")
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return u.Hostname(), port
}
