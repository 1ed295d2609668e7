package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/session"
	"github.com/crollins/webdap/pkg/types"
)

// localHost implements session.HostAPI for the MCP control surface, where
// no external debugging client exists. A "child session" here is a live
// CDP connection held open through the proxy: starting one dials the
// proxy's WebSocket address, and losing it is broadcast as a termination,
// which is what drives the orchestrator's reconnect policy.
type localHost struct {
	log *zap.Logger

	mu             sync.Mutex
	nextSub        int
	startedSubs    map[int]func(session.SessionEvent)
	terminatedSubs map[int]func(session.SessionEvent)
	conns          map[string]*websocket.Conn
}

func newLocalHost(log *zap.Logger) *localHost {
	return &localHost{
		log:            log,
		startedSubs:    make(map[int]func(session.SessionEvent)),
		terminatedSubs: make(map[int]func(session.SessionEvent)),
		conns:          make(map[string]*websocket.Conn),
	}
}

func (h *localHost) StartChildSession(ctx context.Context, workspaceRoot string, cfg types.ChildSessionConfig, opts session.StartOptions) (bool, error) {
	if cfg.WebSocketAddress == "" {
		return false, fmt.Errorf("child session config carries no WebSocket address")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.WebSocketAddress, nil)
	if err != nil {
		return false, fmt.Errorf("failed to open child session connection: %w", err)
	}

	hostID := uuid.New().String()
	h.mu.Lock()
	h.conns[hostID] = conn
	h.mu.Unlock()

	evt := session.SessionEvent{HostID: hostID, Type: cfg.Type, Config: cfg}
	h.publish(h.snapshot(&h.startedSubs), evt)

	go h.watch(hostID, conn, evt)

	return true, nil
}

// watch drains the child connection; when it drops, the termination is
// broadcast exactly like a host lifecycle notification.
func (h *localHost) watch(hostID string, conn *websocket.Conn, evt session.SessionEvent) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns, hostID)
	h.mu.Unlock()
	_ = conn.Close()

	h.log.Debug("child session connection closed", zap.String("hostSessionId", hostID))
	h.publish(h.snapshot(&h.terminatedSubs), evt)
}

func (h *localHost) OnSessionStarted(cb func(session.SessionEvent)) session.Subscription {
	return h.subscribe(&h.startedSubs, cb)
}

func (h *localHost) OnSessionTerminated(cb func(session.SessionEvent)) session.Subscription {
	return h.subscribe(&h.terminatedSubs, cb)
}

func (h *localHost) subscribe(subs *map[int]func(session.SessionEvent), cb func(session.SessionEvent)) session.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	(*subs)[id] = cb
	return &localSubscription{dispose: func() {
		h.mu.Lock()
		delete(*subs, id)
		h.mu.Unlock()
	}}
}

func (h *localHost) snapshot(subs *map[int]func(session.SessionEvent)) []func(session.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(session.SessionEvent), 0, len(*subs))
	for _, cb := range *subs {
		out = append(out, cb)
	}
	return out
}

func (h *localHost) publish(cbs []func(session.SessionEvent), evt session.SessionEvent) {
	for _, cb := range cbs {
		cb(evt)
	}
}

// Close drops every child connection.
func (h *localHost) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*websocket.Conn)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

type localSubscription struct {
	once    sync.Once
	dispose func()
}

func (s *localSubscription) Dispose() {
	s.once.Do(s.dispose)
}
