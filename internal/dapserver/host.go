package dapserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/session"
	"github.com/crollins/webdap/pkg/types"
)

const startDebuggingTimeout = 30 * time.Second

// hostBridge implements session.HostAPI over the DAP connection. Child
// sessions are started with the reverse startDebugging request; lifecycle
// notifications are published on a local broadcast shared by every session
// behind this connection, which is why subscribers still filter by identity.
type hostBridge struct {
	t   *Transport
	log *zap.Logger

	mu             sync.Mutex
	nextSub        int
	startedSubs    map[int]func(session.SessionEvent)
	terminatedSubs map[int]func(session.SessionEvent)
	pending        map[int]chan *dap.StartDebuggingResponse
}

func newHostBridge(t *Transport, log *zap.Logger) *hostBridge {
	return &hostBridge{
		t:              t,
		log:            log,
		startedSubs:    make(map[int]func(session.SessionEvent)),
		terminatedSubs: make(map[int]func(session.SessionEvent)),
		pending:        make(map[int]chan *dap.StartDebuggingResponse),
	}
}

// StartChildSession sends the startDebugging reverse request and waits for
// the host's acknowledgment. A successful ack is broadcast as a session
// start.
func (h *hostBridge) StartChildSession(ctx context.Context, workspaceRoot string, cfg types.ChildSessionConfig, opts session.StartOptions) (bool, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return false, err
	}
	var configuration map[string]interface{}
	if err := json.Unmarshal(raw, &configuration); err != nil {
		return false, err
	}
	if workspaceRoot != "" {
		configuration["cwd"] = workspaceRoot
	}
	configuration["__parentSession"] = opts.ParentSessionID
	configuration["console"] = opts.ConsoleMode

	seq := h.t.NextSeq()
	respCh := make(chan *dap.StartDebuggingResponse, 1)
	h.mu.Lock()
	h.pending[seq] = respCh
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, seq)
		h.mu.Unlock()
	}()

	req := &dap.StartDebuggingRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         "startDebugging",
		},
		Arguments: dap.StartDebuggingRequestArguments{
			Configuration: configuration,
			Request:       cfg.Request,
		},
	}
	if err := h.t.Send(req); err != nil {
		return false, err
	}

	timer := time.NewTimer(startDebuggingTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Success {
			h.publishStarted(session.SessionEvent{
				HostID: fmt.Sprintf("%s-child-%d", cfg.SessionID, seq),
				Type:   cfg.Type,
				Config: cfg,
			})
		}
		return resp.Success, nil
	case <-timer.C:
		return false, fmt.Errorf("startDebugging request timed out")
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolveStartDebugging routes a startDebugging response from the read loop
// back to its waiting request.
func (h *hostBridge) resolveStartDebugging(resp *dap.StartDebuggingResponse) {
	h.mu.Lock()
	ch, ok := h.pending[resp.RequestSeq]
	h.mu.Unlock()
	if !ok {
		h.log.Debug("unmatched startDebugging response", zap.Int("requestSeq", resp.RequestSeq))
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (h *hostBridge) OnSessionStarted(cb func(session.SessionEvent)) session.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.startedSubs[id] = cb
	return &hostSubscription{dispose: func() {
		h.mu.Lock()
		delete(h.startedSubs, id)
		h.mu.Unlock()
	}}
}

func (h *hostBridge) OnSessionTerminated(cb func(session.SessionEvent)) session.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.terminatedSubs[id] = cb
	return &hostSubscription{dispose: func() {
		h.mu.Lock()
		delete(h.terminatedSubs, id)
		h.mu.Unlock()
	}}
}

func (h *hostBridge) publishStarted(evt session.SessionEvent) {
	for _, cb := range h.snapshotStarted() {
		cb(evt)
	}
}

// PublishTerminated broadcasts a child-session termination to every
// subscriber. Called by the server when it observes a child ending.
func (h *hostBridge) PublishTerminated(evt session.SessionEvent) {
	for _, cb := range h.snapshotTerminated() {
		cb(evt)
	}
}

func (h *hostBridge) snapshotStarted() []func(session.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(session.SessionEvent), 0, len(h.startedSubs))
	for _, cb := range h.startedSubs {
		out = append(out, cb)
	}
	return out
}

func (h *hostBridge) snapshotTerminated() []func(session.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(session.SessionEvent), 0, len(h.terminatedSubs))
	for _, cb := range h.terminatedSubs {
		out = append(out, cb)
	}
	return out
}

type hostSubscription struct {
	once    sync.Once
	dispose func()
}

func (s *hostSubscription) Dispose() {
	s.once.Do(s.dispose)
}
