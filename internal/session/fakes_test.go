package session

import (
	"context"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/crollins/webdap/internal/proxy"
	"github.com/crollins/webdap/pkg/types"
)

// fakeHost is an in-process HostAPI whose broadcasts tests drive directly.
type fakeHost struct {
	mu             sync.Mutex
	nextSub        int
	startedSubs    map[int]func(SessionEvent)
	terminatedSubs map[int]func(SessionEvent)

	startCalls []types.ChildSessionConfig
	startErr   error
	declined   bool

	// autoStartEvent publishes a started broadcast for every successful
	// StartChildSession, mimicking a live host.
	autoStartEvent bool

	events *eventLog
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		startedSubs:    make(map[int]func(SessionEvent)),
		terminatedSubs: make(map[int]func(SessionEvent)),
	}
}

func (h *fakeHost) StartChildSession(ctx context.Context, workspaceRoot string, cfg types.ChildSessionConfig, opts StartOptions) (bool, error) {
	h.mu.Lock()
	h.startCalls = append(h.startCalls, cfg)
	n := len(h.startCalls)
	err := h.startErr
	declined := h.declined
	auto := h.autoStartEvent
	h.mu.Unlock()

	if err != nil {
		return false, err
	}
	if declined {
		return false, nil
	}
	if auto {
		h.publishStarted(SessionEvent{
			HostID: cfg.SessionID + "-child-" + string(rune('0'+n)),
			Type:   cfg.Type,
			Config: cfg,
		})
	}
	return true, nil
}

func (h *fakeHost) OnSessionStarted(cb func(SessionEvent)) Subscription {
	return h.subscribe(h.startedSubs, cb)
}

func (h *fakeHost) OnSessionTerminated(cb func(SessionEvent)) Subscription {
	return h.subscribe(h.terminatedSubs, cb)
}

func (h *fakeHost) subscribe(subs map[int]func(SessionEvent), cb func(SessionEvent)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	subs[id] = cb
	return fakeSubscription(func() {
		h.mu.Lock()
		delete(subs, id)
		h.mu.Unlock()
		if h.events != nil {
			h.events.add("host.Unsubscribe")
		}
	})
}

func (h *fakeHost) publishStarted(evt SessionEvent)    { h.publish(h.startedSubs, evt) }
func (h *fakeHost) publishTerminated(evt SessionEvent) { h.publish(h.terminatedSubs, evt) }

func (h *fakeHost) publish(subs map[int]func(SessionEvent), evt SessionEvent) {
	h.mu.Lock()
	cbs := make([]func(SessionEvent), 0, len(subs))
	for _, cb := range subs {
		cbs = append(cbs, cb)
	}
	h.mu.Unlock()
	for _, cb := range cbs {
		cb(evt)
	}
}

func (h *fakeHost) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.startedSubs) + len(h.terminatedSubs)
}

func (h *fakeHost) starts() []types.ChildSessionConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.ChildSessionConfig, len(h.startCalls))
	copy(out, h.startCalls)
	return out
}

type fakeSubscription func()

func (f fakeSubscription) Dispose() { f() }

// fakeProxy records proxy interactions and lets tests fire connection
// errors through the currently installed callback.
type fakeProxy struct {
	mu         sync.Mutex
	startErr   error
	startCount int
	targetPort int
	inspectURI string
	onError    func(error)
	gen        int
	installed  int
	closed     int
	events     *eventLog
}

func (p *fakeProxy) Start(ctx context.Context, handler proxy.TrafficHandler, level zapcore.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.startCount++
	return nil
}

func (p *fakeProxy) SetApplicationTargetPort(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targetPort = port
}

func (p *fakeProxy) SetBrowserInspectURI(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inspectURI = uri
}

func (p *fakeProxy) OnConnectionError(cb func(error)) proxy.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.onError = cb
	p.installed++
	gen := p.gen
	return fakeHandle(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.onError = nil
		}
		p.installed--
		if p.events != nil {
			p.events.add("handle.Dispose")
		}
	})
}

func (p *fakeProxy) Port() int { return 19222 }

func (p *fakeProxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	if p.events != nil {
		p.events.add("proxy.Close")
	}
	return nil
}

// fire delivers a connection error to the installed callback, as the real
// proxy would on a pump failure.
func (p *fakeProxy) fire(err error) {
	p.mu.Lock()
	cb := p.onError
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (p *fakeProxy) activeHandlers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installed
}

type fakeHandle func()

func (f fakeHandle) Dispose() { f() }

// fakeLauncher simulates the application worker.
type fakeLauncher struct {
	mu        sync.Mutex
	launchErr error
	launched  int
	active    bool
	stopped   int
	events    *eventLog
}

func (l *fakeLauncher) Launch(ctx context.Context, args types.LaunchArguments) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return l.launchErr
	}
	l.launched++
	l.active = true
	return nil
}

func (l *fakeLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
	l.active = false
	if l.events != nil {
		l.events.add("launcher.Stop")
	}
	return nil
}

func (l *fakeLauncher) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *fakeLauncher) WorkspaceRoot() string { return "/workspace" }

// eventLog records teardown ordering across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, name)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	copy(out, e.events)
	return out
}
