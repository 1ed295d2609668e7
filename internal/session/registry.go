package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/crollins/webdap/pkg/types"
)

// SessionLink associates a logical session with the child
// protocol-translation session the host started underneath it.
type SessionLink struct {
	LogicalID string
	HostID    string
	Type      string
}

// RegistryHooks are the orchestrator callbacks the registry drives when a
// relevant lifecycle notification arrives. Status is read to decide between
// reconnect and terminate; the registry never mutates it.
type RegistryHooks struct {
	Status      func() types.DebugSessionStatus
	Reestablish func()
	Terminate   func()
}

// LinkRegistry correlates host-broadcast session lifecycle notifications
// with one logical session. Notifications for unrelated sessions (different
// type or different logical identifier) are ignored entirely.
type LinkRegistry struct {
	log       *zap.Logger
	host      HostAPI
	logicalID string
	childType string
	hooks     RegistryHooks

	mu         sync.Mutex
	link       *SessionLink
	started    Subscription
	terminated Subscription
	released   bool
}

// NewLinkRegistry creates a registry for one logical session. Call
// Subscribe before any child session is established so no start
// notification can be missed.
func NewLinkRegistry(host HostAPI, logicalID, childType string, hooks RegistryHooks, log *zap.Logger) *LinkRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &LinkRegistry{
		log:       log,
		host:      host,
		logicalID: logicalID,
		childType: childType,
		hooks:     hooks,
	}
}

// Subscribe installs the start/terminate broadcast subscriptions.
func (r *LinkRegistry) Subscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started != nil || r.released {
		return
	}
	r.started = r.host.OnSessionStarted(r.handleStarted)
	r.terminated = r.host.OnSessionTerminated(r.handleTerminated)
}

// relevant applies the matching rule: same child-session type AND the
// configuration carries our logical session identifier.
func (r *LinkRegistry) relevant(evt SessionEvent) bool {
	return evt.Type == r.childType && evt.Config.SessionID == r.logicalID
}

func (r *LinkRegistry) handleStarted(evt SessionEvent) {
	if !r.relevant(evt) {
		return
	}

	r.mu.Lock()
	r.link = &SessionLink{
		LogicalID: r.logicalID,
		HostID:    evt.HostID,
		Type:      evt.Type,
	}
	r.mu.Unlock()

	r.log.Debug("child session started",
		zap.String("hostSessionId", evt.HostID),
		zap.String("type", evt.Type))
}

func (r *LinkRegistry) handleTerminated(evt SessionEvent) {
	if !r.relevant(evt) {
		return
	}

	r.mu.Lock()
	r.link = nil
	released := r.released
	r.mu.Unlock()
	if released {
		return
	}

	// A termination while the connection is pending means a reconnect is
	// already in flight: re-establish the child session with the last
	// attach arguments. Any other status means the session is over.
	if r.hooks.Status() == types.StatusConnectionPending {
		r.log.Debug("child session terminated during reconnect, re-establishing",
			zap.String("hostSessionId", evt.HostID))
		r.hooks.Reestablish()
		return
	}

	r.log.Debug("child session terminated, ending logical session",
		zap.String("hostSessionId", evt.HostID))
	r.hooks.Terminate()
}

// Link returns the currently started child session, or nil if none is
// active.
func (r *LinkRegistry) Link() *SessionLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}

// Release disposes both broadcast subscriptions. Idempotent.
func (r *LinkRegistry) Release() {
	r.mu.Lock()
	started, terminated := r.started, r.terminated
	r.started, r.terminated = nil, nil
	r.link = nil
	r.released = true
	r.mu.Unlock()

	if started != nil {
		started.Dispose()
	}
	if terminated != nil {
		terminated.Dispose()
	}
}
