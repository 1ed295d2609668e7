// Package session implements the logical debug session: the attach/launch
// orchestration state machine, the link registry correlating host lifecycle
// broadcasts back to their owning session, and the session manager.
package session

import (
	"context"

	"github.com/crollins/webdap/pkg/types"
)

// SessionEvent is one host lifecycle notification. The host broadcasts
// these for every session it manages, not just ours, so consumers must
// filter by child-session type and the logical session identifier carried
// in the config.
type SessionEvent struct {
	// HostID is the host's own identifier for the started/terminated
	// session.
	HostID string

	// Type is the session type, e.g. "pwa-chrome".
	Type string

	// Config is the debug configuration the session was started with.
	Config types.ChildSessionConfig
}

// Subscription is a disposable registration on a host broadcast stream.
type Subscription interface {
	Dispose()
}

// StartOptions qualifies a child-session start request.
type StartOptions struct {
	// ParentSessionID nests the child under the logical session in the
	// host UI.
	ParentSessionID string

	// ConsoleMode controls where child output goes, e.g.
	// "internalConsole".
	ConsoleMode string
}

// HostAPI is the narrow contract consumed from the host debugging client.
// It is the only channel through which child protocol-translation sessions
// are started and observed.
type HostAPI interface {
	// StartChildSession asks the host to start a child debugging session.
	// The boolean mirrors the host API: false without an error still
	// means the host declined.
	StartChildSession(ctx context.Context, workspaceRoot string, cfg types.ChildSessionConfig, opts StartOptions) (bool, error)

	// OnSessionStarted subscribes to the host's broadcast of session
	// starts across all sessions it manages.
	OnSessionStarted(cb func(SessionEvent)) Subscription

	// OnSessionTerminated subscribes to the host's broadcast of session
	// terminations across all sessions it manages.
	OnSessionTerminated(cb func(SessionEvent)) Subscription
}
