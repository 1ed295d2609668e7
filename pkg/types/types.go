// Package types defines shared data types used across webdap.
//
// This package provides type definitions for:
//   - DebugSessionStatus: connection states of a logical debug session
//   - LaunchArguments, AttachArguments: request records for the orchestrator
//   - ChildSessionConfig: configuration handed to the host when starting a
//     child protocol-translation session
//   - SessionInfo: summary of a logical session for listing/status surfaces
//
// These types are used throughout the codebase to maintain type safety
// and provide clear contracts between components.
package types

// DefaultTargetPort is the standard Chrome DevTools Protocol remote
// debugging port, applied when an attach request leaves the port unset.
const DefaultTargetPort = 9222

// DebugSessionStatus represents the connection state of a logical debug
// session. It is mutated only by the orchestrator; the link registry reads
// it to decide whether a terminated child session means "reconnect in
// flight" or "tear everything down".
type DebugSessionStatus string

const (
	StatusIdle              DebugSessionStatus = "idle"
	StatusConnectionPending DebugSessionStatus = "connectionPending"
	StatusConnectionDone    DebugSessionStatus = "connectionDone"
	StatusConnectionFailed  DebugSessionStatus = "connectionFailed"
)

// Platform identifies the runtime platform of the application target.
type Platform string

const (
	PlatformWebview Platform = "webview"
	PlatformBrowser Platform = "browser"
	PlatformNode    Platform = "node"
)

// Browser identifies the browser family exposing the CDP endpoint.
type Browser string

const (
	BrowserChrome Browser = "chrome"
	BrowserEdge   Browser = "edge"
)

// AttachArguments holds the target coordinates for one attach attempt.
// A value is treated as immutable once handed to the orchestrator; defaults
// are applied to a working copy, never to the caller's value.
type AttachArguments struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// BrowserInspectURI is a pre-known debugger WebSocket endpoint. When
	// set, endpoint discovery against /json/list is skipped.
	BrowserInspectURI string `json:"browserInspectUri,omitempty"`

	Platform Platform `json:"platform,omitempty"`
	Browser  Browser  `json:"browser,omitempty"`
	WebRoot  string   `json:"webRoot,omitempty"`
}

// WithDefaults returns a copy with unset fields filled in. The receiver is
// not modified.
func (a AttachArguments) WithDefaults() AttachArguments {
	out := a
	if out.Host == "" {
		out.Host = "127.0.0.1"
	}
	if out.Port == 0 {
		out.Port = DefaultTargetPort
	}
	if out.Platform == "" {
		out.Platform = PlatformWebview
	}
	if out.Browser == "" {
		out.Browser = BrowserChrome
	}
	return out
}

// LaunchArguments holds the request to launch the application target before
// attaching to it. Launch composes attach: a successful launch ends by
// running the attach path against the freshly started target.
type LaunchArguments struct {
	Program string            `json:"program,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Attach AttachArguments `json:"attach"`
}

// ChildSessionConfig is the debug configuration passed to the host session
// API when establishing the child protocol-translation session. SessionID
// carries the logical session identity so broadcast lifecycle notifications
// can be correlated back to their owner.
type ChildSessionConfig struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Request          string `json:"request"`
	SessionID        string `json:"sessionId"`
	Port             int    `json:"port,omitempty"`
	WebSocketAddress string `json:"webSocketAddress,omitempty"`
	WebRoot          string `json:"webRoot,omitempty"`
}

// SessionInfo summarizes a logical session for the listing surfaces.
type SessionInfo struct {
	SessionID string             `json:"sessionId"`
	Status    DebugSessionStatus `json:"status"`
	Target    string             `json:"target,omitempty"`
	Retries   int                `json:"retriesRemaining"`
}
