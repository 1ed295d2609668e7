package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crollins/webdap/internal/config"
	apperrors "github.com/crollins/webdap/internal/errors"
	"github.com/crollins/webdap/internal/logging"
	"github.com/crollins/webdap/internal/proxy"
	"github.com/crollins/webdap/internal/ready"
	"github.com/crollins/webdap/pkg/types"
)

// State is the orchestrator's lifecycle state. Failure is reachable from
// every state; Retrying is entered from Attached when the proxy reports
// connection loss.
type State string

const (
	StateNotStarted   State = "notStarted"
	StateLaunching    State = "launching"
	StateWaitingReady State = "waitingReady"
	StateAttaching    State = "attaching"
	StateAttached     State = "attached"
	StateRetrying     State = "retrying"
	StateFailed       State = "failed"
)

// ProxyController is the orchestrator's view of the CDP proxy. The concrete
// implementation is proxy.Server; tests substitute fakes.
type ProxyController interface {
	Start(ctx context.Context, handler proxy.TrafficHandler, level zapcore.Level) error
	SetApplicationTargetPort(port int)
	SetBrowserInspectURI(uri string)
	OnConnectionError(cb func(error)) proxy.Handle
	Port() int
	Close() error
}

// Launcher is the orchestrator's view of the application launcher.
type Launcher interface {
	Launch(ctx context.Context, args types.LaunchArguments) error
	Stop() error
	Active() bool
	WorkspaceRoot() string
}

// Options collects the orchestrator's collaborators. Proxy and Host are
// required; the rest default to sensible implementations.
type Options struct {
	Config   *config.Config
	Log      *zap.Logger
	Proxy    ProxyController
	Launcher Launcher
	Host     HostAPI

	// Handler is the protocol-translation hook handed to the proxy.
	Handler proxy.TrafficHandler

	// Verify checks on-disk dependencies before launch.
	Verify func() error

	// ProbeFactory builds the readiness probe for a target endpoint.
	// Defaults to ready.HTTPProbe.
	ProbeFactory func(host string, port int) ready.Probe

	// Clock drives readiness-poll delays. Defaults to the real clock.
	Clock clock.Clock

	// ChildType is the child session type started under this session,
	// e.g. "pwa-chrome". Used both for the start request and for
	// filtering host broadcasts.
	ChildType string

	// OnTerminated is invoked exactly once when the logical session ends,
	// with a nil error for a clean termination and the terminal error
	// otherwise.
	OnTerminated func(err error)
}

// Orchestrator coordinates one logical debug session: launch (optional),
// readiness polling, proxied attach, error-driven bounded reconnection, and
// teardown. It is the sole writer of the session status and the sole owner
// of the retry budget.
type Orchestrator struct {
	id        string
	cfg       *config.Config
	log       *zap.Logger
	proxy     ProxyController
	launcher  Launcher
	host      HostAPI
	handler   proxy.TrafficHandler
	verify    func() error
	probes    func(host string, port int) ready.Probe
	clock     clock.Clock
	childType string
	level     zapcore.Level

	onTerminated  func(error)
	terminateOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// reconnectCh is the single reconnect entry point: proxy error
	// callbacks enqueue here and the retry loop drains it, so reconnection
	// is iterative rather than recursive and attempts never interleave.
	reconnectCh chan error

	mu           sync.Mutex
	state        State
	status       types.DebugSessionStatus
	retryBudget  int
	lastAttach   types.AttachArguments
	errHandle    proxy.Handle
	registry     *LinkRegistry
	disconnected bool
}

// New creates an orchestrator for one logical session. ctx scopes the
// session: cancelling it aborts an in-progress proxy initialization and
// stops the retry loop.
func New(ctx context.Context, id string, opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	probes := opts.ProbeFactory
	if probes == nil {
		probes = ready.HTTPProbe
	}
	childType := opts.ChildType
	if childType == "" {
		childType = "pwa-chrome"
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sctx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		id:           id,
		cfg:          cfg,
		log:          log.With(zap.String("sessionId", id)),
		proxy:        opts.Proxy,
		launcher:     opts.Launcher,
		host:         opts.Host,
		handler:      opts.Handler,
		verify:       opts.Verify,
		probes:       probes,
		clock:        clk,
		childType:    childType,
		level:        level,
		onTerminated: opts.OnTerminated,
		ctx:          sctx,
		cancel:       cancel,
		reconnectCh:  make(chan error, 1),
		state:        StateNotStarted,
		status:       types.StatusIdle,
		retryBudget:  cfg.ReconnectAttempts,
	}

	o.registry = NewLinkRegistry(opts.Host, id, childType, RegistryHooks{
		Status:      o.Status,
		Reestablish: o.reestablishChild,
		Terminate:   func() { o.terminate(nil) },
	}, o.log)

	go o.retryLoop()

	return o
}

// ID returns the logical session identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the current connection status.
func (o *Orchestrator) Status() types.DebugSessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// RetriesRemaining returns the unspent reconnect budget.
func (o *Orchestrator) RetriesRemaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retryBudget
}

// Registry exposes the link registry for surfaces that forward further
// protocol requests to the child session.
func (o *Orchestrator) Registry() *LinkRegistry { return o.registry }

// Info summarizes the session for listing surfaces.
func (o *Orchestrator) Info() types.SessionInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	target := ""
	if o.lastAttach.Host != "" {
		target = net.JoinHostPort(o.lastAttach.Host, strconv.Itoa(o.lastAttach.Port))
	}
	return types.SessionInfo{
		SessionID: o.id,
		Status:    o.status,
		Target:    target,
		Retries:   o.retryBudget,
	}
}

// Launch starts the application target and then attaches to it, composing
// both into one logical operation. Every failure in this path is wrapped
// into a single AppLaunchFailed error that preserves the original message.
func (o *Orchestrator) Launch(ctx context.Context, args types.LaunchArguments) error {
	o.setState(StateLaunching)
	args.Attach = args.Attach.WithDefaults()

	if err := o.launchPath(ctx, args); err != nil {
		o.mu.Lock()
		o.state = StateFailed
		o.status = types.StatusConnectionFailed
		o.mu.Unlock()
		return apperrors.AppLaunchFailed(err)
	}
	return nil
}

func (o *Orchestrator) launchPath(ctx context.Context, args types.LaunchArguments) error {
	if o.verify != nil {
		if err := o.verify(); err != nil {
			return err
		}
	}

	if o.launcher == nil {
		return fmt.Errorf("launch requested but no launcher is configured")
	}
	if err := o.launcher.Launch(ctx, args); err != nil {
		return err
	}

	o.setState(StateWaitingReady)
	poller := &ready.Poller{
		Probe:    o.probes(args.Attach.Host, args.Attach.Port),
		Attempts: o.cfg.Readiness.Attempts,
		Interval: time.Duration(o.cfg.Readiness.Interval),
		Clock:    o.clock,
		Log:      o.log,
	}
	if err := poller.Wait(ctx); err != nil {
		return err
	}

	return o.Attach(ctx, args.Attach)
}

// Attach runs the attach path against a target assumed live: normalize
// arguments, configure and start the proxy, install the reconnect handler,
// and establish the child session. On failure the status becomes
// ConnectionFailed and the error propagates to the caller.
func (o *Orchestrator) Attach(ctx context.Context, args types.AttachArguments) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.attachOnce(args)
}

// attachOnce is one attach attempt. Normalization, proxy configuration,
// error-handler registration, and child-session establishment run strictly
// in that order, so the handler is installed before any traffic can flow.
func (o *Orchestrator) attachOnce(args types.AttachArguments) error {
	o.mu.Lock()
	if o.disconnected {
		o.mu.Unlock()
		return apperrors.Wrap(apperrors.CodeSessionTerminated,
			fmt.Sprintf("session '%s' has been terminated", o.id),
			"Start a new debug session.", nil)
	}
	o.state = StateAttaching
	o.status = types.StatusConnectionPending
	norm := args.WithDefaults()
	o.lastAttach = norm
	o.mu.Unlock()

	o.proxy.SetApplicationTargetPort(norm.Port)
	if norm.BrowserInspectURI != "" {
		// A pre-known debugger endpoint skips discovery.
		o.proxy.SetBrowserInspectURI(norm.BrowserInspectURI)
	}

	if err := o.proxy.Start(o.ctx, o.handler, o.level); err != nil {
		o.fail(err)
		return err
	}

	// Exactly one active error handler per session: dispose the previous
	// subscription before installing this attempt's.
	o.mu.Lock()
	old := o.errHandle
	o.errHandle = nil
	o.mu.Unlock()
	if old != nil {
		old.Dispose()
	}
	handle := o.proxy.OnConnectionError(o.enqueueReconnect)
	o.mu.Lock()
	o.errHandle = handle
	o.mu.Unlock()

	// The registry must be live before the child session starts so its
	// start notification cannot be missed.
	o.registry.Subscribe()

	if err := o.establishChild(norm); err != nil {
		o.fail(err)
		return err
	}

	o.mu.Lock()
	o.status = types.StatusConnectionDone
	o.state = StateAttached
	o.mu.Unlock()
	o.log.Info("attached", zap.String("host", norm.Host), zap.Int("port", norm.Port))
	return nil
}

// establishChild asks the host to start the child protocol-translation
// session, pointed at the proxy rather than the raw target.
func (o *Orchestrator) establishChild(args types.AttachArguments) error {
	root := ""
	if o.launcher != nil {
		root = o.launcher.WorkspaceRoot()
	}

	ok, err := o.host.StartChildSession(o.ctx, root, o.childConfig(args), StartOptions{
		ParentSessionID: o.id,
		ConsoleMode:     "internalConsole",
	})
	if err != nil {
		return apperrors.ChildSessionFailed(err)
	}
	if !ok {
		return apperrors.ChildSessionFailed(fmt.Errorf("the host declined the start request"))
	}
	return nil
}

// reestablishChild re-invokes child-session establishment with the
// last-known attach arguments. Driven by the link registry when a matching
// child session terminates while a reconnect is in flight.
func (o *Orchestrator) reestablishChild() {
	o.mu.Lock()
	args := o.lastAttach
	o.mu.Unlock()

	if err := o.establishChild(args); err != nil {
		o.log.Warn("child session re-establishment failed", zap.Error(err))
	}
}

// childConfig builds the debug configuration for the child session.
func (o *Orchestrator) childConfig(args types.AttachArguments) types.ChildSessionConfig {
	proxyPort := o.proxy.Port()
	return types.ChildSessionConfig{
		Type:             o.childType,
		Name:             "webdap: attach to application",
		Request:          "attach",
		SessionID:        o.id,
		Port:             proxyPort,
		WebSocketAddress: fmt.Sprintf("ws://127.0.0.1:%d", proxyPort),
		WebRoot:          args.WebRoot,
	}
}

// enqueueReconnect is the proxy error callback. It never blocks the proxy:
// the retry loop owns all policy.
func (o *Orchestrator) enqueueReconnect(cause error) {
	select {
	case o.reconnectCh <- cause:
	default:
		// A reconnect is already queued; the in-flight attempt will
		// install a fresh handler and observe any further failures.
	}
}

func (o *Orchestrator) retryLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case cause := <-o.reconnectCh:
			o.handleConnectionLoss(cause)
		}
	}
}

// handleConnectionLoss applies the retry policy: spend one unit of budget
// and re-run the attach path with the retained arguments, or, with the
// budget exhausted, surface the error once, dispose the stale handler
// explicitly, and terminate.
func (o *Orchestrator) handleConnectionLoss(cause error) {
	o.mu.Lock()
	if o.disconnected {
		o.mu.Unlock()
		return
	}

	if o.retryBudget <= 0 {
		handle := o.errHandle
		o.errHandle = nil
		o.state = StateFailed
		o.status = types.StatusConnectionFailed
		o.mu.Unlock()

		// No further proxy lifecycle event will dispose this handler.
		if handle != nil {
			handle.Dispose()
		}
		o.log.Error("connection lost, retry budget exhausted", zap.Error(cause))
		o.terminate(apperrors.RetriesExhausted(o.cfg.ReconnectAttempts, cause))
		return
	}

	o.retryBudget--
	remaining := o.retryBudget
	o.state = StateRetrying
	o.status = types.StatusConnectionPending
	args := o.lastAttach
	o.mu.Unlock()

	// Retries are silent at user level; diagnostics only.
	o.log.Debug("connection lost, re-attaching",
		zap.Error(cause), zap.Int("retriesRemaining", remaining))

	if err := o.attachOnce(args); err != nil {
		// A failed re-attach counts as another connection loss and is
		// fed back through the single entry point.
		o.enqueueReconnect(err)
	}
}

// fail records a failed attach attempt.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	o.state = StateFailed
	o.status = types.StatusConnectionFailed
	o.mu.Unlock()
	o.log.Error("attach failed", zap.Error(err))
}

// terminate ends the logical session exactly once, notifying the surface
// with the terminal error (nil for a clean end) before teardown.
func (o *Orchestrator) terminate(err error) {
	o.terminateOnce.Do(func() {
		if o.onTerminated != nil {
			o.onTerminated(err)
		}
		_ = o.Disconnect(context.Background())
	})
}

// Terminate ends the session cleanly, as if the child session had been
// closed by the user.
func (o *Orchestrator) Terminate() {
	o.terminate(nil)
}

// Disconnect tears the session down: an active application worker is
// stopped first (best-effort, without waiting for its exit), then the host
// lifecycle subscriptions are released, then the remaining resources.
// Idempotent.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	if o.disconnected {
		o.mu.Unlock()
		return nil
	}
	o.disconnected = true
	handle := o.errHandle
	o.errHandle = nil
	o.mu.Unlock()

	if o.launcher != nil && o.launcher.Active() {
		_ = o.launcher.Stop()
	}

	o.registry.Release()

	if handle != nil {
		handle.Dispose()
	}
	_ = o.proxy.Close()
	o.cancel()

	o.log.Info("session disconnected")
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
