// Package launcher starts and stops the application target and verifies
// the on-disk dependencies it needs.
//
// The launcher is a collaborator of the session orchestrator: it produces a
// running process with remote debugging enabled and makes no claims about
// readiness. The orchestrator polls the debugging endpoint separately.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/config"
	"github.com/crollins/webdap/pkg/types"
)

// AppLauncher launches the configured application with its CDP endpoint
// bound to the requested remote debugging port.
type AppLauncher struct {
	cfg config.LauncherConfig
	log *zap.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
	pid int
}

// New creates a launcher for the configured application.
func New(cfg config.LauncherConfig, log *zap.Logger) *AppLauncher {
	if log == nil {
		log = zap.NewNop()
	}
	return &AppLauncher{cfg: cfg, log: log}
}

// Launch starts the application target with remote debugging enabled on
// args.Attach.Port. It returns once the process has started; readiness is
// the caller's concern.
func (l *AppLauncher) Launch(ctx context.Context, args types.LaunchArguments) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return fmt.Errorf("application already launched (pid %d)", l.pid)
	}

	path := l.cfg.ApplicationPath
	if path == "" {
		path = args.Program
	}
	if path == "" {
		return fmt.Errorf("no application path configured and no program given")
	}

	cmdArgs := append([]string{}, l.cfg.Args...)
	cmdArgs = append(cmdArgs, args.Args...)
	cmdArgs = append(cmdArgs, fmt.Sprintf("--remote-debugging-port=%d", args.Attach.Port))

	//nolint:gosec // G204: launching the debug target is the point
	cmd := exec.CommandContext(ctx, path, cmdArgs...)
	cmd.Env = os.Environ()
	for k, v := range args.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if args.Cwd != "" {
		cmd.Dir = args.Cwd
	}
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}

	l.cmd = cmd
	l.pid = cmd.Process.Pid
	l.log.Info("application launched", zap.String("path", path), zap.Int("pid", l.pid))

	// Reap the process when it exits so it never zombies.
	go func() { _ = cmd.Wait() }()

	return nil
}

// Active reports whether a launched application process is being tracked.
func (l *AppLauncher) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

// Stop kills the application process group, best-effort. It does not wait
// for the process to exit and is safe to call when nothing was launched.
func (l *AppLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil {
		return nil
	}

	err := killProcessGroup(l.pid, l.cmd)
	if err != nil {
		l.log.Warn("failed to kill application process group", zap.Int("pid", l.pid), zap.Error(err))
	}
	l.cmd = nil
	l.pid = 0
	return err
}

// WorkspaceRoot returns the workspace root used for child-session source
// resolution.
func (l *AppLauncher) WorkspaceRoot() string {
	return l.cfg.WorkspaceRoot
}
