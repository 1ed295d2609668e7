//go:build windows

package launcher

import (
	"os/exec"
	"syscall"
)

// setProcAttr sets platform-specific process attributes for the launched
// application. On Windows, we create a new process group to allow for
// better process management.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup kills the spawned process. Windows has no process-group
// signal semantics, so we kill the process handle directly.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				return err
			}
		}
	}
	return nil
}
