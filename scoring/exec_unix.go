//go:build unix

package scoring

import (
	"os/exec"
	"syscall"
)

// configureProcess starts the command in its own process group and makes
// cancellation kill the whole group, so children that ignore SIGTERM or
// hold the output pipes open do not outlive the timeout.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
