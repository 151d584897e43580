//go:build !windows

package fetcher

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the tool in its own group so cancellation also
// stops the ffmpeg child it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
