//go:build !windows
// +build !windows

package derive

import (
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"
)

// processGroup makes ctx cancellation kill ffmpeg together with any
// child it spawned.
func processGroup(cmd *exec.Cmd, logger zerolog.Logger) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			logger.Err(err).Msg("could not get process group id")
			return cmd.Process.Kill()
		}

		logger.Debug().Int("pgid", pgid).Msg("killing process group")
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
}
