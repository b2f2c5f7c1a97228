//go:build windows
// +build windows

package derive

import (
	"os/exec"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
)

func processGroup(cmd *exec.Cmd, logger zerolog.Logger) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	cmd.Cancel = func() error {
		// taskkill /T takes the whole tree down
		kill := exec.Command("TASKKILL", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
		if err := kill.Run(); err != nil {
			logger.Err(err).Msg("failed to kill process group")
			return cmd.Process.Kill()
		}
		return nil
	}
}
