//go:build unix

package bridge

import (
	"os/exec"
	"syscall"
)

// configureDetached starts the daemon in its own session so it survives
// the bridge's own process exiting (spec §4.4, mirroring the original's
// pre_exec(setsid)).
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
