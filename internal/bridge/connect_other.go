//go:build !unix

package bridge

import "os/exec"

// configureDetached is a no-op on platforms without process groups/setsid.
func configureDetached(cmd *exec.Cmd) {}
