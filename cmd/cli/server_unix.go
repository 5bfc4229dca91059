//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the spawned cache server into its own process
// group so it survives the CLI exiting and never receives the CLI
// terminal's signals.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
