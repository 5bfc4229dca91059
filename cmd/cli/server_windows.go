//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the spawned cache server from the CLI's
// console process group so closing the console does not take the
// server down with it.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
