//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// setDaemonSysProcAttr detaches the child from the console's process group.
func setDaemonSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
