//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// setDaemonSysProcAttr starts the child in its own session so it survives
// the terminal that launched it.
func setDaemonSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
