//go:build windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureNoConsole launches the child without allocating a console window,
// matching the "no console" requirement for sandbox processes.
func configureNoConsole(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x08000000} // CREATE_NO_WINDOW
}
