//go:build !windows

package sandbox

import "os/exec"

// configureNoConsole is a no-op outside Windows, where processes never
// attach a console by default.
func configureNoConsole(cmd *exec.Cmd) {}
