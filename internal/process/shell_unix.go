//go:build !windows

package process

import (
	"os"
	"os/exec"
)

// HostShell returns the interactive shell for the current user: $SHELL when it
// resolves, otherwise /bin/sh.
func HostShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		if p, err := exec.LookPath(sh); err == nil {
			return p
		}
	}
	return "/bin/sh"
}

// ShellCommand wraps a command line for the host shell interpreter.
func ShellCommand(line string) (string, []string) {
	return HostShell(), []string{"-c", line}
}

// InteractiveShell returns argv for a login-less interactive shell.
func InteractiveShell() (string, []string) {
	return HostShell(), []string{"-i"}
}
