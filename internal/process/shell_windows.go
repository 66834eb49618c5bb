//go:build windows

package process

import "os"

// HostShell returns %ComSpec% or cmd.exe.
func HostShell() string {
	if cs := os.Getenv("ComSpec"); cs != "" {
		return cs
	}
	return "cmd.exe"
}

// ShellCommand wraps a command line for the host shell interpreter.
func ShellCommand(line string) (string, []string) {
	return HostShell(), []string{"/c", line}
}

// InteractiveShell returns argv for an interactive cmd session.
func InteractiveShell() (string, []string) {
	return HostShell(), nil
}
