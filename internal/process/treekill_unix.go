//go:build !windows

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// KillTree sends SIGKILL to the process group led by pid. PTY children are
// session leaders, so the group covers every descendant that did not detach.
func KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone; fall back to the leader in case it changed groups.
		err = unix.Kill(pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	return err
}
