//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
)

// KillTree runs taskkill against the leader pid with /T to include children.
func KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	// #nosec G204
	out, err := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill %d: %w: %s", pid, err, out)
	}
	return nil
}
