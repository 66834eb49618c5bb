// Package extract turns raw terminal output into status, count and error
// events using per-domain pattern rules.
package extract

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Strip removes terminal control sequences and normalizes line endings to \n.
func Strip(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
