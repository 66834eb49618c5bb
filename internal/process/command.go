package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrEmptyCommand = errors.New("empty command")

// shellMeta lists characters that require a shell to interpret the line.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// NeedsShell reports whether line uses shell syntax that plain argv splitting
// would break.
func NeedsShell(line string) bool {
	return strings.ContainsAny(line, shellMeta)
}

// IsDriveAbsolute reports whether s is a drive-letter absolute path such as
// C:\srv\run.cmd or d:/tools/x.exe, independent of the host OS.
func IsDriveAbsolute(s string) bool {
	if len(s) < 3 {
		return false
	}
	c := s[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return false
	}
	return s[1] == ':' && (s[2] == '\\' || s[2] == '/')
}

// SplitCommand splits a command line on whitespace. An explicit
// "sh -c <script>" prefix keeps the script as a single argument with one pair
// of surrounding quotes removed.
func SplitCommand(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if shell, script, ok := parseExplicitShell(line); ok {
		return []string{shell, "-c", script}
	}
	return strings.Fields(line)
}

func parseExplicitShell(line string) (string, string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c ", "bash -c ", "/bin/bash -c "} {
		if !strings.HasPrefix(line, p) {
			continue
		}
		after := strings.TrimSpace(line[len(p):])
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}

// ResolveExecutable turns name into a runnable path. Absolute and
// drive-letter paths are used verbatim, names containing a separator are
// resolved against workDir, bare names go through PATH.
func ResolveExecutable(name, workDir string) (string, error) {
	switch {
	case name == "":
		return "", ErrEmptyCommand
	case IsDriveAbsolute(name), filepath.IsAbs(name):
		return name, nil
	case strings.ContainsAny(name, `/\`):
		p := filepath.Join(workDir, filepath.FromSlash(name))
		fi, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("resolve %q in %s: %w", name, workDir, err)
		}
		if fi.IsDir() {
			return "", fmt.Errorf("resolve %q in %s: is a directory", name, workDir)
		}
		return p, nil
	}
	p, err := exec.LookPath(name)
	if err != nil {
		// A file sitting in the working directory is still runnable by path.
		local := filepath.Join(workDir, name)
		if fi, serr := os.Stat(local); serr == nil && !fi.IsDir() {
			return local, nil
		}
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	return p, nil
}

// ResolveWorkDir returns dir when it exists and is a directory, otherwise the
// user's home directory, falling back to the OS temp dir.
func ResolveWorkDir(dir string) string {
	if dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return os.TempDir()
}
