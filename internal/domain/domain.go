// Package domain defines the supervision domains and their static profiles.
package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/ptyvisor/internal/process"
)

// Domain tags a family of supervised processes.
type Domain string

const (
	Terminal   Domain = "terminal"
	Minecraft  Domain = "minecraft"
	FiveM      Domain = "fivem"
	Automation Domain = "automation"
)

var ErrUnknownDomain = errors.New("unknown domain")

// Profile holds per-domain behavior. Grace windows are defaults; config may
// override them through Timings.
type Profile struct {
	Domain Domain
	// StopCommand is written verbatim to request a graceful shutdown.
	StopCommand string
	Grace       time.Duration
	// Batched domains coalesce output before relaying it.
	Batched      bool
	TracksStatus bool
	TracksErrors bool
	// Hidden domains never reach event subscribers.
	Hidden  bool
	resolve func(command string, args []string, workDir string) (string, []string, error)
}

// Resolve turns a spawn request into an executable path and argv tail.
func (p Profile) Resolve(command string, args []string, workDir string) (string, []string, error) {
	return p.resolve(strings.TrimSpace(command), args, workDir)
}

var profiles = map[Domain]Profile{
	Terminal: {
		Domain:      Terminal,
		StopCommand: "exit\r",
		Grace:       3 * time.Second,
		Batched:     true,
		resolve:     resolveTerminal,
	},
	Minecraft: {
		Domain:       Minecraft,
		StopCommand:  "stop\r",
		Grace:        5 * time.Second,
		TracksStatus: true,
		resolve:      resolveJava,
	},
	FiveM: {
		Domain:       FiveM,
		StopCommand:  "quit\r",
		Grace:        3 * time.Second,
		TracksStatus: true,
		TracksErrors: true,
		resolve:      resolveServer,
	},
	Automation: {
		Domain:      Automation,
		StopCommand: "exit\r",
		Grace:       3 * time.Second,
		Hidden:      true,
		resolve:     resolveShell,
	},
}

// Lookup returns the profile for d.
func Lookup(d Domain) (Profile, error) {
	p, ok := profiles[d]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownDomain, string(d))
	}
	return p, nil
}

// All lists the known domains in a stable order.
func All() []Domain {
	return []Domain{Terminal, Minecraft, FiveM, Automation}
}

// Parse converts user input into a Domain.
func Parse(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if _, err := Lookup(d); err != nil {
		return "", err
	}
	return d, nil
}

func resolveShell(string, []string, string) (string, []string, error) {
	path, args := process.InteractiveShell()
	return path, args, nil
}

// Terminal commands run under the host shell so pipes and builtins work.
func resolveTerminal(command string, args []string, workDir string) (string, []string, error) {
	if command == "" {
		return resolveShell(command, args, workDir)
	}
	line := command
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	path, argv := process.ShellCommand(line)
	return path, argv, nil
}

// A bare .jar launches under java; anything else is a server command line.
func resolveJava(command string, args []string, workDir string) (string, []string, error) {
	if strings.EqualFold(filepath.Ext(command), ".jar") && !strings.ContainsAny(command, " \t") {
		java, err := process.ResolveExecutable("java", workDir)
		if err != nil {
			return "", nil, err
		}
		return java, append([]string{"-jar", command, "nogui"}, args...), nil
	}
	return resolveServer(command, args, workDir)
}

func resolveServer(command string, args []string, workDir string) (string, []string, error) {
	if command == "" {
		return "", nil, process.ErrEmptyCommand
	}
	// Drive-letter paths may contain spaces; keep them whole.
	if process.IsDriveAbsolute(command) {
		return command, args, nil
	}
	parts := process.SplitCommand(command)
	explicitShell := len(parts) == 3 && parts[1] == "-c"
	if !explicitShell && process.NeedsShell(command) && len(args) == 0 {
		path, argv := process.ShellCommand(command)
		return path, argv, nil
	}
	exe, err := process.ResolveExecutable(parts[0], workDir)
	if err != nil {
		return "", nil, err
	}
	return exe, append(parts[1:], args...), nil
}
