package process

import (
	"errors"
	"io"
)

// Default terminal geometry used when a spawn request leaves it unset.
const (
	DefaultCols = 120
	DefaultRows = 30
)

// ErrUnsupported is returned by spawners that cannot allocate a pseudo-terminal
// on the current platform.
var ErrUnsupported = errors.New("pseudo-terminal not supported on this platform")

// SpawnOptions describes one native spawn. Path and Args are already resolved.
type SpawnOptions struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	Cols uint16
	Rows uint16

	// OnData receives every chunk read from the terminal, in order, on a single
	// goroutine. The slice is owned by the callee.
	OnData func(chunk []byte)
	// OnExit is called exactly once after the last OnData call.
	OnExit func(code int)
}

// Native is a live pseudo-terminal backed process.
type Native interface {
	PID() int
	io.Writer
	Resize(cols, rows uint16) error
	// Kill terminates the leader only; tree termination goes through KillTree.
	Kill() error
}

// Spawner starts native processes. The PTY implementation is the default;
// tests substitute fakes.
type Spawner interface {
	Spawn(opts SpawnOptions) (Native, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(opts SpawnOptions) (Native, error)

func (f SpawnerFunc) Spawn(opts SpawnOptions) (Native, error) { return f(opts) }

func geometry(cols, rows uint16) (uint16, uint16) {
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}
	return cols, rows
}
