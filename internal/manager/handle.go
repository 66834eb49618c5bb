package manager

import (
	"fmt"
	"time"

	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/extract"
)

// Handle names one supervised process: a key scoped to a domain.
type Handle struct {
	Domain domain.Domain `json:"domain"`
	Key    string        `json:"key"`
}

func (h Handle) String() string { return string(h.Domain) + "/" + h.Key }

// Observer receives the raw stream of one process. It is how internal
// clients such as the usage engine drive hidden processes.
type Observer interface {
	Output(chunk string)
	Exited(code int)
}

// SpawnConfig describes what to run. Command is interpreted per domain.
type SpawnConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`

	Observer Observer `json:"-"`
}

// SpawnError reports a failed resolution or native start. Nothing was
// registered for Handle.
type SpawnError struct {
	Handle  Handle
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%q): %v", e.Handle, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Info is a read-only snapshot of a registered process.
type Info struct {
	Handle     Handle         `json:"handle"`
	PID        int            `json:"pid"`
	WorkDir    string         `json:"work_dir"`
	Command    string         `json:"command"`
	StartedAt  time.Time      `json:"started_at"`
	Status     extract.Status `json:"status,omitempty"`
	Players    int            `json:"players"`
	MaxPlayers int            `json:"max_players,omitempty"`
	Stopping   bool           `json:"stopping"`
}

// ErrorReport is the error state kept for a handle.
type ErrorReport struct {
	Recent []extract.ErrorRecord `json:"recent"`
	Last   *extract.ErrorRecord  `json:"last,omitempty"`
}
