package client

import "time"

// Handle names one supervised process on the daemon.
type Handle struct {
	Domain string `json:"domain"`
	Key    string `json:"key"`
}

func (h Handle) String() string { return h.Domain + "/" + h.Key }

// StartRequest represents a request to start a process. An empty Key lets the
// daemon assign one.
type StartRequest struct {
	Domain  string   `json:"domain"`
	Key     string   `json:"key,omitempty"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`
}

// Resources is the last CPU and memory sample for a process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessInfo represents one entry of the process list
type ProcessInfo struct {
	Handle     Handle     `json:"handle"`
	PID        int        `json:"pid"`
	WorkDir    string     `json:"work_dir"`
	Command    string     `json:"command"`
	StartedAt  time.Time  `json:"started_at"`
	Status     string     `json:"status,omitempty"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"max_players,omitempty"`
	Stopping   bool       `json:"stopping"`
	Resources  *Resources `json:"resources,omitempty"`
}

type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Context   string    `json:"context"`
}

// ErrorReport is the error state the daemon keeps for a handle.
type ErrorReport struct {
	Recent []ErrorRecord `json:"recent"`
	Last   *ErrorRecord  `json:"last,omitempty"`
}

// Usage holds utilization percentages. Nil fields were not reported.
type Usage struct {
	Session         *float64  `json:"session,omitempty"`
	Weekly          *float64  `json:"weekly,omitempty"`
	Tier            *float64  `json:"tier,omitempty"`
	SessionResetsAt string    `json:"session_resets_at,omitempty"`
	WeeklyResetsAt  string    `json:"weekly_resets_at,omitempty"`
	Source          string    `json:"source"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// UsageSnapshot is the daemon's cached usage state.
type UsageSnapshot struct {
	Data          *Usage    `json:"data"`
	LastFetchTime time.Time `json:"last_fetch_time"`
	InFlight      bool      `json:"in_flight"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
