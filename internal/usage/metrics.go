package usage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source records which path produced a Metrics value.
type Source string

const (
	SourceAPI        Source = "api"
	SourceAutomation Source = "automation"
)

var (
	// ErrNoMetrics means the output held no recognizable percentage.
	ErrNoMetrics = errors.New("no usage metrics found")
	// ErrNoCredential means the credential file or token is missing.
	ErrNoCredential = errors.New("no usage credential")
	// ErrCredentialExpired means the stored token is past its expiry.
	ErrCredentialExpired = errors.New("usage credential expired")
	// ErrNoLauncher means automation was needed but nothing can start a shell.
	ErrNoLauncher = errors.New("no automation launcher configured")
)

// Metrics holds usage utilization percentages. Each percentage is optional.
type Metrics struct {
	Session         *float64  `json:"session,omitempty"`
	Weekly          *float64  `json:"weekly,omitempty"`
	Tier            *float64  `json:"tier,omitempty"`
	SessionResetsAt string    `json:"session_resets_at,omitempty"`
	WeeklyResetsAt  string    `json:"weekly_resets_at,omitempty"`
	Source          Source    `json:"source"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Empty reports whether no percentage is set.
func (m *Metrics) Empty() bool {
	return m == nil || (m.Session == nil && m.Weekly == nil && m.Tier == nil)
}

func (m *Metrics) String() string {
	if m == nil {
		return "<nil>"
	}
	var parts []string
	add := func(name string, v *float64) {
		if v != nil {
			parts = append(parts, name+"="+strconv.FormatFloat(*v, 'f', -1, 64)+"%")
		}
	}
	add("session", m.Session)
	add("weekly", m.Weekly)
	add("tier", m.Tier)
	return fmt.Sprintf("%s[%s]", m.Source, strings.Join(parts, " "))
}

// Snapshot is the engine's cache. Data stays at the last successful value.
type Snapshot struct {
	Data          *Metrics  `json:"data"`
	LastFetchTime time.Time `json:"last_fetch_time"`
	InFlight      bool      `json:"in_flight"`
}

// FetchError reports a failed automation fetch.
type FetchError struct {
	SessionID string
	Err       error
}

func (e *FetchError) Error() string {
	if e.SessionID == "" {
		return "usage fetch: " + e.Err.Error()
	}
	return fmt.Sprintf("usage fetch (session %s): %v", e.SessionID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func pct(v float64) *float64 { return &v }
