package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type StartFlags struct {
	APIFlags
	Domain  string
	Key     string
	Cmd     string
	WorkDir string
	Env     []string
	Cols    uint16
	Rows    uint16
}

type HandleFlags struct {
	APIFlags
	// Handle is "domain/key".
	Handle string
}

type UsageFlags struct {
	ConfigPath string
	// Cached prints the daemon's snapshot instead of fetching.
	Cached bool
	APIFlags
}

type RunFlags struct {
	ConfigPath string
	Domain     string
	Key        string
	Cmd        string
	WorkDir    string
	Env        []string
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}
