package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/loykin/ptyvisor/internal/domain"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Default()
	if cfg.Timings != d.Timings {
		t.Fatalf("timings: got %+v want %+v", cfg.Timings, d.Timings)
	}
	if cfg.Timings.BatchQuantum != 16*time.Millisecond || cfg.Timings.GraceMinecraft != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg.Timings)
	}
	if cfg.Usage.Provider != "claudeAi" || cfg.Usage.QueryCommand != "/usage" || cfg.Usage.AuxKey != "\t" {
		t.Fatalf("unexpected usage defaults: %+v", cfg.Usage)
	}
	if cfg.Server.BasePath != "/api" {
		t.Fatalf("base path: %q", cfg.Server.BasePath)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	p := writeFile(t, "ptyvisor.toml", `
env = ["A=1", "B=2"]

[timings]
batch_quantum = "20ms"
grace_fivem = "10s"
automation_deadline = "40s"

[log]
level = "debug"
format = "json"
  [log.file]
  path = "/tmp/ptyvisor.log"
  transcript_dir = "/tmp/transcripts"

[usage]
cli_command = "claude --no-color"

[server]
listen = ":9000"
base_path = "/v1"

[metrics]
enabled = true
resource_interval = "2s"

[history]
dsns = ["sqlite:///tmp/h.db"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timings.BatchQuantum != 20*time.Millisecond || cfg.Timings.GraceFiveM != 10*time.Second {
		t.Fatalf("timings not applied: %+v", cfg.Timings)
	}
	if cfg.Timings.GraceMinecraft != 5*time.Second {
		t.Fatalf("unset timing lost its default: %s", cfg.Timings.GraceMinecraft)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || cfg.Log.File.TranscriptDir != "/tmp/transcripts" {
		t.Fatalf("log: %+v", cfg.Log)
	}
	if cfg.Log.File.MaxBackups != 3 {
		t.Fatalf("log file default lost: %+v", cfg.Log.File)
	}
	if cfg.Usage.CLICommand != "claude --no-color" || cfg.Usage.Provider != "claudeAi" {
		t.Fatalf("usage: %+v", cfg.Usage)
	}
	if cfg.Server.Listen != ":9000" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ResourceInterval != 2*time.Second {
		t.Fatalf("metrics: %+v", cfg.Metrics)
	}
	if len(cfg.History.DSNs) != 1 || len(cfg.Env) != 2 {
		t.Fatalf("history/env: %+v %+v", cfg.History, cfg.Env)
	}

	mt := cfg.ManagerTimings()
	if mt.Grace[domain.FiveM] != 10*time.Second || mt.BatchQuantum != 20*time.Millisecond {
		t.Fatalf("manager timings: %+v", mt)
	}
	ue := cfg.UsageEngine()
	if ue.Deadline != 40*time.Second || ue.CLICommand != "claude --no-color" {
		t.Fatalf("usage engine config: %+v", ue)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PTYVISOR_TIMINGS_GRACE_TERMINAL", "7s")
	t.Setenv("PTYVISOR_SERVER_LISTEN", ":7777")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timings.GraceTerminal != 7*time.Second {
		t.Fatalf("grace_terminal: %s", cfg.Timings.GraceTerminal)
	}
	if cfg.Server.Listen != ":7777" {
		t.Fatalf("listen: %s", cfg.Server.Listen)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	cases := map[string]string{
		"bad toml":      "[timings\nbatch_quantum = 1",
		"negative":      "[timings]\ngrace_fivem = \"-1s\"",
		"bad level":     "[log]\nlevel = \"loud\"",
		"bad base path": "[server]\nbase_path = \"api\"",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "c.toml", data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestGlobalEnv_FilesThenList(t *testing.T) {
	envFile := writeFile(t, "a.env", "# comment\nA=from-file\nC=3\n\n")
	cfg := Default()
	cfg.EnvFiles = []string{envFile}
	cfg.Env = []string{"A=from-list", "B=2", "bogus"}

	got, err := cfg.GlobalEnv()
	if err != nil {
		t.Fatalf("global env: %v", err)
	}
	sort.Strings(got)
	want := []string{"A=from-list", "B=2", "C=3"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	cfg.EnvFiles = []string{filepath.Join(t.TempDir(), "nope.env")}
	if _, err := cfg.GlobalEnv(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	p := writeFile(t, ".env", "X = 1\nexport_ok=yes\n#skip=1\n")
	got, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "X=1" || got[1] != "export_ok=yes" {
		t.Fatalf("unexpected: %v", got)
	}
}
