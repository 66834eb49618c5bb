package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/logger"
	"github.com/loykin/ptyvisor/internal/manager"
	"github.com/loykin/ptyvisor/internal/usage"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PTYVISOR_TIMINGS_GRACE_FIVEM=10s or PTYVISOR_SERVER_LISTEN=:9000.
const EnvPrefix = "PTYVISOR"

// Config represents the top-level TOML structure.
type Config struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Timings Timings       `toml:"timings" mapstructure:"timings"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Usage   UsageConfig   `toml:"usage" mapstructure:"usage"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

// Timings collects every delay the supervisor and the usage engine use.
type Timings struct {
	BatchQuantum   time.Duration `toml:"batch_quantum" mapstructure:"batch_quantum"`
	GraceFiveM     time.Duration `toml:"grace_fivem" mapstructure:"grace_fivem"`
	GraceMinecraft time.Duration `toml:"grace_minecraft" mapstructure:"grace_minecraft"`
	GraceTerminal  time.Duration `toml:"grace_terminal" mapstructure:"grace_terminal"`
	StopAllGrace   time.Duration `toml:"grace_stop_all" mapstructure:"grace_stop_all"`

	AutomationAppSettle  time.Duration `toml:"automation_app_settle" mapstructure:"automation_app_settle"`
	AutomationDataSettle time.Duration `toml:"automation_data_settle" mapstructure:"automation_data_settle"`
	AutomationKeyStagger time.Duration `toml:"automation_key_stagger" mapstructure:"automation_key_stagger"`
	AutomationDeadline   time.Duration `toml:"automation_deadline" mapstructure:"automation_deadline"`
	APITimeout           time.Duration `toml:"api_timeout" mapstructure:"api_timeout"`
}

type UsageConfig struct {
	CredentialsPath string `toml:"credentials_path" mapstructure:"credentials_path"`
	Provider        string `toml:"provider" mapstructure:"provider"`
	Endpoint        string `toml:"endpoint" mapstructure:"endpoint"`
	CLICommand      string `toml:"cli_command" mapstructure:"cli_command"`
	QueryCommand    string `toml:"query_command" mapstructure:"query_command"`
	AuxKey          string `toml:"aux_key" mapstructure:"aux_key"`
	// WorkDir is where automation shells start; empty means the home directory.
	WorkDir string `toml:"work_dir" mapstructure:"work_dir"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	PIDFile  string `toml:"pidfile" mapstructure:"pidfile"`
	LockFile string `toml:"lockfile" mapstructure:"lockfile"`
}

type MetricsConfig struct {
	Enabled          bool          `toml:"enabled" mapstructure:"enabled"`
	Listen           string        `toml:"listen" mapstructure:"listen"`
	ResourceInterval time.Duration `toml:"resource_interval" mapstructure:"resource_interval"`
}

type HistoryConfig struct {
	// DSNs select sinks: sqlite://, postgres://, clickhouse://, opensearch://.
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

// Default returns the built-in configuration.
func Default() Config {
	u := usage.DefaultConfig()
	return Config{
		Timings: Timings{
			BatchQuantum:         manager.DefaultBatchQuantum,
			GraceFiveM:           3 * time.Second,
			GraceMinecraft:       5 * time.Second,
			GraceTerminal:        3 * time.Second,
			StopAllGrace:         manager.DefaultStopAllGrace,
			AutomationAppSettle:  u.AppSettle,
			AutomationDataSettle: u.DataSettle,
			AutomationKeyStagger: u.KeyStagger,
			AutomationDeadline:   u.Deadline,
			APITimeout:           u.APITimeout,
		},
		Log: logger.Config{
			Level:  "info",
			Format: "text",
			File: logger.FileConfig{
				MaxSizeMB:  logger.DefaultMaxSizeMB,
				MaxBackups: logger.DefaultMaxBackups,
				MaxAgeDays: logger.DefaultMaxAgeDays,
			},
		},
		Usage: UsageConfig{
			CredentialsPath: u.CredentialsPath,
			Provider:        u.Provider,
			Endpoint:        u.Endpoint,
			CLICommand:      u.CLICommand,
			QueryCommand:    u.QueryCommand,
			AuxKey:          u.AuxKey,
		},
		Server: ServerConfig{
			Listen:   "127.0.0.1:8080",
			BasePath: "/api",
		},
		Metrics: MetricsConfig{
			Listen:           "127.0.0.1:9090",
			ResourceInterval: 5 * time.Second,
		},
		UseOSEnv: true,
	}
}

// Load reads the TOML file at path over the defaults and applies PTYVISOR_*
// environment overrides. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	t := d.Timings
	for k, val := range map[string]any{
		"use_os_env":                     d.UseOSEnv,
		"timings.batch_quantum":          t.BatchQuantum,
		"timings.grace_fivem":            t.GraceFiveM,
		"timings.grace_minecraft":        t.GraceMinecraft,
		"timings.grace_terminal":         t.GraceTerminal,
		"timings.grace_stop_all":         t.StopAllGrace,
		"timings.automation_app_settle":  t.AutomationAppSettle,
		"timings.automation_data_settle": t.AutomationDataSettle,
		"timings.automation_key_stagger": t.AutomationKeyStagger,
		"timings.automation_deadline":    t.AutomationDeadline,
		"timings.api_timeout":            t.APITimeout,
		"log.level":                      d.Log.Level,
		"log.format":                     d.Log.Format,
		"log.color":                      d.Log.Color,
		"log.file.path":                  d.Log.File.Path,
		"log.file.transcript_dir":        d.Log.File.TranscriptDir,
		"log.file.max_size_mb":           d.Log.File.MaxSizeMB,
		"log.file.max_backups":           d.Log.File.MaxBackups,
		"log.file.max_age_days":          d.Log.File.MaxAgeDays,
		"log.file.compress":              d.Log.File.Compress,
		"usage.credentials_path":         d.Usage.CredentialsPath,
		"usage.provider":                 d.Usage.Provider,
		"usage.endpoint":                 d.Usage.Endpoint,
		"usage.cli_command":              d.Usage.CLICommand,
		"usage.query_command":            d.Usage.QueryCommand,
		"usage.aux_key":                  d.Usage.AuxKey,
		"usage.work_dir":                 d.Usage.WorkDir,
		"server.listen":                  d.Server.Listen,
		"server.base_path":               d.Server.BasePath,
		"server.pidfile":                 d.Server.PIDFile,
		"server.lockfile":                d.Server.LockFile,
		"metrics.enabled":                d.Metrics.Enabled,
		"metrics.listen":                 d.Metrics.Listen,
		"metrics.resource_interval":      d.Metrics.ResourceInterval,
	} {
		v.SetDefault(k, val)
	}
}

// Validate rejects values the runtime cannot use.
func (c *Config) Validate() error {
	t := c.Timings
	for name, d := range map[string]time.Duration{
		"batch_quantum":          t.BatchQuantum,
		"grace_fivem":            t.GraceFiveM,
		"grace_minecraft":        t.GraceMinecraft,
		"grace_terminal":         t.GraceTerminal,
		"grace_stop_all":         t.StopAllGrace,
		"automation_app_settle":  t.AutomationAppSettle,
		"automation_data_settle": t.AutomationDataSettle,
		"automation_key_stagger": t.AutomationKeyStagger,
		"automation_deadline":    t.AutomationDeadline,
		"api_timeout":            t.APITimeout,
	} {
		if d < 0 {
			return fmt.Errorf("timings.%s must not be negative (got %s)", name, d)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("server.base_path must start with '/' (got %q)", bp)
	}
	return nil
}

// ManagerTimings converts the timing section for the supervisor.
func (c *Config) ManagerTimings() manager.Timings {
	t := c.Timings
	return manager.Timings{
		BatchQuantum: t.BatchQuantum,
		StopAllGrace: t.StopAllGrace,
		Grace: map[domain.Domain]time.Duration{
			domain.FiveM:     t.GraceFiveM,
			domain.Minecraft: t.GraceMinecraft,
			domain.Terminal:  t.GraceTerminal,
		},
	}
}

// UsageEngine converts the usage and timing sections for the engine.
func (c *Config) UsageEngine() usage.Config {
	u, t := c.Usage, c.Timings
	return usage.Config{
		CredentialsPath: u.CredentialsPath,
		Provider:        u.Provider,
		Endpoint:        u.Endpoint,
		CLICommand:      u.CLICommand,
		QueryCommand:    u.QueryCommand,
		AuxKey:          u.AuxKey,
		APITimeout:      t.APITimeout,
		AppSettle:       t.AutomationAppSettle,
		DataSettle:      t.AutomationDataSettle,
		KeyStagger:      t.AutomationKeyStagger,
		Deadline:        t.AutomationDeadline,
	}
}

// GlobalEnv merges env_files contents, in order, then the top-level env list.
// OS inheritance is decided by UseOSEnv at the env layer.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
