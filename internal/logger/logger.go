package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes rotated log files. Path is the daemon's own log;
// TranscriptDir receives one <domain>-<key>.log per supervised process.
type FileConfig struct {
	Path          string `toml:"path" mapstructure:"path"`
	TranscriptDir string `toml:"transcript_dir" mapstructure:"transcript_dir"`
	MaxSizeMB     int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays    int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress      bool   `toml:"compress" mapstructure:"compress"`
}

// Config selects level, format and destinations.
type Config struct {
	Level  string     `toml:"level" mapstructure:"level"`
	Format string     `toml:"format" mapstructure:"format"` // text or json
	Color  bool       `toml:"color" mapstructure:"color"`
	File   FileConfig `toml:"file" mapstructure:"file"`
}

// New builds a logger writing to w and, when File.Path is set, to a rotated
// file as well. The returned closer releases the file.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var closer io.Closer = nopCloser{}
	var fileW io.WriteCloser
	if cfg.File.Path != "" {
		fileW = cfg.File.rotated(cfg.File.Path)
		closer = fileW
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		out := w
		if fileW != nil {
			out = io.MultiWriter(w, fileW)
		}
		h = slog.NewJSONHandler(out, opts)
	case "", "text":
		if cfg.Color && fileW == nil {
			h = NewColorTextHandler(w, opts, true)
		} else {
			out := w
			if fileW != nil {
				// Escape codes would end up in the file.
				out = io.MultiWriter(w, fileW)
			}
			h = slog.NewTextHandler(out, opts)
		}
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps debug/info/warn/error onto slog levels; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// TranscriptWriter returns a rotated writer for the raw output of one
// process, or nil when transcripts are disabled.
func (c FileConfig) TranscriptWriter(name string) io.WriteCloser {
	if c.TranscriptDir == "" {
		return nil
	}
	return c.rotated(filepath.Join(c.TranscriptDir, fmt.Sprintf("%s.log", sanitize(name))))
}

func (c FileConfig) rotated(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, name)
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
