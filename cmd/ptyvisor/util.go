package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loykin/ptyvisor"
	"github.com/loykin/ptyvisor/internal/config"
	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/logger"
	"github.com/loykin/ptyvisor/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

// exitError carries a supervised process's exit code out of RunE.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("process exited with code %d", e.code) }

// parseHandle accepts "domain/key".
func parseHandle(s string) (client.Handle, error) {
	ds, key, ok := strings.Cut(s, "/")
	if !ok || key == "" {
		return client.Handle{}, fmt.Errorf("invalid handle %q: want domain/key", s)
	}
	d, err := domain.Parse(ds)
	if err != nil {
		return client.Handle{}, err
	}
	return client.Handle{Domain: string(d), Key: key}, nil
}

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := ptyvisor.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}
	return logger.New(cfg.Log, w)
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
