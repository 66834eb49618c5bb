package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ptyvisor"
	"github.com/loykin/ptyvisor/internal/config"
	"github.com/loykin/ptyvisor/internal/history/factory"
	"github.com/loykin/ptyvisor/internal/metrics"
	"github.com/loykin/ptyvisor/internal/server"
)

// shutdownTimeout bounds how long serve waits for processes after a signal.
// It must exceed the longest grace window.
const shutdownTimeout = 10 * time.Second

// ErrAlreadyRunning is returned when another daemon holds the lock file.
var ErrAlreadyRunning = errors.New("another ptyvisor daemon is running")

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flags.Daemonize {
		return daemonize(cfg.Server.PIDFile, flags.LogFile)
	}

	log, closer, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	unlock, err := acquireLock(cfg.Server.LockFile)
	if err != nil {
		return err
	}
	defer unlock()

	if cfg.Server.PIDFile != "" {
		if err := writePidFile(cfg.Server.PIDFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(cfg.Server.PIDFile) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

// serve runs the daemon until ctx is done, then stops every process.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	hist, err := factory.NewDispatcher(log.With("component", "history"), cfg.History.DSNs)
	if err != nil {
		return err
	}
	defer func() { _ = hist.Close() }()

	core, err := ptyvisor.New(ptyvisor.Options{Config: cfg, Logger: log, History: hist})
	if err != nil {
		return err
	}
	router := core.Router(cfg.Server.BasePath)

	if cfg.Metrics.Enabled {
		if err := ptyvisor.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		rc := metrics.NewResourceCollector(cfg.Metrics.ResourceInterval, log.With("component", "resources"))
		if err := rc.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register resource metrics", "error", err)
		}
		rc.Start(ctx, core.Targets)
		defer rc.Stop()
		router.WithSampler(rc)

		if cfg.Metrics.Listen != "" {
			go func() {
				if err := ptyvisor.ServeMetrics(cfg.Metrics.Listen); err != nil {
					log.Error("metrics server stopped", "addr", cfg.Metrics.Listen, "error", err)
				}
			}()
		}
	}

	srv := server.NewServer(cfg.Server.Listen, router)
	log.Info("ptyvisor serving", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := core.Shutdown(sctx); err != nil {
		log.Warn("processes still running at shutdown deadline", "error", err)
	}

	// Event streams never go idle on their own.
	hctx, hcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer hcancel()
	if err := srv.Shutdown(hctx); err != nil {
		log.Warn("http shutdown incomplete, closing", "error", err)
		return srv.Close()
	}
	return nil
}

// acquireLock takes an exclusive advisory lock on path. An empty path means
// no single-instance enforcement.
func acquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s held)", ErrAlreadyRunning, path)
	}
	return func() { _ = fl.Unlock() }, nil
}
