package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/ptyvisor"
	"github.com/loykin/ptyvisor/pkg/client"
)

// command binds the daemon client commands to their output.
type command struct {
	out    io.Writer
	logger *slog.Logger
}

func (c command) apiClient(f APIFlags) (*client.Client, context.Context, context.CancelFunc, error) {
	apiUrl := f.APIUrl
	if apiUrl == "" {
		apiUrl = defaultAPIUrl
	}
	timeout := f.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cl := client.New(client.Config{BaseURL: apiUrl, Timeout: timeout, FetchTimeout: timeout, Logger: c.logger})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if !cl.IsReachable(ctx) {
		cancel()
		return nil, nil, nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'ptyvisor serve'", apiUrl)
	}
	return cl, ctx, cancel, nil
}

// Start spawns a process on the daemon and prints its handle.
func (c command) Start(f StartFlags) error {
	cl, ctx, cancel, err := c.apiClient(f.APIFlags)
	if err != nil {
		return err
	}
	defer cancel()
	h, err := cl.Start(ctx, client.StartRequest{
		Domain:  f.Domain,
		Key:     f.Key,
		Command: f.Cmd,
		WorkDir: f.WorkDir,
		Env:     f.Env,
		Cols:    f.Cols,
		Rows:    f.Rows,
	})
	if err != nil {
		return err
	}
	printJSON(c.out, h)
	return nil
}

// List prints every process on the daemon.
func (c command) List(f APIFlags) error {
	cl, ctx, cancel, err := c.apiClient(f)
	if err != nil {
		return err
	}
	defer cancel()
	infos, err := cl.List(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, infos)
	return nil
}

func (c command) Stop(f HandleFlags) error {
	return c.withHandle(f, func(ctx context.Context, cl *client.Client, h client.Handle) error {
		return cl.Stop(ctx, h)
	})
}

func (c command) Kill(f HandleFlags) error {
	return c.withHandle(f, func(ctx context.Context, cl *client.Client, h client.Handle) error {
		return cl.Kill(ctx, h)
	})
}

func (c command) Errors(f HandleFlags) error {
	return c.withHandle(f, func(ctx context.Context, cl *client.Client, h client.Handle) error {
		rep, err := cl.Errors(ctx, h)
		if err != nil {
			return err
		}
		printJSON(c.out, rep)
		return nil
	})
}

func (c command) DismissError(f HandleFlags) error {
	return c.withHandle(f, func(ctx context.Context, cl *client.Client, h client.Handle) error {
		return cl.DismissError(ctx, h)
	})
}

func (c command) StopAll(f APIFlags) error {
	cl, ctx, cancel, err := c.apiClient(f)
	if err != nil {
		return err
	}
	defer cancel()
	return cl.StopAll(ctx)
}

func (c command) withHandle(f HandleFlags, fn func(context.Context, *client.Client, client.Handle) error) error {
	h, err := parseHandle(f.Handle)
	if err != nil {
		return err
	}
	cl, ctx, cancel, err := c.apiClient(f.APIFlags)
	if err != nil {
		return err
	}
	defer cancel()
	return fn(ctx, cl, h)
}

// Usage fetches usage through the daemon when --api-url is given, otherwise
// in-process with a private core.
func (c command) Usage(f UsageFlags) error {
	if f.APIUrl != "" {
		return c.usageViaAPI(f)
	}
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	core, err := ptyvisor.New(ptyvisor.Options{Config: cfg, Logger: c.logger})
	if err != nil {
		return err
	}
	deadline := cfg.Timings.AutomationDeadline + cfg.Timings.APITimeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	defer func() { _ = core.Shutdown(ctx) }()

	m, err := core.FetchUsage(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, m)
	return nil
}

func (c command) usageViaAPI(f UsageFlags) error {
	if f.APITimeout <= 0 {
		// Automation fallback on the daemon can take close to half a minute.
		f.APITimeout = 45 * time.Second
	}
	cl, ctx, cancel, err := c.apiClient(f.APIFlags)
	if err != nil {
		return err
	}
	defer cancel()
	if f.Cached {
		snap, err := cl.CachedUsage(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, snap)
		return nil
	}
	u, err := cl.FetchUsage(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, u)
	return nil
}
