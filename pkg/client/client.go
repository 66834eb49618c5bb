package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrInFlight is returned by FetchUsage when the daemon is already fetching
// and has nothing cached yet.
var ErrInFlight = errors.New("usage fetch already in flight")

// Client provides HTTP client functionality to communicate with the ptyvisor daemon
type Client struct {
	baseURL string
	client  *http.Client
	fetch   *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations

	// FetchTimeout bounds FetchUsage, which may wait for a full automation
	// session on the daemon.
	FetchTimeout time.Duration
	// HTTPClient overrides the transport; both timeouts are ignored when set.
	HTTPClient *http.Client
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://127.0.0.1:8080/api",
		Timeout:      10 * time.Second,
		FetchTimeout: 45 * time.Second,
	}
}

// New creates a new ptyvisor API client
func New(config Config) *Client {
	d := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = d.Timeout
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = d.FetchTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc, fc := config.HTTPClient, config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
		fc = &http.Client{Timeout: config.FetchTimeout}
	}
	return &Client{baseURL: config.BaseURL, client: hc, fetch: fc, logger: config.Logger}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/processes", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// Start spawns a process and returns the handle the daemon registered it under.
func (c *Client) Start(ctx context.Context, req StartRequest) (Handle, error) {
	c.logger.Debug("Starting process", "domain", req.Domain, "key", req.Key, "command", req.Command)
	var out struct {
		Handle Handle `json:"handle"`
	}
	if err := c.do(ctx, http.MethodPost, "/processes", req, &out); err != nil {
		return Handle{}, err
	}
	c.logger.Debug("Process started", "handle", out.Handle.String())
	return out.Handle, nil
}

// List returns every visible process.
func (c *Client) List(ctx context.Context) ([]ProcessInfo, error) {
	var out []ProcessInfo
	if err := c.do(ctx, http.MethodGet, "/processes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Write sends raw text to the process's terminal.
func (c *Client) Write(ctx context.Context, h Handle, data string) error {
	return c.do(ctx, http.MethodPost, handlePath(h, "write"), map[string]string{"data": data}, nil)
}

// Resize changes the terminal geometry.
func (c *Client) Resize(ctx context.Context, h Handle, cols, rows uint16) error {
	body := map[string]uint16{"cols": cols, "rows": rows}
	return c.do(ctx, http.MethodPost, handlePath(h, "resize"), body, nil)
}

// Stop requests a graceful stop; the daemon force-kills after the grace window.
func (c *Client) Stop(ctx context.Context, h Handle) error {
	c.logger.Debug("Stopping process", "handle", h.String())
	return c.do(ctx, http.MethodPost, handlePath(h, "stop"), nil, nil)
}

// Kill tree-kills the process immediately.
func (c *Client) Kill(ctx context.Context, h Handle) error {
	c.logger.Debug("Killing process", "handle", h.String())
	return c.do(ctx, http.MethodPost, handlePath(h, "kill"), nil, nil)
}

// StopAll gracefully stops every process.
func (c *Client) StopAll(ctx context.Context) error {
	c.logger.Debug("Stopping all processes")
	return c.do(ctx, http.MethodPost, "/processes/stop-all", nil, nil)
}

// Errors returns the error log kept for h.
func (c *Client) Errors(ctx context.Context, h Handle) (ErrorReport, error) {
	var out ErrorReport
	err := c.do(ctx, http.MethodGet, handlePath(h, "errors"), nil, &out)
	return out, err
}

// DismissError clears the last error for h.
func (c *Client) DismissError(ctx context.Context, h Handle) error {
	return c.do(ctx, http.MethodPost, handlePath(h, "errors/dismiss"), nil, nil)
}

// FetchUsage asks the daemon for fresh usage. It returns ErrInFlight when
// another fetch is running and nothing is cached.
func (c *Client) FetchUsage(ctx context.Context) (*Usage, error) {
	var out Usage
	status, err := c.doWith(ctx, c.fetch, http.MethodPost, "/usage/fetch", nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, ErrInFlight
	}
	return &out, nil
}

// CachedUsage returns the daemon's cached snapshot without fetching.
func (c *Client) CachedUsage(ctx context.Context) (UsageSnapshot, error) {
	var out UsageSnapshot
	err := c.do(ctx, http.MethodGet, "/usage", nil, &out)
	return out, err
}

func handlePath(h Handle, action string) string {
	return "/processes/" + url.PathEscape(h.Domain) + "/" + url.PathEscape(h.Key) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.doWith(ctx, c.client, method, path, in, out)
	return err
}

// doWith performs HTTP request with common error handling. 202 responses
// are not decoded into out.
func (c *Client) doWith(ctx context.Context, hc *http.Client, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
