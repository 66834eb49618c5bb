package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Target identifies one sampled process.
type Target struct {
	Domain string
	Key    string
	PID    int32
}

// ResourceSample is the last CPU and memory reading for a process.
type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceCollector periodically samples supervised processes with gopsutil
// and exports the readings as gauges labelled by domain and key.
type ResourceCollector struct {
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	samples map[string]ResourceSample // domain/key -> last sample
	procs   map[int32]*process.Process

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewResourceCollector(interval time.Duration, logger *slog.Logger) *ResourceCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceCollector{
		interval: interval,
		logger:   logger,
		samples:  make(map[string]ResourceSample),
		procs:    make(map[int32]*process.Process),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage for supervised processes.",
			}, []string{"domain", "key"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "memory_mb",
				Help:      "Resident memory in MB for supervised processes.",
			}, []string{"domain", "key"},
		),
	}
}

// RegisterMetrics registers the resource gauges with r.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples targets() every interval until ctx is done or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context, targets func() []Target) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(targets())
			}
		}
	}()
}

// Stop ends the sampling loop and waits for it.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every target and forgets targets that are gone.
func (c *ResourceCollector) Collect(targets []Target) {
	now := time.Now()
	seen := make(map[string]bool, len(targets))
	livePIDs := make(map[int32]bool, len(targets))
	for _, t := range targets {
		if t.PID <= 0 {
			continue
		}
		id := t.Domain + "/" + t.Key
		seen[id] = true
		livePIDs[t.PID] = true
		s, err := c.sample(t.PID, now)
		if err != nil {
			c.logger.Debug("resource sample failed", "handle", id, "pid", t.PID, "error", err)
			continue
		}
		c.cpuPercent.WithLabelValues(t.Domain, t.Key).Set(s.CPUPercent)
		c.memoryMB.WithLabelValues(t.Domain, t.Key).Set(s.MemoryMB)
		c.mu.Lock()
		c.samples[id] = s
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.samples {
		if !seen[id] {
			delete(c.samples, id)
			if d, k, ok := splitID(id); ok {
				c.cpuPercent.DeleteLabelValues(d, k)
				c.memoryMB.DeleteLabelValues(d, k)
			}
		}
	}
	for pid := range c.procs {
		if !livePIDs[pid] {
			delete(c.procs, pid)
		}
	}
}

// Sample returns the last reading for domain/key.
func (c *ResourceCollector) Sample(domain, key string) (ResourceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[domain+"/"+key]
	return s, ok
}

func (c *ResourceCollector) sample(pid int32, now time.Time) (ResourceSample, error) {
	// Handles are reused so CPUPercent measures the interval between samples.
	c.mu.Lock()
	p, ok := c.procs[pid]
	c.mu.Unlock()
	if !ok {
		var err error
		p, err = process.NewProcess(pid)
		if err != nil {
			return ResourceSample{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		c.mu.Lock()
		c.procs[pid] = p
		c.mu.Unlock()
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, _ := p.NumThreads()
	return ResourceSample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		NumThreads: threads,
		Timestamp:  now,
	}, nil
}

func splitID(id string) (string, string, bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			return id[:i], id[i+1:], true
		}
	}
	return "", "", false
}
