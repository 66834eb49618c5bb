package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ptyvisor"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successful process spawns.",
		}, []string{"domain"},
	)
	processSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of spawn requests that failed resolution or native start.",
		}, []string{"domain"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed process exits.",
		}, []string{"domain"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops by mode (graceful, forced, killed).",
		}, []string{"domain", "mode"},
	)
	forceKillFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "force_kill_failures_total",
			Help:      "Number of tree kills that returned an error.",
		}, []string{"domain"},
	)
	runningProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "running",
			Help:      "Currently registered processes per domain.",
		}, []string{"domain"},
	)
	players = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "players",
			Help:      "Last extracted occupant count per process.",
		}, []string{"domain", "key"},
	)
	outputFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "flushes_total",
			Help:      "Number of batched output flushes.",
		}, []string{"domain"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Events emitted to subscribers by kind.",
		}, []string{"kind"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was not keeping up.",
		},
	)
	usageFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "fetch_total",
			Help:      "Usage fetch attempts by path and result.",
		}, []string{"path", "result"},
	)
	usageFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of usage fetches by path.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 20, 30},
		}, []string{"path"},
	)
	usagePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "percent",
			Help:      "Last fetched utilization percentage per window.",
		}, []string{"metric"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processSpawns, processSpawnFailures, processExits, processStops, forceKillFailures,
		runningProcesses, players, outputFlushes, events, eventsDropped,
		usageFetches, usageFetchDuration, usagePercent,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(domain string) {
	if regOK.Load() {
		processSpawns.WithLabelValues(domain).Inc()
	}
}

func IncSpawnFailure(domain string) {
	if regOK.Load() {
		processSpawnFailures.WithLabelValues(domain).Inc()
	}
}

func IncExit(domain string) {
	if regOK.Load() {
		processExits.WithLabelValues(domain).Inc()
	}
}

func IncStop(domain, mode string) {
	if regOK.Load() {
		processStops.WithLabelValues(domain, mode).Inc()
	}
}

func IncForceKillFailure(domain string) {
	if regOK.Load() {
		forceKillFailures.WithLabelValues(domain).Inc()
	}
}

func SetRunning(domain string, n int) {
	if regOK.Load() {
		runningProcesses.WithLabelValues(domain).Set(float64(n))
	}
}

func SetPlayers(domain, key string, n int) {
	if regOK.Load() {
		players.WithLabelValues(domain, key).Set(float64(n))
	}
}

// DeletePlayers drops the series for a handle that went away.
func DeletePlayers(domain, key string) {
	if regOK.Load() {
		players.DeleteLabelValues(domain, key)
	}
}

func IncFlush(domain string) {
	if regOK.Load() {
		outputFlushes.WithLabelValues(domain).Inc()
	}
}

func IncEvent(kind string) {
	if regOK.Load() {
		events.WithLabelValues(kind).Inc()
	}
}

func IncEventDropped() {
	if regOK.Load() {
		eventsDropped.Inc()
	}
}

func ObserveUsageFetch(path, result string, seconds float64) {
	if regOK.Load() {
		usageFetches.WithLabelValues(path, result).Inc()
		usageFetchDuration.WithLabelValues(path).Observe(seconds)
	}
}

func SetUsagePercent(metric string, v float64) {
	if regOK.Load() {
		usagePercent.WithLabelValues(metric).Set(v)
	}
}
