package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSpawn("fivem")
	IncSpawnFailure("fivem")
	IncExit("fivem")
	IncStop("fivem", "graceful")
	IncForceKillFailure("fivem")
	SetRunning("fivem", 1)
	SetPlayers("fivem", "0", 3)
	IncFlush("terminal")
	IncEvent("data")
	IncEventDropped()
	ObserveUsageFetch("api", "ok", 0.4)
	SetUsagePercent("session", 42)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"ptyvisor_process_spawns_total":              false,
		"ptyvisor_process_spawn_failures_total":      false,
		"ptyvisor_process_exits_total":               false,
		"ptyvisor_process_stops_total":               false,
		"ptyvisor_process_force_kill_failures_total": false,
		"ptyvisor_process_running":                   false,
		"ptyvisor_process_players":                   false,
		"ptyvisor_output_flushes_total":              false,
		"ptyvisor_events_emitted_total":              false,
		"ptyvisor_events_dropped_total":              false,
		"ptyvisor_usage_fetch_total":                 false,
		"ptyvisor_usage_fetch_duration_seconds":      false,
		"ptyvisor_usage_percent":                     false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	DeletePlayers("fivem", "0")
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	defer regOK.Store(false)
	// Must not panic or record anything.
	IncSpawn("terminal")
	SetPlayers("minecraft", "1", 2)
	ObserveUsageFetch("automation", "error", 1)
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncSpawn("minecraft")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "ptyvisor_process_spawns_total") {
		t.Fatalf("metrics output missing spawn counter")
	}
}
