package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceCollector_SamplesSelf(t *testing.T) {
	c := NewResourceCollector(time.Second, nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, c.RegisterMetrics(reg))
	require.NoError(t, c.RegisterMetrics(reg))

	self := Target{Domain: "terminal", Key: "1", PID: int32(os.Getpid())}
	c.Collect([]Target{self, {Domain: "terminal", Key: "0", PID: 0}})

	s, ok := c.Sample("terminal", "1")
	require.True(t, ok)
	assert.Equal(t, self.PID, s.PID)
	assert.Greater(t, s.MemoryMB, 0.0)

	_, ok = c.Sample("terminal", "0")
	assert.False(t, ok)

	// A target that disappears is forgotten on the next pass.
	c.Collect(nil)
	_, ok = c.Sample("terminal", "1")
	assert.False(t, ok)
}

func TestResourceCollector_StartStop(t *testing.T) {
	c := NewResourceCollector(10*time.Millisecond, nil)
	calls := make(chan struct{}, 10)
	c.Start(context.Background(), func() []Target {
		select {
		case calls <- struct{}{}:
		default:
		}
		return []Target{{Domain: "fivem", Key: "0", PID: int32(os.Getpid())}}
	})
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("collector never sampled")
	}
	c.Stop()
	c.Stop()
}

func TestSplitID(t *testing.T) {
	d, k, ok := splitID("minecraft/3")
	assert.True(t, ok)
	assert.Equal(t, "minecraft", d)
	assert.Equal(t, "3", k)
	_, _, ok = splitID("bad")
	assert.False(t, ok)
}
