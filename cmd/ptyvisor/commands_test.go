package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ptyvisor"
	"github.com/loykin/ptyvisor/internal/process"
	"github.com/loykin/ptyvisor/pkg/client"
)

// stubNative exits once it receives a line ending in \r.
type stubNative struct {
	opts process.SpawnOptions
	once sync.Once
}

func (n *stubNative) PID() int                       { return 4242 }
func (n *stubNative) Resize(cols, rows uint16) error { return nil }
func (n *stubNative) Kill() error                    { go n.exit(137); return nil }

func (n *stubNative) Write(b []byte) (int, error) {
	if strings.HasSuffix(string(b), "\r") {
		go n.exit(0)
	}
	return len(b), nil
}

func (n *stubNative) exit(code int) { n.once.Do(func() { n.opts.OnExit(code) }) }

func newDaemon(t *testing.T) string {
	t.Helper()
	spawn := process.SpawnerFunc(func(opts process.SpawnOptions) (process.Native, error) {
		return &stubNative{opts: opts}, nil
	})
	core, err := ptyvisor.New(ptyvisor.Options{Spawner: spawn, KillTree: func(int) error { return nil }})
	require.NoError(t, err)
	srv := httptest.NewServer(core.Router("/api").Handler())
	t.Cleanup(func() {
		core.StopAll()
		srv.Close()
	})
	return srv.URL + "/api"
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out, nil)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_StartPsStop(t *testing.T) {
	api := newDaemon(t)

	out, err := execute(t, "start", "--domain", "terminal", "--key", "dev", "--api-url", api)
	require.NoError(t, err)
	var h client.Handle
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, client.Handle{Domain: "terminal", Key: "dev"}, h)

	out, err = execute(t, "ps", "--api-url", api)
	require.NoError(t, err)
	var infos []client.ProcessInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, 4242, infos[0].PID)

	_, err = execute(t, "stop", "terminal/dev", "--api-url", api)
	require.NoError(t, err)

	out, err = execute(t, "errors", "terminal/dev", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, `"recent": []`)
}

func TestCLI_RejectsBadHandle(t *testing.T) {
	api := newDaemon(t)
	_, err := execute(t, "kill", "nohandle", "--api-url", api)
	require.Error(t, err)
	_, err = execute(t, "kill", "bogus/1", "--api-url", api)
	require.Error(t, err)
}

func TestCLI_DaemonUnreachable(t *testing.T) {
	_, err := execute(t, "ps", "--api-url", "http://127.0.0.1:1/api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}

func TestCLI_UsageCachedViaDaemon(t *testing.T) {
	api := newDaemon(t)
	out, err := execute(t, "usage", "--cached", "--api-url", api)
	require.NoError(t, err)
	var snap client.UsageSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Nil(t, snap.Data)
}

func TestParseHandle(t *testing.T) {
	cases := []struct {
		in   string
		want client.Handle
		ok   bool
	}{
		{"terminal/1", client.Handle{Domain: "terminal", Key: "1"}, true},
		{"FiveM/srv", client.Handle{Domain: "fivem", Key: "srv"}, true},
		{"terminal/", client.Handle{}, false},
		{"terminal", client.Handle{}, false},
		{"nope/1", client.Handle{}, false},
	}
	for _, tc := range cases {
		got, err := parseHandle(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}
