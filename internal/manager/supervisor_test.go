package manager

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/extract"
	"github.com/loykin/ptyvisor/internal/process"
)

type fakeNative struct {
	pid    int
	onData func([]byte)
	onExit func(int)
	// exitOnStop makes the fake exit with code 0 when it receives any write
	// ending in a carriage return.
	exitOnStop bool

	mu       sync.Mutex
	writes   []string
	sizes    [][2]uint16
	exitOnce sync.Once
}

func (f *fakeNative) PID() int { return f.pid }

func (f *fakeNative) Write(b []byte) (int, error) {
	f.mu.Lock()
	f.writes = append(f.writes, string(b))
	f.mu.Unlock()
	if f.exitOnStop && strings.HasSuffix(string(b), "\r") {
		go f.exit(0)
	}
	return len(b), nil
}

func (f *fakeNative) Resize(cols, rows uint16) error {
	f.mu.Lock()
	f.sizes = append(f.sizes, [2]uint16{cols, rows})
	f.mu.Unlock()
	return nil
}

func (f *fakeNative) Kill() error {
	go f.exit(137)
	return nil
}

func (f *fakeNative) data(s string) { f.onData([]byte(s)) }

func (f *fakeNative) exit(code int) {
	f.exitOnce.Do(func() { f.onExit(code) })
}

func (f *fakeNative) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// fakeSpawner hands out fakeNatives with increasing pids and keeps them by pid.
type fakeSpawner struct {
	mu         sync.Mutex
	next       int
	procs      map[int]*fakeNative
	last       process.SpawnOptions
	exitOnStop bool
	fail       error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{next: 1000, procs: make(map[int]*fakeNative)}
}

func (s *fakeSpawner) Spawn(opts process.SpawnOptions) (process.Native, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.next++
	n := &fakeNative{pid: s.next, onData: opts.OnData, onExit: opts.OnExit, exitOnStop: s.exitOnStop}
	s.procs[n.pid] = n
	s.last = opts
	return n, nil
}

func (s *fakeSpawner) get(pid int) *fakeNative {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[pid]
}

// fakeKiller records tree-kill requests and, when exits is set, makes the
// target exit with 137.
type fakeKiller struct {
	spawner *fakeSpawner
	exits   bool
	err     error

	mu   sync.Mutex
	pids []int
}

func (k *fakeKiller) kill(pid int) error {
	k.mu.Lock()
	k.pids = append(k.pids, pid)
	k.mu.Unlock()
	if k.exits {
		if n := k.spawner.get(pid); n != nil {
			go n.exit(137)
		}
	}
	return k.err
}

func (k *fakeKiller) calls() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]int(nil), k.pids...)
}

type recorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.evs...)
}

func (r *recorder) ofKind(k EventKind) []Event {
	var out []Event
	for _, ev := range r.events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	sup     *Supervisor
	spawner *fakeSpawner
	killer  *fakeKiller
	rec     *recorder
}

func newFixture(t *testing.T, timings Timings) *fixture {
	t.Helper()
	sp := newFakeSpawner()
	k := &fakeKiller{spawner: sp, exits: true}
	r := &recorder{}
	sup := NewSupervisor(Options{Spawner: sp, KillTree: k.kill, Emitter: r, Timings: timings})
	return &fixture{sup: sup, spawner: sp, killer: k, rec: r}
}

func (f *fixture) native(t *testing.T, h Handle) *fakeNative {
	t.Helper()
	info, ok := f.sup.Get(h)
	require.True(t, ok, "handle %s not registered", h)
	n := f.spawner.get(info.PID)
	require.NotNil(t, n)
	return n
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like paths")
	}
}

func TestSpawn_AssignsMonotonicKeys(t *testing.T) {
	f := newFixture(t, Timings{})
	h1, err := f.sup.Spawn(domain.Terminal, "", SpawnConfig{Command: "echo one"})
	require.NoError(t, err)
	h2, err := f.sup.Spawn(domain.Terminal, "", SpawnConfig{Command: "echo two"})
	require.NoError(t, err)
	assert.Equal(t, "1", h1.Key)
	assert.Equal(t, "2", h2.Key)
	assert.Len(t, f.sup.List(), 2)
}

func TestSpawn_GeneratedKeySkipsCallerKeys(t *testing.T) {
	f := newFixture(t, Timings{})
	mine, err := f.sup.Spawn(domain.Terminal, "1", SpawnConfig{Command: "echo mine"})
	require.NoError(t, err)
	pid := f.native(t, mine).pid

	auto, err := f.sup.Spawn(domain.Terminal, "", SpawnConfig{Command: "echo auto"})
	require.NoError(t, err)
	assert.Equal(t, "2", auto.Key)
	assert.Len(t, f.sup.List(), 2)
	info, ok := f.sup.Get(mine)
	require.True(t, ok)
	assert.Equal(t, pid, info.PID, "caller's process must not be replaced")
	assert.Empty(t, f.native(t, mine).written())
}

func TestSpawn_UsesGeometryAndMergedEnv(t *testing.T) {
	f := newFixture(t, Timings{})
	_, err := f.sup.Spawn(domain.Terminal, "a", SpawnConfig{Command: "echo hi", Cols: 80, Rows: 24, Env: []string{"FOO=bar"}})
	require.NoError(t, err)
	opts := f.spawner.last
	assert.Equal(t, uint16(80), opts.Cols)
	assert.Equal(t, uint16(24), opts.Rows)
	assert.Contains(t, opts.Env, "FOO=bar")
	assert.Contains(t, opts.Env, "TERM=xterm-256color")
}

func TestSpawn_FailureRegistersNothing(t *testing.T) {
	f := newFixture(t, Timings{})
	f.spawner.fail = errors.New("no pty")
	h, err := f.sup.Spawn(domain.Terminal, "x", SpawnConfig{Command: "echo hi"})
	require.Error(t, err)
	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, h, se.Handle)
	assert.False(t, f.sup.Has(h))
	assert.Empty(t, f.rec.events())
}

func TestSpawn_UnknownDomain(t *testing.T) {
	f := newFixture(t, Timings{})
	_, err := f.sup.Spawn(domain.Domain("nope"), "x", SpawnConfig{Command: "echo"})
	require.ErrorIs(t, err, domain.ErrUnknownDomain)
}

func TestSpawn_ResolutionFailure(t *testing.T) {
	f := newFixture(t, Timings{})
	_, err := f.sup.Spawn(domain.FiveM, "x", SpawnConfig{Command: ""})
	var se *SpawnError
	require.True(t, errors.As(err, &se))
	require.ErrorIs(t, err, process.ErrEmptyCommand)
}

func TestUnknownHandle_NoOps(t *testing.T) {
	f := newFixture(t, Timings{})
	h := Handle{Domain: domain.Terminal, Key: "ghost"}
	f.sup.Write(h, "ls\r")
	f.sup.Resize(h, 100, 40)
	f.sup.Stop(h)
	f.sup.Kill(h)
	assert.Empty(t, f.rec.events())
	assert.Empty(t, f.killer.calls())
	_, ok := f.sup.Get(h)
	assert.False(t, ok)
}

func TestWriteAndResize_ReachNative(t *testing.T) {
	f := newFixture(t, Timings{})
	h, err := f.sup.Spawn(domain.Terminal, "w", SpawnConfig{})
	require.NoError(t, err)
	n := f.native(t, h)
	f.sup.Write(h, "ls\r")
	f.sup.Resize(h, 100, 40)
	f.sup.Resize(h, 0, 40)
	assert.Equal(t, []string{"ls\r"}, n.written())
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, [][2]uint16{{100, 40}}, n.sizes)
}

func TestTerminalBatching_CoalescesChunks(t *testing.T) {
	f := newFixture(t, Timings{BatchQuantum: 40 * time.Millisecond})
	h, err := f.sup.Spawn(domain.Terminal, "b", SpawnConfig{})
	require.NoError(t, err)
	n := f.native(t, h)

	n.data("a")
	n.data("b")
	n.data("c")
	require.Eventually(t, func() bool { return len(f.rec.ofKind(EventData)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	data := f.rec.ofKind(EventData)
	require.Len(t, data, 1)
	assert.Equal(t, "abc", data[0].Data)
	assert.Equal(t, h, data[0].Handle)

	n.data("d")
	require.Eventually(t, func() bool { return len(f.rec.ofKind(EventData)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "d", f.rec.ofKind(EventData)[1].Data)
}

func TestExit_FlushesPendingBeforeExitEvent(t *testing.T) {
	f := newFixture(t, Timings{BatchQuantum: time.Hour})
	h, err := f.sup.Spawn(domain.Terminal, "e", SpawnConfig{})
	require.NoError(t, err)
	n := f.native(t, h)
	n.data("tail")
	n.exit(3)

	evs := f.rec.events()
	require.GreaterOrEqual(t, len(evs), 2)
	last := evs[len(evs)-1]
	assert.Equal(t, EventExit, last.Kind)
	assert.Equal(t, 3, last.Code)
	prev := evs[len(evs)-2]
	assert.Equal(t, EventData, prev.Kind)
	assert.Equal(t, "tail", prev.Data)
	assert.False(t, f.sup.Has(h))
}

func TestGameDomain_StatusAndCountEvents(t *testing.T) {
	requireUnix(t)
	f := newFixture(t, Timings{})
	h, err := f.sup.Spawn(domain.Minecraft, "mc", SpawnConfig{Command: "/bin/sh"})
	require.NoError(t, err)
	n := f.native(t, h)

	n.data("[12:00:00] [Server thread/INFO]: Done (3.2s)! For help, type \"help\"\n")
	n.data("Steve joined the game\nAlex joi")
	n.data("ned the game\n")
	n.data("There are 5 of a max of 20 players online\n")

	statuses := f.rec.ofKind(EventStatus)
	require.Len(t, statuses, 2)
	assert.Equal(t, extract.StatusStarting, statuses[0].Status)
	assert.Equal(t, extract.StatusRunning, statuses[1].Status)

	counts := f.rec.ofKind(EventCount)
	require.Len(t, counts, 3)
	assert.Equal(t, []int{1, 2, 5}, []int{counts[0].Count, counts[1].Count, counts[2].Count})
	assert.Equal(t, 20, counts[2].Max)

	info, ok := f.sup.Get(h)
	require.True(t, ok)
	assert.Equal(t, extract.StatusRunning, info.Status)
	assert.Equal(t, 5, info.Players)

	// Unbatched: every chunk is its own data event.
	assert.Len(t, f.rec.ofKind(EventData), 4)

	n.exit(0)
	statuses = f.rec.ofKind(EventStatus)
	assert.Equal(t, extract.StatusStopped, statuses[len(statuses)-1].Status)
	counts = f.rec.ofKind(EventCount)
	assert.Equal(t, 0, counts[len(counts)-1].Count)
}

func TestTerminal_NoStatusEvents(t *testing.T) {
	f := newFixture(t, Timings{})
	h, err := f.sup.Spawn(domain.Terminal, "t", SpawnConfig{})
	require.NoError(t, err)
	info, ok := f.sup.Get(h)
	require.True(t, ok)
	assert.Empty(t, info.Status, "terminal processes carry no status")
	f.native(t, h).exit(0)
	assert.Empty(t, f.rec.ofKind(EventStatus))
	assert.Len(t, f.rec.ofKind(EventExit), 1)
}

func TestFiveM_ErrorsPersistUntilDismissed(t *testing.T) {
	requireUnix(t)
	f := newFixture(t, Timings{})
	h, err := f.sup.Spawn(domain.FiveM, "fx", SpawnConfig{Command: "/bin/sh"})
	require.NoError(t, err)
	n := f.native(t, h)
	n.data("loading resource\nSCRIPT ERROR: @res/server.lua:10: boom\n")

	errs := f.rec.ofKind(EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error.Message, "SCRIPT ERROR")
	assert.Contains(t, errs[0].Error.Context, "loading resource")

	n.exit(1)
	rep, ok := f.sup.Errors(h)
	require.True(t, ok)
	require.Len(t, rep.Recent, 1)
	require.NotNil(t, rep.Last)

	f.sup.DismissError(h)
	rep, _ = f.sup.Errors(h)
	assert.Nil(t, rep.Last)
	assert.Len(t, rep.Recent, 1)

	// A new process under the same handle keeps appending to the same log.
	h2, err := f.sup.Spawn(domain.FiveM, "fx", SpawnConfig{Command: "/bin/sh"})
	require.NoError(t, err)
	f.native(t, h2).data("stack traceback:\n")
	rep, _ = f.sup.Errors(h)
	assert.Len(t, rep.Recent, 2)
}

func TestHiddenDomain_FeedsObserverOnly(t *testing.T) {
	f := newFixture(t, Timings{})
	obs := &captureObserver{}
	h, err := f.sup.Spawn(domain.Automation, "", SpawnConfig{Observer: obs})
	require.NoError(t, err)
	n := f.native(t, h)
	n.data("$ ")
	n.exit(0)

	assert.Empty(t, f.rec.events())
	assert.Equal(t, "$ ", obs.text())
	assert.Equal(t, 0, obs.code())
	assert.Empty(t, f.sup.List())
}

type captureObserver struct {
	mu   sync.Mutex
	buf  strings.Builder
	exit int
	done bool
}

func (o *captureObserver) Output(s string) {
	o.mu.Lock()
	o.buf.WriteString(s)
	o.mu.Unlock()
}

func (o *captureObserver) Exited(code int) {
	o.mu.Lock()
	o.exit = code
	o.done = true
	o.mu.Unlock()
}

func (o *captureObserver) text() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *captureObserver) code() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.done {
		return -1
	}
	return o.exit
}

func TestList_SortedByDomainThenKey(t *testing.T) {
	requireUnix(t)
	f := newFixture(t, Timings{})
	for _, k := range []string{"10", "2", "1"} {
		_, err := f.sup.Spawn(domain.Terminal, k, SpawnConfig{})
		require.NoError(t, err)
	}
	_, err := f.sup.Spawn(domain.FiveM, "1", SpawnConfig{Command: "/bin/sh"})
	require.NoError(t, err)

	var got []string
	for _, info := range f.sup.List() {
		got = append(got, info.Handle.String())
	}
	assert.Equal(t, []string{"fivem/1", "terminal/1", "terminal/2", "terminal/10"}, got)
	assert.Len(t, f.sup.Targets(), 4)
}
