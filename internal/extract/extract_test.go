package extract

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ptyvisor/internal/domain"
)

func TestStrip(t *testing.T) {
	in := "\x1b[32mDone\x1b[0m\r\n\x1b]0;title\x07next\rline\x07\tend"
	assert.Equal(t, "Done\nnext\nline\tend", Strip(in))
	assert.Equal(t, "plain", Strip("plain"))
}

func kinds(evs []Event) []Kind {
	out := make([]Kind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func TestTracker_MinecraftReadyAndCounts(t *testing.T) {
	tr := NewTracker(domain.Minecraft)
	evs := tr.Started()
	require.Len(t, evs, 1)
	assert.Equal(t, StatusStarting, evs[0].Status)

	evs = tr.Feed("[12:00:01 INFO]: Preparing spawn area\n[12:00:03 INFO]: Done (3.512s)! For help, type \"help\"\n")
	require.Equal(t, []Kind{KindStatus}, kinds(evs))
	assert.Equal(t, StatusRunning, tr.Status())

	tr.Feed("[12:01:00 INFO]: Steve joined the game\n")
	tr.Feed("[12:01:05 INFO]: Alex joined the game\n")
	assert.Equal(t, 2, tr.Count())

	evs = tr.Feed("[12:02:00 INFO]: There are 5 of a max of 20 players online: a, b\n")
	require.Len(t, evs, 1)
	assert.Equal(t, 5, evs[0].Count)
	assert.Equal(t, 20, evs[0].Max)
	assert.Equal(t, 5, tr.Count())

	tr.Feed("[12:03:00 INFO]: Steve left the game\n")
	assert.Equal(t, 4, tr.Count())

	evs = tr.Exited()
	assert.Equal(t, []Kind{KindStatus, KindCount}, kinds(evs))
	assert.Equal(t, StatusStopped, tr.Status())
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_CountNeverNegative(t *testing.T) {
	tr := NewTracker(domain.Minecraft)
	evs := tr.Feed("Steve left the game\nAlex left the game\n")
	assert.Empty(t, evs)
	assert.Equal(t, 0, tr.Count())

	tr.Feed("Steve joined the game\n")
	tr.Feed("Steve left the game\nSteve left the game\n")
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_PartialLinesCarry(t *testing.T) {
	tr := NewTracker(domain.Minecraft)
	assert.Empty(t, tr.Feed("[INFO]: Done (1.0s)! For "))
	evs := tr.Feed("help, type \"help\"\r\n")
	require.Len(t, evs, 1)
	assert.Equal(t, StatusRunning, evs[0].Status)
}

func TestTracker_ColoredMarkers(t *testing.T) {
	tr := NewTracker(domain.Minecraft)
	evs := tr.Feed("\x1b[0;32m[INFO]: \x1b[1mNotch\x1b[0m joined the game\x1b[0m\n")
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Count)
}

func TestTracker_FiveMErrors(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := NewTracker(domain.FiveM).WithClock(func() time.Time { return at })

	evs := tr.Feed("[ resources] Started resource spawnmanager\n" +
		"[ script:qb-core] \x1b[31mSCRIPT ERROR: @qb-core/server/main.lua:12: attempt to index a nil value (field 'PlayerData')\x1b[0m\n")
	require.Equal(t, []Kind{KindError}, kinds(evs))
	rec := evs[0].Error
	assert.Equal(t, at, rec.Timestamp)
	assert.Contains(t, rec.Message, "SCRIPT ERROR")
	assert.Contains(t, rec.Context, "Started resource spawnmanager")

	last, ok := tr.Errors().Last()
	require.True(t, ok)
	assert.Equal(t, rec.Message, last.Message)
}

func TestTracker_ErrorContextIncludesFollowingLines(t *testing.T) {
	tr := NewTracker(domain.FiveM)
	evs := tr.Feed("before\nSCRIPT ERROR: boom\n")
	require.Equal(t, []Kind{KindError}, kinds(evs))
	tr.Feed("> handler (@res/main.lua:3)\n")
	tr.Feed("> fn (@res/main.lua:9)\nunrelated later line\n")

	last, ok := tr.Errors().Last()
	require.True(t, ok)
	assert.Equal(t, "before\nSCRIPT ERROR: boom\n> handler (@res/main.lua:3)\n> fn (@res/main.lua:9)", last.Context)
	recent := tr.Errors().Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, last.Context, recent[0].Context)
}

func TestErrorLog_AppendContextAfterDismiss(t *testing.T) {
	var l ErrorLog
	seq := l.Add(ErrorRecord{Message: "m", Context: "m"})
	l.Dismiss()
	l.AppendContext(seq, "next")
	_, ok := l.Last()
	assert.False(t, ok)
	assert.Equal(t, "m\nnext", l.Recent()[0].Context)
	l.AppendContext(seq+1, "ignored")
	assert.Equal(t, "m\nnext", l.Recent()[0].Context)
}

func TestTracker_NoRulesDomain(t *testing.T) {
	tr := NewTracker(domain.Terminal)
	assert.Nil(t, tr.Feed("SCRIPT ERROR joined the game\n"))
	assert.Equal(t, 0, tr.Errors().Len())
}

func TestErrorLog_RingAndDismiss(t *testing.T) {
	var l ErrorLog
	for i := 0; i < 15; i++ {
		l.Add(ErrorRecord{Message: fmt.Sprintf("e%d", i)})
		assert.LessOrEqual(t, l.Len(), MaxErrors)
	}
	recent := l.Recent()
	require.Len(t, recent, MaxErrors)
	assert.Equal(t, "e5", recent[0].Message)
	assert.Equal(t, "e14", recent[MaxErrors-1].Message)

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "e14", last.Message)

	l.Dismiss()
	_, ok = l.Last()
	assert.False(t, ok)
	assert.Len(t, l.Recent(), MaxErrors)
}

func TestErrorLog_LastSurvivesEviction(t *testing.T) {
	var l ErrorLog
	l.Add(ErrorRecord{Message: "first"})
	last, _ := l.Last()
	assert.Equal(t, "first", last.Message)
	// Only dismissal clears it; new entries replace it with the newest.
	for i := 0; i < MaxErrors; i++ {
		l.Add(ErrorRecord{Message: "later"})
	}
	_, ok := l.Last()
	assert.True(t, ok)
}

func TestRulesFor(t *testing.T) {
	assert.NotNil(t, RulesFor(domain.Minecraft))
	assert.NotNil(t, RulesFor(domain.FiveM))
	assert.Nil(t, RulesFor(domain.Terminal))
	assert.Nil(t, RulesFor(domain.Automation))
}
