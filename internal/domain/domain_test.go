package domain

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, d := range All() {
		p, err := Lookup(d)
		require.NoError(t, err, d)
		assert.Equal(t, d, p.Domain)
		assert.NotEmpty(t, p.StopCommand)
	}
	_, err := Lookup("bogus")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestProfiles_GraceWindows(t *testing.T) {
	fivem, _ := Lookup(FiveM)
	mc, _ := Lookup(Minecraft)
	assert.Equal(t, 3*time.Second, fivem.Grace)
	assert.Equal(t, 5*time.Second, mc.Grace)
	assert.Equal(t, "quit\r", fivem.StopCommand)
	assert.Equal(t, "stop\r", mc.StopCommand)
	assert.True(t, fivem.TracksErrors)
	assert.False(t, mc.TracksErrors)

	term, _ := Lookup(Terminal)
	assert.True(t, term.Batched)
	auto, _ := Lookup(Automation)
	assert.True(t, auto.Hidden)
}

func TestParse(t *testing.T) {
	d, err := Parse(" FiveM ")
	require.NoError(t, err)
	assert.Equal(t, FiveM, d)
	_, err = Parse("quake")
	assert.Error(t, err)
}

func TestResolve_Terminal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell expected")
	}
	p, _ := Lookup(Terminal)
	path, args, err := p.Resolve("", nil, t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, []string{"-i"}, args)

	_, args, err = p.Resolve("ls -la | head", nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"-c", "ls -la | head"}, args)
}

func TestResolve_ServerPaths(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths expected")
	}
	dir := t.TempDir()
	run := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(run, []byte("#!/bin/sh\n"), 0o755))

	p, _ := Lookup(FiveM)
	path, args, err := p.Resolve("./run.sh +exec server.cfg", nil, dir)
	require.NoError(t, err)
	assert.Equal(t, run, path)
	assert.Equal(t, []string{"+exec", "server.cfg"}, args)

	path, args, err = p.Resolve(`C:\FX Server\FXServer.exe`, []string{"+exec", "server.cfg"}, dir)
	require.NoError(t, err)
	assert.Equal(t, `C:\FX Server\FXServer.exe`, path)
	assert.Equal(t, []string{"+exec", "server.cfg"}, args)

	_, _, err = p.Resolve("./missing.sh", nil, dir)
	assert.Error(t, err)

	_, _, err = p.Resolve("", nil, dir)
	assert.Error(t, err)

	path, args, err = p.Resolve(`sh -c 'echo ready'`, nil, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"-c", "echo ready"}, args)
	assert.Contains(t, path, "sh")
}
