package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/ptyvisor"
	"github.com/loykin/ptyvisor/internal/config"
)

// embedded_transcripts: run a short shell command and show where its raw
// terminal output was recorded.
func main() {
	dir := os.Getenv("PTYVISOR_TRANSCRIPT_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("ptyvisor-transcripts-%d", time.Now().UnixNano()))
	}
	_ = os.MkdirAll(dir, 0o750)

	cfg := config.Default()
	cfg.Log.File.TranscriptDir = dir
	core, err := ptyvisor.New(ptyvisor.Options{Config: &cfg})
	if err != nil {
		panic(err)
	}

	events, cancel := core.Subscribe()
	defer cancel()
	h, err := core.Start(context.Background(), ptyvisor.Terminal, "demo", ptyvisor.SpawnConfig{
		Command: "echo hello-out; echo hello-err 1>&2",
	})
	if err != nil {
		panic(err)
	}

	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Handle == h && ev.Kind == ptyvisor.EventExit {
				fmt.Println("exit code:", ev.Code)
				done = true
			}
		case <-timeout:
			core.Kill(h)
			done = true
		}
	}

	fmt.Println("Embedded transcript example")
	fmt.Println("  Transcript directory:", dir)
	fmt.Println("  Transcript:", filepath.Join(dir, "terminal-demo.log"))
	fmt.Println("Tip: set PTYVISOR_TRANSCRIPT_DIR to choose a custom directory.")
}
