package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/loykin/ptyvisor"
	"github.com/loykin/ptyvisor/internal/domain"
)

// escapeByte (Ctrl-]) asks the attached process to stop gracefully.
const escapeByte = 0x1d

// terminalSink is the part of the core the input pump drives.
type terminalSink interface {
	Write(h ptyvisor.Handle, text string)
	Stop(h ptyvisor.Handle)
}

// runAttached supervises one process locally with the current terminal
// attached to it. The process's exit code is returned as an exitError.
func runAttached(f RunFlags) error {
	d, err := domain.Parse(f.Domain)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	// Keep log lines off the terminal the child is drawing on.
	cfg.Log.Level = "warn"
	log, closer, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	core, err := ptyvisor.New(ptyvisor.Options{Config: cfg, Logger: log})
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	sc := ptyvisor.SpawnConfig{Command: f.Cmd, WorkDir: f.WorkDir, Env: f.Env}
	interactive := term.IsTerminal(fd)
	if interactive {
		if w, h, err := term.GetSize(fd); err == nil {
			sc.Cols, sc.Rows = uint16(w), uint16(h)
		}
	}

	events, cancel := core.Subscribe()
	defer cancel()
	h, err := core.Start(context.Background(), d, f.Key, sc)
	if err != nil {
		return err
	}

	if interactive {
		state, err := term.MakeRaw(fd)
		if err != nil {
			core.Kill(h)
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		core.Stop(h)
	}()
	if interactive {
		watchResize(ctx, fd, func(cols, rows uint16) { core.Resize(h, cols, rows) })
	}
	go pumpInput(core, h, os.Stdin)

	code := relay(h, events, os.Stdout, os.Stderr)

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = core.Shutdown(sctx)
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// pumpInput forwards keystrokes until EOF or the escape byte.
func pumpInput(sink terminalSink, h ptyvisor.Handle, in io.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, escapeByte); i >= 0 {
				if i > 0 {
					sink.Write(h, string(chunk[:i]))
				}
				sink.Stop(h)
				return
			}
			sink.Write(h, string(chunk))
		}
		if err != nil {
			return
		}
	}
}

// relay copies h's output to out and its semantic events to errOut until
// the process exits. It returns the exit code, or -1 if events closed first.
func relay(h ptyvisor.Handle, events <-chan ptyvisor.Event, out, errOut io.Writer) int {
	for ev := range events {
		if ev.Handle != h {
			continue
		}
		switch ev.Kind {
		case ptyvisor.EventData:
			_, _ = io.WriteString(out, ev.Data)
		case ptyvisor.EventStatus:
			_, _ = fmt.Fprintf(errOut, "\r\n[%s] status: %s\r\n", h, ev.Status)
		case ptyvisor.EventCount:
			if ev.Max > 0 {
				_, _ = fmt.Fprintf(errOut, "\r\n[%s] players: %d/%d\r\n", h, ev.Count, ev.Max)
			} else {
				_, _ = fmt.Fprintf(errOut, "\r\n[%s] players: %d\r\n", h, ev.Count)
			}
		case ptyvisor.EventError:
			if ev.Error != nil {
				_, _ = fmt.Fprintf(errOut, "\r\n[%s] error: %s\r\n", h, ev.Error.Message)
			}
		case ptyvisor.EventExit:
			return ev.Code
		}
	}
	return -1
}
