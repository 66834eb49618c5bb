//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// drainTimeout bounds how long the reader may keep the master open after the
// leader exited. Orphaned descendants can hold the slave side indefinitely.
const drainTimeout = 500 * time.Millisecond

// PTYSpawner starts processes attached to a fresh pseudo-terminal. The child
// becomes a session leader, so its process group id equals its pid.
type PTYSpawner struct{}

func (PTYSpawner) Spawn(opts SpawnOptions) (Native, error) {
	// #nosec G204
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cols, rows := geometry(opts.Cols, opts.Rows)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	p := &ptyProcess{cmd: cmd, ptmx: ptmx, readDone: make(chan struct{})}
	go p.readLoop(opts.OnData)
	go p.waitLoop(opts.OnExit)
	return p, nil
}

type ptyProcess struct {
	cmd      *exec.Cmd
	ptmx     *os.File
	readDone chan struct{}

	mu     sync.Mutex
	closed bool

	// cbMu orders OnData against OnExit; no chunk is delivered after exit.
	cbMu   sync.Mutex
	exited bool
}

func (p *ptyProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	return p.ptmx.Write(b)
}

func (p *ptyProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *ptyProcess) readLoop(onData func([]byte)) {
	defer close(p.readDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.cbMu.Lock()
			if !p.exited {
				onData(chunk)
			}
			p.cbMu.Unlock()
		}
		if err != nil {
			// EIO once the slave side is gone; any error ends the stream.
			return
		}
	}
}

func (p *ptyProcess) waitLoop(onExit func(int)) {
	err := p.cmd.Wait()
	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
	}
	p.close()
	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
	}
	p.cbMu.Lock()
	p.exited = true
	p.cbMu.Unlock()
	if onExit != nil {
		onExit(exitCode(p.cmd, err))
	}
}

func (p *ptyProcess) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		_ = p.ptmx.Close()
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
