//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// watchResize forwards SIGWINCH geometry changes until ctx is done.
func watchResize(ctx context.Context, fd int, resize func(cols, rows uint16)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if w, h, err := term.GetSize(fd); err == nil {
					resize(uint16(w), uint16(h))
				}
			}
		}
	}()
}
