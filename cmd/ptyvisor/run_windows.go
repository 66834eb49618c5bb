//go:build windows

package main

import "context"

// watchResize is a no-op: the console has no resize signal.
func watchResize(ctx context.Context, fd int, resize func(cols, rows uint16)) {}
