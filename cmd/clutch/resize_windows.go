//go:build windows

package main

import "os"

// notifyResize is a no-op on Windows, which has no SIGWINCH.
func notifyResize() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal)
	return ch, func() { close(ch) }
}
