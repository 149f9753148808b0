//go:build !windows

package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"time"
)

func listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		removeStaleSocket(address)
	}
	return net.Listen(network, address)
}

// removeStaleSocket deletes a socket file left behind by a server that did
// not shut down cleanly. A socket that still answers is left alone.
func removeStaleSocket(path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("Failed to remove stale socket", "path", path, "error", err)
	}
}
