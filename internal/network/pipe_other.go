//go:build !windows

package network

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Named pipes outside Windows are Unix sockets in the temp directory, named
// the way .NET runtimes name them so those peers can connect too.
const pipePrefix = "CoreFxPipe_"

// PipePath returns the socket path backing a named pipe.
func PipePath(name string) string {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	return filepath.Join(os.TempDir(), pipePrefix+name)
}

func dialPipe(ctx context.Context, name string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", PipePath(name))
}

func listenPipe(name string) (net.Listener, error) {
	path := PipePath(name)
	removeStaleSocket(path)
	return net.Listen("unix", path)
}
