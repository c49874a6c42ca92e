package network

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
)

// Transport kinds.
const (
	KindTCP  = "tcp"
	KindUnix = "unix"
	KindPipe = "pipe"
)

// Kinds lists the supported transport kinds.
var Kinds = []string{KindTCP, KindUnix, KindPipe}

// ValidKind reports whether kind names a supported transport.
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Dial connects to a zily peer. For pipes, address is the pipe name.
func Dial(ctx context.Context, kind, address string) (*Connection, error) {
	var (
		conn net.Conn
		err  error
	)

	switch kind {
	case KindTCP, KindUnix:
		var d net.Dialer
		conn, err = d.DialContext(ctx, kind, address)
	case KindPipe:
		conn, err = dialPipe(ctx, address)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", kind, address, err)
	}

	return NewConnection(conn), nil
}

// Listen binds a listener for zily peers. TCP listeners set SO_REUSEADDR;
// a stale Unix socket file left by a previous process is removed first.
func Listen(ctx context.Context, kind, address string) (net.Listener, error) {
	var (
		l   net.Listener
		err error
	)

	switch kind {
	case KindTCP:
		lc := ReuseAddrListenConfig()
		l, err = lc.Listen(ctx, "tcp", address)
	case KindUnix:
		removeStaleSocket(address)
		var lc net.ListenConfig
		l, err = lc.Listen(ctx, "unix", address)
	case KindPipe:
		l, err = listenPipe(address)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", kind, address, err)
	}

	return l, nil
}

func removeStaleSocket(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode()&os.ModeSocket == 0 {
		return
	}
	// Only remove it if nobody answers on it.
	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return
	}
	_ = os.Remove(path)
}
