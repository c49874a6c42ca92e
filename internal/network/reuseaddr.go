package network

import "strings"

func isTCP(network string) bool {
	return strings.HasPrefix(network, "tcp")
}
