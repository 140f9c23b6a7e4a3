package milter

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Dialer is the interface of the only method we use of a net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func defaultDialer() Dialer {
	return &net.Dialer{}
}

// parseEndpoint splits a filter endpoint of the form transport:address.
// The transport is "inet" (address is host:port), "unix" or "local"
// (address is a socket path).
func parseEndpoint(endpoint string) (network, address string, err error) {
	transport, address, ok := strings.Cut(endpoint, ":")
	if !ok || transport == "" || address == "" {
		return "", "", fmt.Errorf("milter service needs transport:endpoint instead of %q", endpoint)
	}
	switch transport {
	case "inet":
		return "tcp", address, nil
	case "unix", "local":
		return "unix", address, nil
	}
	return "", "", fmt.Errorf("invalid transport name: %s in milter service: %s", transport, endpoint)
}
