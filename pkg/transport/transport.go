package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address identifies a cluster member by host and port. Immutable value.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string { return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a.Host == "" && a.Port == 0 }

// ParseAddress parses "host:port" into an Address.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("transport: bad address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("transport: bad port in %q", s)
	}
	return Address{Host: host, Port: port}, nil
}

// ParseAddresses parses a list of "host:port" strings, skipping empties.
func ParseAddresses(in []string) ([]Address, error) {
	out := make([]Address, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Client is a connection factory for one transport kind. Implementations are
// deliberately ignorant of session semantics (ordering, sequencing,
// consistency); they move Message envelopes and report connection lifecycle.
// Codec resources are owned per client instance and shared across the
// connections it creates.
type Client interface {
	// Connect opens a channel to addr. It does not retry; member selection
	// and retry policy belong to the session layer.
	Connect(ctx context.Context, addr Address) (Connection, error)

	// Close releases client-owned resources. Connections previously handed
	// out stay usable and are closed individually.
	Close() error
}

// Connection is a live channel to one member, exclusively owned by the client
// that created it. Send never blocks on network I/O; writes are queued and
// flushed by the connection's writer. Inbound messages and close notification
// arrive via the registered callbacks, each invoked from a single goroutine
// per connection.
type Connection interface {
	// Target returns the address this connection is bound to.
	Target() Address

	// Send queues msg for delivery. It fails only when the connection is
	// already closed or its write queue is full.
	Send(msg Message) error

	// Handle registers the inbound message callback. Must be set before
	// messages are expected; replacing it mid-stream is not supported.
	Handle(fn func(Message))

	// OnClose registers a callback fired exactly once when the connection
	// dies, with the causing error (nil on local Close).
	OnClose(fn func(error))

	Close() error
}
