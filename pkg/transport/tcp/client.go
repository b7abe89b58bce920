// Package tcp implements the session transport over framed TCP. Messages are
// msgpack-encoded and length-prefixed; encoder/decoder pairs are checked out
// of a bounded pool shared across all connections of one Client.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Client dials framed-TCP connections to cluster members.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
	pool    *codecPool

	mu     sync.Mutex
	closed bool
}

// NewClient constructs a Client with the given dial timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout, pool: newCodecPool(0)}
}

// UseTLS sets the TLS config used for outbound connections.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

// Connect dials addr. No retries; connection selection policy lives in the
// session layer.
func (c *Client) Connect(ctx context.Context, addr transport.Address) (transport.Connection, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.New("tcp: client closed")
	}
	d := &net.Dialer{Timeout: c.timeout}
	sock, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}
	if c.tlsCfg != nil {
		tc := tls.Client(sock, c.tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = sock.Close()
			return nil, err
		}
		sock = tc
	}
	return newConn(sock, addr, c.pool), nil
}

// Close releases client resources. Open connections are unaffected; the codec
// pool stays valid for connections still using it.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

var _ transport.Client = (*Client)(nil)
