// Package grpc implements the session transport over a gRPC bidirectional
// stream with a JSON codec (no protobuf codegen). Physical connections are
// cached per member by a ConnManager; each logical session connection is one
// stream on top of them.
package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

const streamMethod = "/raftclient.v1.Session/Stream"

// Client dials session streams to cluster members.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config

	mu     sync.Mutex
	cm     *ConnManager
	closed bool
}

// NewClient constructs a Client with the given dial timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	// Use JSON codec and set content subtype accordingly.
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithBlock(),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, target, opts...)
}

// Connect opens a session stream to addr. The stream outlives ctx; ctx only
// bounds dialing and stream setup.
func (c *Client) Connect(ctx context.Context, addr transport.Address) (transport.Connection, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("grpc: client closed")
	}
	if c.cm == nil {
		c.cm = NewConnManager(30*time.Second, c.dialCtx)
	}
	cm := c.cm
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, release, err := cm.Get(dctx, addr.String())
	if err != nil {
		return nil, err
	}

	sctx, scancel := context.WithCancel(context.Background())
	sd := &grpc.StreamDesc{StreamName: "Stream", ClientStreams: true, ServerStreams: true}
	cs, err := cc.NewStream(sctx, sd, streamMethod)
	if err != nil {
		scancel()
		release()
		return nil, err
	}
	return newStreamConn(addr, cs, func(err error) {
		scancel()
		release()
	}), nil
}

// Close releases cached connections. Streams already handed out fail as their
// underlying connections close.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cm != nil {
		c.cm.Close()
		c.cm = nil
	}
	return nil
}

var _ transport.Client = (*Client)(nil)
