// Package inmem provides an in-memory transport for tests and simulations.
// A Network hosts node handlers keyed by address; clients connect through
// paired pipe connections with the same asynchronous delivery semantics as the
// socket transports, without any real network.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Network is a process-local address space of fake cluster members.
type Network struct {
	mu    sync.Mutex
	nodes map[transport.Address]func(transport.Connection)
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[transport.Address]func(transport.Connection))}
}

// Listen registers accept as the handler for new connections to addr. The
// accept callback must register the connection's Handle before returning if it
// expects inbound messages.
func (n *Network) Listen(addr transport.Address, accept func(transport.Connection)) {
	n.mu.Lock()
	n.nodes[addr] = accept
	n.mu.Unlock()
}

// Unlisten removes the handler for addr; subsequent connects are refused.
func (n *Network) Unlisten(addr transport.Address) {
	n.mu.Lock()
	delete(n.nodes, addr)
	n.mu.Unlock()
}

// Client returns an independent transport client bound to this network.
func (n *Network) Client() transport.Client { return &client{net: n} }

type client struct {
	net    *Network
	mu     sync.Mutex
	closed bool
}

func (c *client) Connect(ctx context.Context, addr transport.Address) (transport.Connection, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("inmem: client closed")
	}
	c.net.mu.Lock()
	accept, ok := c.net.nodes[addr]
	c.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inmem: connection refused: %s", addr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, remote := Pipe(addr)
	accept(remote)
	return local, nil
}

// Close marks the client closed. Connections already handed out stay usable
// and are closed individually.
func (c *client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Pipe returns a connected pair of in-memory connections. Messages sent on one
// end are delivered asynchronously, in order, to the other end's handler.
func Pipe(target transport.Address) (local, remote transport.Connection) {
	a := newConn(target)
	b := newConn(target)
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

type conn struct {
	target transport.Address
	peer   *conn

	inbox chan transport.Message

	mu       sync.Mutex
	handler  func(transport.Message)
	ready    chan struct{} // closed once handler is set
	onClose  func(error)
	closeErr error
	closed   chan struct{}
	once     sync.Once
}

func newConn(target transport.Address) *conn {
	return &conn{
		target: target,
		inbox:  make(chan transport.Message, 256),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *conn) Target() transport.Address { return c.target }

func (c *conn) Send(msg transport.Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("inmem: connection closed")
	default:
	}
	select {
	case c.peer.inbox <- msg:
		return nil
	case <-c.peer.closed:
		return fmt.Errorf("inmem: connection closed")
	}
}

func (c *conn) Handle(fn func(transport.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == nil && fn != nil {
		c.handler = fn
		close(c.ready)
	}
}

func (c *conn) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *conn) Close() error { c.shutdown(nil, true); return nil }

// CloseWithError tears the pipe down as if the transport failed, delivering
// err to both ends' close callbacks. Intended for fault injection in tests.
func (c *conn) CloseWithError(err error) { c.shutdown(err, true) }

func (c *conn) shutdown(err error, both bool) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
	})
	if both && c.peer != nil {
		c.peer.shutdown(err, false)
	}
}

// pump delivers inbound messages to the handler one at a time, then fires the
// close callback. Delivery order matches send order.
func (c *conn) pump() {
	select {
	case <-c.ready:
	case <-c.closed:
		c.mu.Lock()
		fn, err := c.onClose, c.closeErr
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
		return
	}
	for {
		select {
		case m := <-c.inbox:
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			h(m)
		case <-c.closed:
			// drain nothing further; surface the close reason
			c.mu.Lock()
			fn, err := c.onClose, c.closeErr
			c.mu.Unlock()
			if fn != nil {
				fn(err)
			}
			return
		}
	}
}
