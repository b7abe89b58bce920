package grpc

import (
	"errors"
	"sync"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// grpcStream is the subset shared by grpc.ClientStream and grpc.ServerStream,
// letting one connection wrapper serve both halves.
type grpcStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

var errStreamClosed = errors.New("grpc: stream closed")

type streamConn struct {
	target transport.Address
	st     grpcStream
	out    chan transport.Message

	mu      sync.Mutex
	handler func(transport.Message)
	ready   chan struct{}
	onClose func(error)

	closed   chan struct{}
	once     sync.Once
	closeErr error
	cleanup  func(error)
}

func newStreamConn(target transport.Address, st grpcStream, cleanup func(error)) *streamConn {
	c := &streamConn{
		target:  target,
		st:      st,
		out:     make(chan transport.Message, 256),
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
		cleanup: cleanup,
	}
	go c.writer()
	go c.reader()
	return c
}

func (c *streamConn) Target() transport.Address { return c.target }

func (c *streamConn) Send(msg transport.Message) error {
	select {
	case <-c.closed:
		return errStreamClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return errStreamClosed
	default:
		return errors.New("grpc: write queue full")
	}
}

func (c *streamConn) Handle(fn func(transport.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == nil && fn != nil {
		c.handler = fn
		close(c.ready)
	}
}

func (c *streamConn) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *streamConn) Close() error {
	c.fail(nil)
	return nil
}

func (c *streamConn) fail(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.closed)
		if c.cleanup != nil {
			c.cleanup(err)
		}
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (c *streamConn) writer() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.out:
			if err := c.st.SendMsg(&msg); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *streamConn) reader() {
	for {
		var msg transport.Message
		if err := c.st.RecvMsg(&msg); err != nil {
			c.fail(err)
			return
		}
		select {
		case <-c.ready:
		case <-c.closed:
			return
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		h(msg)
	}
}

// Done exposes stream termination to the server handler, which must block
// until the connection ends.
func (c *streamConn) Done() <-chan struct{} { return c.closed }

var _ transport.Connection = (*streamConn)(nil)
