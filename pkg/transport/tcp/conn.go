package tcp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// maxFrameSize bounds a single message frame; larger frames are treated as a
// protocol failure and close the connection.
const maxFrameSize = 8 << 20

var errClosed = errors.New("tcp: connection closed")

type conn struct {
	target transport.Address
	sock   net.Conn
	pool   *codecPool
	out    chan transport.Message

	mu      sync.Mutex
	handler func(transport.Message)
	ready   chan struct{}
	onClose func(error)

	closed   chan struct{}
	once     sync.Once
	closeErr error
}

func newConn(sock net.Conn, target transport.Address, pool *codecPool) *conn {
	c := &conn{
		target: target,
		sock:   sock,
		pool:   pool,
		out:    make(chan transport.Message, 256),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go c.writer()
	go c.reader()
	return c
}

func (c *conn) Target() transport.Address { return c.target }

func (c *conn) Send(msg transport.Message) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return errClosed
	default:
		return errors.New("tcp: write queue full")
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

func (c *conn) Close() error {
	c.fail(nil)
	return nil
}

// fail tears the connection down once and fires the close callback with the
// original cause.
func (c *conn) fail(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.closed)
		_ = c.sock.Close()
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (c *conn) writer() {
	bw := bufio.NewWriter(c.sock)
	var lenBuf [4]byte
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.out:
			wc := c.pool.get()
			frame, err := wc.encode(&msg)
			if err != nil {
				err = fmt.Errorf("tcp: encode: %w", err)
			} else {
				binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
				_, err = bw.Write(lenBuf[:])
				if err == nil {
					_, err = bw.Write(frame)
				}
				// flush when the queue drains to batch bursts
				if err == nil && len(c.out) == 0 {
					err = bw.Flush()
				}
			}
			c.pool.put(wc)
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *conn) reader() {
	br := bufio.NewReader(c.sock)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			c.fail(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > maxFrameSize {
			c.fail(fmt.Errorf("tcp: bad frame size %d", n))
			return
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(br, frame); err != nil {
			c.fail(err)
			return
		}
		var msg transport.Message
		wc := c.pool.get()
		err := wc.decode(frame, &msg)
		c.pool.put(wc)
		if err != nil {
			// malformed payload is a connection failure, never ignored
			c.fail(fmt.Errorf("tcp: decode: %w", err))
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

var _ transport.Connection = (*conn)(nil)
