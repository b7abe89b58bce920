package tcp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Server accepts framed-TCP session connections. It is the counterpart of
// Client used by the cluster simulator and the transport tests; a real server
// node would embed the same listener.
type Server struct {
	bind   string
	tlsCfg *tls.Config
	pool   *codecPool

	mu  sync.Mutex
	lis net.Listener
}

// NewServer constructs a Server bound to bind ("host:port", ":0" for tests).
func NewServer(bind string) *Server {
	return &Server{bind: bind, pool: newCodecPool(0)}
}

// UseTLS enables TLS for accepted connections.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Start listens and invokes accept for every inbound connection. The accept
// callback should register Handle before returning. Stops when ctx ends or
// Stop is called.
func (s *Server) Start(ctx context.Context, accept func(transport.Connection)) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	if s.tlsCfg != nil {
		lis = tls.NewListener(lis, s.tlsCfg)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		for {
			sock, err := lis.Accept()
			if err != nil {
				return
			}
			remote := remoteAddress(sock)
			accept(newConn(sock, remote, s.pool))
		}
	}()
	return nil
}

// Addr returns the bound listener address, usable after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

// Stop closes the listener. Accepted connections are closed by their owners.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		err := s.lis.Close()
		s.lis = nil
		return err
	}
	return nil
}

func remoteAddress(sock net.Conn) transport.Address {
	if a, err := transport.ParseAddress(sock.RemoteAddr().String()); err == nil {
		return a
	}
	return transport.Address{}
}
