package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Server accepts session streams. It is the counterpart of Client used by the
// cluster simulator and the integration tests; a real server node would embed
// the same service.
type Server struct {
	bind   string
	tlsCfg *tls.Config

	mu  sync.Mutex
	lis net.Listener
	srv *grpc.Server
}

// NewServer constructs a Server bound to bind.
func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// sessionServer defines the service surface we expose.
type sessionServer interface {
	Stream(stream grpc.ServerStream) error
}

type sessionImpl struct {
	accept func(transport.Connection)
}

func (x *sessionImpl) Stream(stream grpc.ServerStream) error {
	remote := transport.Address{}
	conn := newStreamConn(remote, stream, nil)
	x.accept(conn)
	select {
	case <-conn.Done():
	case <-stream.Context().Done():
		conn.fail(stream.Context().Err())
	}
	return nil
}

// Service descriptor and handler (hand-written, no codegen required)
var _Session_serviceDesc = grpc.ServiceDesc{
	ServiceName: "raftclient.v1.Session",
	HandlerType: (*sessionServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		ServerStreams: true,
		ClientStreams: true,
		Handler:       _Session_Stream_Handler,
	}},
}

func _Session_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(sessionServer).Stream(stream)
}

// Start listens and invokes accept for every inbound session stream. The
// accept callback should register Handle before returning.
func (s *Server) Start(ctx context.Context, accept func(transport.Connection)) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	// Force JSON codec to avoid requiring protobuf types
	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	// keepalive settings for long-lived streams
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.mu.Lock()
	s.lis = lis
	s.srv = srv
	s.mu.Unlock()

	// Health service (always serving for now)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	srv.RegisterService(&_Session_serviceDesc, &sessionImpl{accept: accept})

	go func() {
		<-ctx.Done()
		// Graceful stop with a small timeout fallback
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
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

// Stop shuts the server down, gracefully while ctx allows.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, lis := s.srv, s.lis
	s.srv, s.lis = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		srv.Stop()
	}
	if lis != nil {
		_ = lis.Close()
	}
	return nil
}
