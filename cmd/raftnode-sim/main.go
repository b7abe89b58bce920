// raftnode-sim runs a single-process simulated cluster for developing and
// demoing the client without a real consensus deployment. One node acts as
// leader and applies commands to an in-memory key/value store; the others
// redirect leader-only traffic. State change events are pushed to every
// registered session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/cluster"
	"github.com/amirimatin/go-raftclient/internal/logutil"
	"github.com/amirimatin/go-raftclient/pkg/state/kv"
	"github.com/amirimatin/go-raftclient/pkg/transport"
	tgrpc "github.com/amirimatin/go-raftclient/pkg/transport/grpc"
	ttcp "github.com/amirimatin/go-raftclient/pkg/transport/tcp"
)

type server interface {
	Start(ctx context.Context, accept func(transport.Connection)) error
	Addr() string
	Stop(ctx context.Context) error
}

func main() {
	var (
		nodes    = flag.Int("nodes", 3, "number of simulated members")
		host     = flag.String("host", "127.0.0.1", "bind host")
		basePort = flag.Int("base-port", 5821, "first member port; member i listens on base-port+i")
		trans    = flag.String("transport", "tcp", "transport: tcp|grpc")
		timeout  = flag.Duration("session-timeout", 15*time.Second, "server-side session expiry")
	)
	flag.Parse()

	log := logutil.New(true)
	defer log.Sync()

	if *nodes < 1 {
		log.Fatal("need at least one node")
	}

	ctx, cancel := signalContext()
	defer cancel()

	members := make([]string, *nodes)
	for i := range members {
		members[i] = fmt.Sprintf("%s:%d", *host, *basePort+i)
	}
	cl, err := cluster.New(cluster.Options{
		Leader:         members[0],
		Members:        members,
		Machine:        kv.New(),
		SessionTimeout: *timeout,
		Logger:         log,
	})
	if err != nil {
		log.Fatal("cluster setup failed", zap.Error(err))
	}

	servers := make([]server, 0, *nodes)
	for i, addr := range members {
		var srv server
		switch *trans {
		case "grpc":
			srv = tgrpc.NewServer(addr)
		default:
			srv = ttcp.NewServer(addr)
		}
		if err := srv.Start(ctx, cl.Node(addr).Accept); err != nil {
			log.Fatal("start failed", zap.String("addr", addr), zap.Error(err))
		}
		servers = append(servers, srv)
		role := "follower"
		if i == 0 {
			role = "leader"
		}
		log.Info("member up", zap.String("addr", addr), zap.String("role", role))
	}

	go cl.SweepExpired(ctx)

	fmt.Printf("simulated cluster running on %v (%s). Press Ctrl+C to exit.\n", members, *trans)
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	for _, srv := range servers {
		_ = srv.Stop(stopCtx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
