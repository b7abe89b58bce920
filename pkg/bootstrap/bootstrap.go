// Package bootstrap assembles a ready-to-use client from a config profile.
// Applications that do not need fine-grained control over transports and
// discovery call Build/Run instead of wiring pkg/client directly.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/client"
	"github.com/amirimatin/go-raftclient/pkg/config"
	"github.com/amirimatin/go-raftclient/pkg/discovery"
	ddns "github.com/amirimatin/go-raftclient/pkg/discovery/dns"
	dfile "github.com/amirimatin/go-raftclient/pkg/discovery/file"
	dstatic "github.com/amirimatin/go-raftclient/pkg/discovery/static"
	"github.com/amirimatin/go-raftclient/pkg/transport"
	tgrpc "github.com/amirimatin/go-raftclient/pkg/transport/grpc"
	ttcp "github.com/amirimatin/go-raftclient/pkg/transport/tcp"
)

// Build assembles a client from cfg without opening a session.
func Build(cfg config.Config, log *zap.Logger) (*client.Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	var cliTLS *tls.Config
	if cfg.TLS.Enable {
		c, err := cfg.TLS.ClientHotReload()
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		cliTLS = c
	}

	connectTimeout := cfg.Session.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 3 * time.Second
	}

	var tr transport.Client
	switch cfg.Transport {
	case config.TransportGRPC:
		c := tgrpc.NewClient(connectTimeout)
		if cliTLS != nil {
			c.UseTLS(cliTLS)
		}
		tr = c
	case config.TransportTCP:
		c := ttcp.NewClient(connectTimeout)
		if cliTLS != nil {
			c.UseTLS(cliTLS)
		}
		tr = c
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	var disc discovery.Discovery
	switch cfg.Discovery.Kind {
	case config.DiscoveryDNS:
		disc = ddns.New(ddns.Options{Names: []string{cfg.Discovery.Name}, Port: cfg.Discovery.Port})
	case config.DiscoveryFile:
		disc = dfile.New(dfile.Options{Path: cfg.Discovery.Path})
	default:
		seeds := make([]string, 0, len(cfg.Members))
		for _, m := range cfg.Members {
			seeds = append(seeds, m.String())
		}
		disc = dstatic.New(seeds...)
	}

	return client.New(client.Options{
		Transport:         tr,
		Members:           cfg.Members,
		Discovery:         disc,
		Logger:            log,
		RetryBudget:       cfg.Session.RetryBudget,
		RetryInterval:     cfg.Session.RetryInterval,
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		SessionTimeout:    cfg.Session.SessionTimeout,
		ConnectTimeout:    connectTimeout,
	})
}

// Run builds the client and opens its session. The caller owns the
// returned client and must Close it when finished.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger) (*client.Client, error) {
	cl, err := Build(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := cl.Open(ctx); err != nil {
		return nil, err
	}
	return cl, nil
}
