// Package cli provides cobra subcommands for interacting with a cluster
// from the shell: submit commands, run queries, and watch event streams.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/bootstrap"
	"github.com/amirimatin/go-raftclient/pkg/config"
	"github.com/amirimatin/go-raftclient/internal/logutil"
	"github.com/amirimatin/go-raftclient/pkg/observability/tracing"
	"github.com/amirimatin/go-raftclient/pkg/operation"
	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// AddAll attaches client subcommands (submit/query/watch/status) to the
// provided root command.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewSubmitCmd())
	root.AddCommand(NewQueryCmd())
	root.AddCommand(NewWatchCmd())
	root.AddCommand(NewStatusCmd())
}

// NewClientCommand returns a parent command "client" containing
// submit/query/watch/status as subcommands.
func NewClientCommand() *cobra.Command {
	parent := &cobra.Command{Use: "client", Short: "cluster client commands"}
	AddAll(parent)
	return parent
}

// connFlags is the flag set shared by every subcommand: either a TOML
// profile via --config, or inline members/transport/TLS flags.
type connFlags struct {
	configPath string
	membersCSV string
	trans      string
	timeout    time.Duration

	tlsEnable, tlsSkip                    bool
	tlsCA, tlsCert, tlsKey, tlsServerName string

	traceEnable bool
	verbose     bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to TOML client profile (overrides inline flags)")
	cmd.Flags().StringVar(&f.membersCSV, "members", "127.0.0.1:5821", "comma-separated cluster members (host:port)")
	cmd.Flags().StringVar(&f.trans, "transport", "tcp", "transport: tcp|grpc")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "overall operation timeout")
	cmd.Flags().BoolVar(&f.tlsEnable, "tls-enable", false, "enable TLS towards the cluster")
	cmd.Flags().StringVar(&f.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
	cmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "path to client private key (PEM)")
	cmd.Flags().BoolVar(&f.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
	cmd.Flags().BoolVar(&f.traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "log session activity to stderr")
}

func (f *connFlags) load() (config.Config, error) {
	if f.configPath != "" {
		return config.Load(f.configPath)
	}
	cfg := config.Default()
	cfg.Transport = strings.ToLower(strings.TrimSpace(f.trans))
	members, err := transport.ParseAddresses(strings.Split(f.membersCSV, ","))
	if err != nil {
		return config.Config{}, fmt.Errorf("parse members: %w", err)
	}
	cfg.Members = members
	cfg.TLS.Enable = f.tlsEnable
	cfg.TLS.CAFile = f.tlsCA
	cfg.TLS.CertFile = f.tlsCert
	cfg.TLS.KeyFile = f.tlsKey
	cfg.TLS.InsecureSkipVerify = f.tlsSkip
	cfg.TLS.ServerName = f.tlsServerName
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (f *connFlags) logger() *zap.Logger {
	return logutil.New(f.verbose)
}

// NewSubmitCmd returns the "submit" command used to apply a state-mutating
// command through the leader.
func NewSubmitCmd() *cobra.Command {
	var (
		flags   connFlags
		name    string
		payload string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a command to the cluster and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("missing --name")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if flags.traceEnable {
				shutdown, err := tracing.Setup(true)
				if err == nil {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
			defer cancel()
			cl, err := bootstrap.Run(ctx, cfg, flags.logger())
			if err != nil {
				return err
			}
			defer cl.Close(context.Background())

			fut, err := cl.SubmitCommand(operation.NewCommand(name, []byte(payload)))
			if err != nil {
				return err
			}
			result, err := fut.Wait(ctx)
			if err != nil {
				return fmt.Errorf("submit error: %w", err)
			}
			writeResult(result)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "command name (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "command payload (raw bytes)")
	return cmd
}

// NewQueryCmd returns the "query" command used to run a read-only query at
// a chosen consistency level.
func NewQueryCmd() *cobra.Command {
	var (
		flags   connFlags
		name    string
		payload string
		level   string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a read-only query and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("missing --name")
			}
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
			defer cancel()
			cl, err := bootstrap.Run(ctx, cfg, flags.logger())
			if err != nil {
				return err
			}
			defer cl.Close(context.Background())

			fut, err := cl.SubmitQuery(operation.NewQuery(name, []byte(payload), lvl))
			if err != nil {
				return err
			}
			result, err := fut.Wait(ctx)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			writeResult(result)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "query name (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "query payload (raw bytes)")
	cmd.Flags().StringVar(&level, "level", "linearizable", "consistency: sequential|bounded|linearizable")
	return cmd
}

// NewWatchCmd returns the "watch" command which subscribes to a session
// event stream and prints each event until interrupted.
func NewWatchCmd() *cobra.Command {
	var (
		flags connFlags
		event string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to session events and print them as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if event == "" {
				return fmt.Errorf("missing --event")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			openCtx, openCancel := context.WithTimeout(ctx, flags.timeout)
			cl, err := bootstrap.Run(openCtx, cfg, flags.logger())
			openCancel()
			if err != nil {
				return err
			}
			defer cl.Close(context.Background())

			listener, err := cl.OnEvent(event, func(payload []byte) {
				writeResult(payload)
			})
			if err != nil {
				return err
			}
			defer listener.Cancel()

			fmt.Fprintf(os.Stderr, "watching %q. Press Ctrl+C to exit.\n", event)
			<-ctx.Done()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&event, "event", "", "event name to watch (required)")
	return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	var flags connFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Open a session and print connection status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
			defer cancel()
			cl, err := bootstrap.Run(ctx, cfg, flags.logger())
			if err != nil {
				return err
			}
			defer cl.Close(context.Background())

			members := make([]string, 0, len(cfg.Members))
			for _, m := range cfg.Members {
				members = append(members, m.String())
			}
			out := map[string]any{
				"state":     cl.State().String(),
				"transport": cfg.Transport,
				"members":   members,
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		},
	}
	flags.register(cmd)
	return cmd
}

func parseLevel(s string) (operation.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential":
		return operation.Sequential, nil
	case "bounded", "bounded-linearizable":
		return operation.BoundedLinearizable, nil
	case "linearizable", "":
		return operation.Linearizable, nil
	default:
		return 0, fmt.Errorf("unknown consistency level %q", s)
	}
}

func writeResult(data []byte) {
	os.Stdout.Write(data)
	if len(data) == 0 || data[len(data)-1] != '\n' {
		os.Stdout.Write([]byte("\n"))
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
