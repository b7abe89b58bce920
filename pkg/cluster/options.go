package cluster

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/state"
)

// Options assembles a simulated cluster. Leader must be one of Members.
type Options struct {
	// Leader is the member address that accepts commands; all other
	// members redirect leader-only traffic to it.
	Leader string
	// Members is the full cluster view advertised to sessions.
	Members []string
	// Machine is the replicated state machine commands apply to.
	Machine state.Machine
	// SessionTimeout is the server-side idle expiry for sessions.
	// Defaults to 15s.
	SessionTimeout time.Duration
	// Logger defaults to a no-op.
	Logger *zap.Logger
}

func (o Options) Validate() error {
	if o.Leader == "" {
		return errors.New("cluster: empty leader")
	}
	if len(o.Members) == 0 {
		return errors.New("cluster: no members")
	}
	found := false
	for _, m := range o.Members {
		if m == o.Leader {
			found = true
			break
		}
	}
	if !found {
		return errors.New("cluster: leader not in members")
	}
	if o.Machine == nil {
		return errors.New("cluster: nil machine")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
