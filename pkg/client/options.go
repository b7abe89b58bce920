package client

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/discovery"
	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Options carries dependency-injected components and runtime configuration
// used to assemble the client facade. Instances are typically produced from
// bootstrap.Config.
type Options struct {
	// Transport dials cluster members. Required.
	Transport transport.Client
	// Members is the set of known cluster members. Required unless
	// Discovery is set.
	Members []transport.Address
	// Discovery optionally provides the member set instead of Members.
	Discovery discovery.Discovery
	// Logger is used to report operational messages. Defaults to a no-op.
	Logger *zap.Logger

	// Session tuning; zero values pick the session defaults. These are
	// cluster configuration, exposed rather than hard-coded.
	RetryBudget       int
	RetryInterval     time.Duration
	KeepAliveInterval time.Duration
	SessionTimeout    time.Duration
	ConnectTimeout    time.Duration
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
	if o.Transport == nil {
		return errors.New("client: nil Transport")
	}
	if len(o.Members) == 0 && o.Discovery == nil {
		return errors.New("client: no members and no discovery")
	}
	return nil
}

func (o Options) memberSet() ([]transport.Address, error) {
	if len(o.Members) > 0 {
		return o.Members, nil
	}
	addrs, err := transport.ParseAddresses(o.Discovery.Members())
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.New("client: discovery returned no members")
	}
	return addrs, nil
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
