// Package cluster implements an in-process simulated consensus cluster
// serving the client session protocol. It exists for development, demos and
// tests: one member acts as leader and applies commands to a state.Machine,
// the others redirect leader-only traffic. It is not a consensus
// implementation; all members share one state instance.
package cluster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/state"
	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Cluster holds the shared state of the simulation: the state machine,
// registered sessions, and the event log position.
type Cluster struct {
	opts    Options
	log     *zap.Logger
	machine state.Machine

	mu        sync.Mutex
	sessions  map[uint64]*sessionState
	nextSess  uint64
	nextIndex uint64 // next event index to assign; first event gets 1
}

type sessionState struct {
	id       uint64
	conn     transport.Connection
	lastSeq  uint64
	lastRes  []byte
	lastErr  string
	lastSeen time.Time
}

// New constructs a simulated cluster from validated options.
func New(opts Options) (*Cluster, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	return &Cluster{
		opts:      opts,
		log:       opts.Logger,
		machine:   opts.Machine,
		sessions:  make(map[uint64]*sessionState),
		nextIndex: 1,
	}, nil
}

// Node returns the protocol handler for one member address. Its Accept
// method plugs into a transport server's accept callback.
func (c *Cluster) Node(addr string) *Node {
	return &Node{addr: addr, cl: c, log: c.log.With(zap.String("node", addr))}
}

// SweepExpired drops sessions that stopped sending keep-alives. It blocks
// until ctx is done and is meant to run in its own goroutine.
func (c *Cluster) SweepExpired(ctx context.Context) {
	t := time.NewTicker(c.opts.SessionTimeout / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			for id, s := range c.sessions {
				if time.Since(s.lastSeen) > c.opts.SessionTimeout {
					delete(c.sessions, id)
					c.log.Info("session expired", zap.Uint64("session", id))
				}
			}
			c.mu.Unlock()
		}
	}
}

// DropSession forcibly forgets a session, as if it expired server-side.
// Subsequent requests on it are answered with StatusUnknownSession.
func (c *Cluster) DropSession(id uint64) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Sessions reports the ids of currently registered sessions.
func (c *Cluster) Sessions() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// publish pushes an event to every registered session. Caller holds c.mu.
func (c *Cluster) publish(event string, payload []byte) {
	index := c.nextIndex
	c.nextIndex++
	for _, s := range c.sessions {
		if s.conn == nil {
			continue
		}
		m := transport.Message{
			Type:    transport.TypeEvent,
			Session: s.id,
			Index:   index,
			Event:   event,
			Payload: payload,
		}
		if err := s.conn.Send(m); err != nil {
			c.log.Warn("event send failed", zap.Uint64("session", s.id), zap.Error(err))
		}
	}
}

// Publish broadcasts an out-of-band event to all sessions, for tests and
// demos that need server-pushed events without a command.
func (c *Cluster) Publish(event string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(event, payload)
}
