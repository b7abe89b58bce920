// Package client exposes the application-visible consensus service facade:
// typed submission entry points over one session, plus ordered event
// subscription. All completion and event callbacks run on the session's
// single callback context, so application code observing ordering does not
// need to synchronize.
package client

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/observability/tracing"
	"github.com/amirimatin/go-raftclient/pkg/operation"
	"github.com/amirimatin/go-raftclient/pkg/session"
)

// Service is the high-level API for consumers.
type Service interface {
	Open(ctx context.Context) error
	Submit(op operation.Operation) (*session.Future, error)
	SubmitCommand(cmd *operation.Command) (*session.Future, error)
	SubmitQuery(q *operation.Query) (*session.Future, error)
	OnEvent(event string, cb func(payload []byte)) (*Listener, error)
	Close(ctx context.Context) error
}

// Client is the concrete implementation of Service. It owns exactly one
// session and a listener registry.
type Client struct {
	opts Options
	log  *zap.Logger
	reg  *registry

	mu   sync.RWMutex
	sess *session.Session
}

// New constructs a Client from validated options. It performs no network
// activity; call Open to establish the session.
func New(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	return &Client{opts: opts, log: opts.Logger, reg: newRegistry()}, nil
}

// Open establishes the cluster session. Idempotent while the session is
// alive.
func (c *Client) Open(ctx context.Context) error {
	ctx, end := tracing.StartSpan(ctx, "client.Open", tracing.Members(len(c.opts.Members)))
	defer end()
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return nil
	}
	members, err := c.opts.memberSet()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	sess, err := session.New(session.Options{
		Transport:         c.opts.Transport,
		Members:           members,
		Logger:            c.log,
		RetryBudget:       c.opts.RetryBudget,
		RetryInterval:     c.opts.RetryInterval,
		KeepAliveInterval: c.opts.KeepAliveInterval,
		SessionTimeout:    c.opts.SessionTimeout,
		ConnectTimeout:    c.opts.ConnectTimeout,
		OnEvent:           c.reg.dispatch,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sess = sess
	c.mu.Unlock()
	if err := sess.Open(ctx); err != nil {
		// Stop the session loop and release any connection dialed
		// during registration before dropping the reference.
		_ = sess.Close(context.Background())
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// Submit dispatches op on its runtime variant. The Operation sum type is
// closed over Command and Query, so the default arm is unreachable for
// well-formed callers; nil still fails synchronously with ErrNilArgument.
func (c *Client) Submit(op operation.Operation) (*session.Future, error) {
	if op == nil {
		return nil, ErrNilArgument
	}
	switch v := op.(type) {
	case *operation.Command:
		return c.SubmitCommand(v)
	case *operation.Query:
		return c.SubmitQuery(v)
	default:
		return nil, ErrInvalidOperation
	}
}

// SubmitCommand submits a state-mutating command, always routed to the
// cluster leader. The returned future resolves strictly after all
// earlier-submitted futures on this client.
func (c *Client) SubmitCommand(cmd *operation.Command) (*session.Future, error) {
	if cmd == nil {
		return nil, ErrNilArgument
	}
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	return sess.Submit(cmd), nil
}

// SubmitQuery submits a read-only query, routed per its consistency level.
func (c *Client) SubmitQuery(q *operation.Query) (*session.Future, error) {
	if q == nil {
		return nil, ErrNilArgument
	}
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	return sess.Submit(q), nil
}

// OnEvent registers cb for events named event. Callbacks run on the session
// callback context, in strict event-index order, never concurrently with each
// other or with completion callbacks. Registration works before Open; events
// only flow once the session is established.
func (c *Client) OnEvent(event string, cb func(payload []byte)) (*Listener, error) {
	if event == "" || cb == nil {
		return nil, ErrNilArgument
	}
	return c.reg.add(event, cb), nil
}

// State reports the session lifecycle phase.
func (c *Client) State() session.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return session.StateNew
	}
	return c.sess.State()
}

// Close shuts the session down and releases the transport. Pending
// submissions fail with ErrSessionClosed.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	var id uint64
	if sess != nil {
		id = sess.ID()
	}
	ctx, end := tracing.StartSpan(ctx, "client.Close", tracing.SessionID(id))
	defer end()
	var errs *multierror.Error
	if sess != nil {
		errs = multierror.Append(errs, sess.Close(ctx))
	}
	errs = multierror.Append(errs, c.opts.Transport.Close())
	return errs.ErrorOrNil()
}

func (c *Client) session() (*session.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, ErrNotOpen
	}
	return c.sess, nil
}

var _ Service = (*Client)(nil)
