// Package session implements the ordered, retry-aware conduit between an
// application and one logical cluster session. It assigns sequence numbers,
// tracks in-flight submissions, routes requests relative to leadership and
// consistency, and demultiplexes server-pushed events.
//
// All session state is owned by a single run-loop goroutine; completion and
// event callbacks execute there, so no two callbacks from the same session
// ever run concurrently and the application observes strict program order.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	obsmetrics "github.com/amirimatin/go-raftclient/pkg/observability/metrics"
	"github.com/amirimatin/go-raftclient/pkg/operation"
	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateNew State = iota
	StateOpen
	StateExpired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpen:
		return "open"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options carries the injected transport and runtime tuning for a Session.
// Retry and timeout knobs are cluster configuration and deliberately have no
// hard-coded protocol meaning beyond their defaults.
type Options struct {
	// Transport dials cluster members. Required.
	Transport transport.Client
	// Members is the initial set of known cluster members. Required,
	// non-empty. The set is refreshed from register/keep-alive replies.
	Members []transport.Address
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// RetryBudget bounds per-submission re-sends (redirects and transport
	// failures combined). Default 8.
	RetryBudget int
	// RetryInterval delays re-sends after a transport failure. Default 100ms.
	RetryInterval time.Duration
	// KeepAliveInterval is the keep-alive period. Default 1s.
	KeepAliveInterval time.Duration
	// SessionTimeout expires the session when no server contact succeeds
	// within it. Default 10s.
	SessionTimeout time.Duration
	// ConnectTimeout bounds one connection attempt. Default 3s.
	ConnectTimeout time.Duration

	// OnEvent receives server-pushed events in strict index order on the
	// session callback context. Optional.
	OnEvent func(event string, payload []byte)
}

// Validate checks required fields without starting any network activity.
func (o Options) Validate() error {
	if o.Transport == nil {
		return errors.New("session: nil Transport")
	}
	if len(o.Members) == 0 {
		return errors.New("session: empty member set")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RetryBudget <= 0 {
		o.RetryBudget = 8
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = time.Second
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 10 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3 * time.Second
	}
}

type pendingOp struct {
	seq      uint64
	op       operation.Operation
	fut      *Future
	attempts int
	sentTo   transport.Address

	resolved bool
	result   []byte
	err      error
}

// Session is one client's ordered conduit to the cluster.
type Session struct {
	opts  Options
	log   *zap.Logger
	state atomic.Int32

	tasks   chan func()
	quit    chan struct{}
	stopped chan struct{}

	// Everything below is owned by the run loop.
	id           uint64
	seq          uint64
	completedSeq uint64
	pending      []*pendingOp
	byseq        map[uint64]*pendingOp

	leader  transport.Address
	members []transport.Address
	rr      int
	conns   map[transport.Address]transport.Connection

	eventIndex uint64
	eventBuf   map[uint64]transport.Message

	lastContact time.Time
	openFut     *Future
	openTries   int
}

// New constructs a Session from validated options. Call Open to establish it.
func New(opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	s := &Session{
		opts:     opts,
		log:      opts.Logger,
		tasks:    make(chan func(), 1024),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		byseq:    make(map[uint64]*pendingOp),
		members:  append([]transport.Address(nil), opts.Members...),
		conns:    make(map[transport.Address]transport.Connection),
		eventBuf: make(map[uint64]transport.Message),
	}
	obsmetrics.Register()
	go s.run()
	go s.keepAliveLoop()
	return s, nil
}

// State returns the current lifecycle phase. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// ID returns the server-assigned session id, zero until Open succeeds.
func (s *Session) ID() uint64 {
	fut := s.openFut
	if fut == nil {
		return 0
	}
	select {
	case <-fut.Done():
		return s.id
	default:
		return 0
	}
}

// Open registers the session with the cluster, trying each known member until
// one accepts. It blocks the calling goroutine only through future
// composition; ctx bounds the wait.
func (s *Session) Open(ctx context.Context) error {
	fut := newFuture()
	if !s.enqueue(func() { s.startOpen(fut) }) {
		return ErrSessionClosed
	}
	_, err := fut.Wait(ctx)
	return err
}

// Submit assigns the next sequence number to op and sends it. The returned
// future resolves strictly after all earlier submissions, on the session
// callback context. The caller never blocks.
func (s *Session) Submit(op operation.Operation) *Future {
	switch s.State() {
	case StateExpired:
		return failedFuture(ErrSessionExpired)
	case StateClosed:
		return failedFuture(ErrSessionClosed)
	case StateNew:
		return failedFuture(ErrNotOpen)
	}
	fut := newFuture()
	if !s.enqueue(func() { s.doSubmit(op, fut) }) {
		fut.complete(nil, s.terminalErr())
	}
	return fut
}

// Close unregisters the session (best effort), fails still-pending
// submissions with ErrSessionClosed and stops the callback context.
func (s *Session) Close(ctx context.Context) error {
	done := make(chan struct{})
	if !s.enqueue(func() { s.shutdown(StateClosed, ErrSessionClosed); close(done) }) {
		return nil
	}
	select {
	case <-done:
	case <-s.stopped:
		// The loop stopped before reaching our task; the session is
		// already shut down.
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Session) terminalErr() error {
	if s.State() == StateExpired {
		return ErrSessionExpired
	}
	return ErrSessionClosed
}

// enqueue posts fn to the run loop; false when the loop has stopped.
func (s *Session) enqueue(fn func()) bool {
	select {
	case <-s.stopped:
		return false
	default:
	}
	select {
	case s.tasks <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			// Drain tasks enqueued before stopped closes so a Close
			// racing the shutdown still gets its ack executed.
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(s.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.enqueue(s.keepAliveTick) {
				return
			}
		case <-s.stopped:
			return
		}
	}
}

// --- establishment ---

func (s *Session) startOpen(fut *Future) {
	if s.openFut != nil {
		fut.complete(nil, errors.New("session: already opening or open"))
		return
	}
	s.openFut = fut
	s.tryRegister()
}

func (s *Session) tryRegister() {
	if s.State() != StateNew {
		return
	}
	if s.openTries >= 2*len(s.members) {
		s.openFut.complete(nil, ErrNoMembers)
		s.shutdown(StateClosed, ErrSessionClosed)
		return
	}
	target := s.members[s.openTries%len(s.members)]
	s.openTries++
	conn, err := s.connTo(target)
	if err != nil {
		s.log.Warn("register connect failed", zap.Stringer("member", target), zap.Error(err))
		s.tryRegister()
		return
	}
	if err := conn.Send(transport.Message{Type: transport.TypeRegister}); err != nil {
		s.dropConn(target)
		s.tryRegister()
		return
	}
	// A member may accept the connection and then never answer the
	// register. Bound the attempt so silence falls through to the next
	// member instead of stranding the session.
	attempt := s.openTries
	time.AfterFunc(s.opts.ConnectTimeout, func() {
		s.enqueue(func() {
			if s.State() != StateNew || s.openTries != attempt {
				return
			}
			s.log.Warn("register timed out", zap.Stringer("member", target))
			s.dropConn(target)
			s.tryRegister()
		})
	})
}

func (s *Session) handleRegisterReply(m transport.Message) {
	if s.State() != StateNew || s.openFut == nil {
		return
	}
	if m.Status != transport.StatusOK {
		s.log.Warn("register rejected", zap.String("error", m.Error))
		s.tryRegister()
		return
	}
	s.id = m.Session
	s.lastContact = time.Now()
	s.updateView(m)
	s.state.Store(int32(StateOpen))
	s.log.Info("session registered",
		zap.Uint64("session", s.id),
		zap.Stringer("leader", s.leader),
		zap.Int("members", len(s.members)))
	s.openFut.complete(nil, nil)
}

// updateView refreshes the leader and member view from a reply that carries
// them.
func (s *Session) updateView(m transport.Message) {
	if m.Leader != "" {
		if a, err := transport.ParseAddress(m.Leader); err == nil {
			s.leader = a
		}
	}
	if len(m.Members) > 0 {
		if addrs, err := transport.ParseAddresses(m.Members); err == nil && len(addrs) > 0 {
			s.members = addrs
		}
	}
}

// --- submission ---

func (s *Session) doSubmit(op operation.Operation, fut *Future) {
	if st := s.State(); st != StateOpen {
		fut.complete(nil, s.terminalErr())
		return
	}
	s.seq++
	p := &pendingOp{seq: s.seq, op: op, fut: fut}
	s.pending = append(s.pending, p)
	s.byseq[p.seq] = p
	obsmetrics.PendingSubmissions.Inc()
	switch op.(type) {
	case *operation.Command:
		obsmetrics.SubmissionsTotal.WithLabelValues("command").Inc()
	case *operation.Query:
		obsmetrics.SubmissionsTotal.WithLabelValues("query").Inc()
	}
	s.send(p)
}

// routeFor picks the target address for one attempt. Commands and
// leader-bound queries go to the believed leader when known; everything else
// rotates through non-leader members for load distribution.
func (s *Session) routeFor(op operation.Operation) transport.Address {
	leaderOnly := true
	if q, ok := op.(*operation.Query); ok {
		leaderOnly = q.Consistency().LeaderOnly()
	}
	if leaderOnly {
		if !s.leader.IsZero() {
			return s.leader
		}
		return s.anyMember()
	}
	// follower preferred
	for i := 0; i < len(s.members); i++ {
		m := s.members[s.rr%len(s.members)]
		s.rr++
		if m != s.leader {
			return m
		}
	}
	return s.anyMember()
}

func (s *Session) anyMember() transport.Address {
	m := s.members[s.rr%len(s.members)]
	s.rr++
	return m
}

func (s *Session) send(p *pendingOp) {
	if p.resolved || s.State() != StateOpen {
		return
	}
	target := s.routeFor(p.op)
	conn, err := s.connTo(target)
	if err != nil {
		s.retryLater(p, "transport", err)
		return
	}
	msg := transport.Message{Session: s.id, Seq: p.seq}
	switch op := p.op.(type) {
	case *operation.Command:
		msg.Type = transport.TypeCommand
		msg.Name = op.Name
		msg.Payload = op.Payload
		msg.Consistency = op.Level
	case *operation.Query:
		msg.Type = transport.TypeQuery
		msg.Name = op.Name
		msg.Payload = op.Payload
		msg.Consistency = op.Level
	}
	p.sentTo = target
	if err := conn.Send(msg); err != nil {
		s.dropConn(target)
		s.retryLater(p, "transport", err)
	}
}

// retryLater re-sends p after the retry interval, charging one attempt.
// Budget exhaustion surfaces as a completion like any other, preserving
// program order.
func (s *Session) retryLater(p *pendingOp, reason string, cause error) {
	p.attempts++
	if p.attempts > s.opts.RetryBudget {
		s.log.Warn("submission retry budget exhausted",
			zap.Uint64("seq", p.seq), zap.Error(cause))
		s.resolve(p, nil, ErrRetriesExhausted)
		return
	}
	obsmetrics.RetriesTotal.WithLabelValues(reason).Inc()
	seq := p.seq
	time.AfterFunc(s.opts.RetryInterval, func() {
		s.enqueue(func() {
			if pp, ok := s.byseq[seq]; ok {
				s.send(pp)
			}
		})
	})
}

// resolve marks p completed and releases every completion that is now at the
// head of the submission order. Futures complete here, on the run loop, so
// the application sees completions in strict submission order.
func (s *Session) resolve(p *pendingOp, result []byte, err error) {
	if p.resolved {
		return
	}
	p.resolved = true
	p.result, p.err = result, err
	for len(s.pending) > 0 && s.pending[0].resolved {
		head := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.byseq, head.seq)
		s.completedSeq = head.seq
		obsmetrics.PendingSubmissions.Dec()
		if head.err != nil {
			obsmetrics.CompletionsTotal.WithLabelValues("error").Inc()
		} else {
			obsmetrics.CompletionsTotal.WithLabelValues("ok").Inc()
		}
		head.fut.complete(head.result, head.err)
	}
}

// --- inbound ---

func (s *Session) handleMessage(m transport.Message) {
	switch m.Type {
	case transport.TypeRegisterReply:
		s.handleRegisterReply(m)
	case transport.TypeKeepAliveReply:
		s.handleKeepAliveReply(m)
	case transport.TypeReply:
		s.handleReply(m)
	case transport.TypeEvent:
		s.handleEvent(m)
	case transport.TypeUnregisterReply:
		// ack only; shutdown is already underway
	default:
		s.log.Warn("unexpected message", zap.Stringer("type", m.Type))
	}
}

func (s *Session) handleReply(m transport.Message) {
	p, ok := s.byseq[m.Seq]
	if !ok || p.resolved {
		// duplicate or late reply after resolution; server-side dedup makes
		// this safe to drop
		return
	}
	s.lastContact = time.Now()
	switch m.Status {
	case transport.StatusOK:
		s.resolve(p, m.Payload, nil)
	case transport.StatusError:
		s.resolve(p, nil, errors.New(m.Error))
	case transport.StatusNotLeader:
		s.updateView(m)
		p.attempts++
		if p.attempts > s.opts.RetryBudget {
			s.resolve(p, nil, ErrRetriesExhausted)
			return
		}
		obsmetrics.RetriesTotal.WithLabelValues("redirect").Inc()
		s.send(p)
	case transport.StatusUnknownSession:
		s.expire()
	}
}

// --- events ---

// handleEvent enforces strict index order: consecutive events are delivered
// immediately, out-of-order ones are buffered, gaps suspend delivery until
// filled, duplicates are dropped.
func (s *Session) handleEvent(m transport.Message) {
	if m.Index <= s.eventIndex {
		return
	}
	if m.Index != s.eventIndex+1 {
		if _, dup := s.eventBuf[m.Index]; !dup {
			s.eventBuf[m.Index] = m
			obsmetrics.EventsBuffered.Inc()
		}
		return
	}
	s.deliverEvent(m)
	for {
		next, ok := s.eventBuf[s.eventIndex+1]
		if !ok {
			return
		}
		delete(s.eventBuf, next.Index)
		obsmetrics.EventsBuffered.Dec()
		s.deliverEvent(next)
	}
}

func (s *Session) deliverEvent(m transport.Message) {
	s.eventIndex = m.Index
	obsmetrics.EventsDeliveredTotal.WithLabelValues(m.Event).Inc()
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(m.Event, m.Payload)
	}
}

// --- keep-alive and expiration ---

func (s *Session) keepAliveTick() {
	if s.State() != StateOpen {
		return
	}
	if time.Since(s.lastContact) > s.opts.SessionTimeout {
		s.expire()
		return
	}
	target := s.leader
	if target.IsZero() {
		target = s.anyMember()
	}
	conn, err := s.connTo(target)
	if err != nil {
		obsmetrics.KeepAlivesTotal.WithLabelValues("error").Inc()
		return
	}
	msg := transport.Message{
		Type:     transport.TypeKeepAlive,
		Session:  s.id,
		Seq:      s.completedSeq,
		AckIndex: s.eventIndex,
	}
	if err := conn.Send(msg); err != nil {
		obsmetrics.KeepAlivesTotal.WithLabelValues("error").Inc()
		s.dropConn(target)
	}
}

func (s *Session) handleKeepAliveReply(m transport.Message) {
	if m.Status == transport.StatusUnknownSession {
		s.expire()
		return
	}
	s.lastContact = time.Now()
	s.updateView(m)
	obsmetrics.KeepAlivesTotal.WithLabelValues("ok").Inc()
}

// expire is terminal: every pending completion resolves with
// ErrSessionExpired and later submissions fail without any network I/O.
func (s *Session) expire() {
	if s.State() != StateOpen {
		return
	}
	obsmetrics.SessionsExpiredTotal.Inc()
	s.log.Warn("session expired", zap.Uint64("session", s.id))
	s.shutdown(StateExpired, ErrSessionExpired)
}

func (s *Session) shutdown(st State, cause error) {
	if cur := s.State(); cur == StateExpired || cur == StateClosed {
		return
	}
	if st == StateClosed && s.State() == StateOpen {
		// polite unregister, best effort
		if !s.leader.IsZero() {
			if conn, err := s.connTo(s.leader); err == nil {
				_ = conn.Send(transport.Message{Type: transport.TypeUnregister, Session: s.id})
			}
		}
	}
	s.state.Store(int32(st))
	for _, p := range s.pending {
		if !p.resolved {
			p.resolved = true
			p.err = cause
		}
	}
	for len(s.pending) > 0 {
		head := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.byseq, head.seq)
		obsmetrics.PendingSubmissions.Dec()
		obsmetrics.CompletionsTotal.WithLabelValues("error").Inc()
		head.fut.complete(head.result, head.err)
	}
	for addr, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, addr)
	}
	if s.openFut != nil {
		s.openFut.complete(nil, cause)
	}
	close(s.quit)
}

// --- connections ---

// connTo returns the cached connection to addr, dialing when absent. Dial
// failures fall through to the remaining members once each before giving up;
// the session treats whoever answers as a routing probe, relying on
// redirects to find the leader.
func (s *Session) connTo(addr transport.Address) (transport.Connection, error) {
	if conn, ok := s.conns[addr]; ok {
		return conn, nil
	}
	candidates := append([]transport.Address{addr}, s.members...)
	var lastErr error
	for _, cand := range candidates {
		if conn, ok := s.conns[cand]; ok {
			return conn, nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
		conn, err := s.opts.Transport.Connect(ctx, cand)
		cancel()
		if err != nil {
			lastErr = err
			if cand == s.leader {
				// stale leader hint; let redirects re-teach us
				s.leader = transport.Address{}
			}
			continue
		}
		target := cand
		conn.Handle(func(m transport.Message) {
			s.enqueue(func() { s.handleMessage(m) })
		})
		conn.OnClose(func(err error) {
			s.enqueue(func() { s.connClosed(target, err) })
		})
		s.conns[target] = conn
		return conn, nil
	}
	if lastErr == nil {
		lastErr = ErrNoMembers
	}
	return nil, lastErr
}

func (s *Session) dropConn(addr transport.Address) {
	if conn, ok := s.conns[addr]; ok {
		delete(s.conns, addr)
		_ = conn.Close()
	}
}

// connClosed reacts to transport-detected failure: in-flight submissions sent
// over the dead connection are re-sent transparently after reconnecting,
// relying on server-side sequence dedup.
func (s *Session) connClosed(addr transport.Address, err error) {
	if _, ok := s.conns[addr]; !ok {
		return
	}
	delete(s.conns, addr)
	if s.State() != StateOpen {
		return
	}
	obsmetrics.ReconnectsTotal.Inc()
	s.log.Warn("connection lost", zap.Stringer("member", addr), zap.Error(err))
	if addr == s.leader {
		s.leader = transport.Address{}
	}
	for _, p := range s.pending {
		if !p.resolved && p.sentTo == addr {
			s.retryLater(p, "transport", err)
		}
	}
}
