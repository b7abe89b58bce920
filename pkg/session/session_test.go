package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirimatin/go-raftclient/pkg/operation"
	"github.com/amirimatin/go-raftclient/pkg/transport"
	"github.com/amirimatin/go-raftclient/pkg/transport/inmem"
)

func mustAddr(t *testing.T, s string) transport.Address {
	t.Helper()
	a, err := transport.ParseAddress(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

// fakeMember serves one address on an in-memory network with a pluggable
// message handler and counts received messages by type.
type fakeMember struct {
	addr transport.Address

	mu     sync.Mutex
	counts map[transport.Type]int
	handle func(conn transport.Connection, m transport.Message)
}

func startMember(net *inmem.Network, addr transport.Address, handle func(conn transport.Connection, m transport.Message)) *fakeMember {
	f := &fakeMember{addr: addr, counts: make(map[transport.Type]int), handle: handle}
	net.Listen(addr, func(conn transport.Connection) {
		conn.Handle(func(m transport.Message) {
			f.mu.Lock()
			f.counts[m.Type]++
			h := f.handle
			f.mu.Unlock()
			if h != nil {
				h(conn, m)
			}
		})
	})
	return f
}

func (f *fakeMember) count(t transport.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[t]
}

// registerOK answers a register with session id 1 and the given view.
func registerOK(leader transport.Address, members ...transport.Address) func(conn transport.Connection, m transport.Message) transport.Message {
	names := make([]string, len(members))
	for i, a := range members {
		names[i] = a.String()
	}
	return func(conn transport.Connection, m transport.Message) transport.Message {
		return transport.Message{
			Type:    transport.TypeRegisterReply,
			Session: 1,
			Leader:  leader.String(),
			Members: names,
		}
	}
}

func waitResult(t *testing.T, fut *Future) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return fut.Wait(ctx)
}

func openSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestOpenRegistersSession(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)
	startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
		}
	})

	s := openSession(t, Options{Transport: net.Client(), Members: []transport.Address{addr}})
	defer s.Close(context.Background())

	if got := s.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if got := s.ID(); got != 1 {
		t.Fatalf("session id = %d, want 1", got)
	}
}

func TestOpenFallsThroughDeadMembers(t *testing.T) {
	net := inmem.NewNetwork()
	dead := mustAddr(t, "127.0.0.1:5821")
	live := mustAddr(t, "127.0.0.1:5822")
	reply := registerOK(live, dead, live)
	startMember(net, live, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
		}
	})

	// dead is listed first and never listens
	s := openSession(t, Options{Transport: net.Client(), Members: []transport.Address{dead, live}})
	defer s.Close(context.Background())

	if got := s.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
}

func TestOpenFailsWhenNoMemberAnswers(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	s, err := New(Options{Transport: net.Client(), Members: []transport.Address{addr}})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Open(ctx); err == nil {
		t.Fatalf("expected open to fail with no listening members")
	}
}

func TestOpenFallsThroughSilentMember(t *testing.T) {
	net := inmem.NewNetwork()
	silent := mustAddr(t, "127.0.0.1:5821")
	live := mustAddr(t, "127.0.0.1:5822")
	reply := registerOK(live, silent, live)

	// silent accepts the connection and swallows the register
	mute := startMember(net, silent, nil)
	startMember(net, live, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
		}
	})

	s := openSession(t, Options{
		Transport:      net.Client(),
		Members:        []transport.Address{silent, live},
		ConnectTimeout: 50 * time.Millisecond,
	})
	defer s.Close(context.Background())

	if got := s.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if got := mute.count(transport.TypeRegister); got != 1 {
		t.Fatalf("silent member saw %d registers, want 1", got)
	}
}

func TestOpenFailureClosesConnections(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")

	// One member that accepts but never answers any register; track when
	// the client side hangs up on us.
	closed := make(chan struct{}, 4)
	net.Listen(addr, func(conn transport.Connection) {
		conn.Handle(func(transport.Message) {})
		conn.OnClose(func(error) { closed <- struct{}{} })
	})

	s, err := New(Options{
		Transport:      net.Client(),
		Members:        []transport.Address{addr},
		ConnectTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Open(ctx); !errors.Is(err, ErrNoMembers) {
		t.Fatalf("open error = %v, want ErrNoMembers", err)
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("state after failed open = %v, want closed", got)
	}

	// Every connection dialed while registering must be released.
	for i := 0; i < 2; i++ {
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d never closed after failed open", i)
		}
	}

	if _, err := waitResult(t, s.Submit(operation.NewCommand("x", nil))); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("submit after failed open = %v, want ErrSessionClosed", err)
	}
}

func TestCompletionsReleaseInSubmissionOrder(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)

	var mu sync.Mutex
	var held []transport.Message
	var heldConn transport.Connection
	startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeRegister:
			_ = conn.Send(reply(conn, m))
		case transport.TypeCommand:
			// Hold replies until both commands arrived, then answer the
			// second before the first.
			mu.Lock()
			held = append(held, m)
			heldConn = conn
			ready := len(held) == 2
			mu.Unlock()
			if ready {
				mu.Lock()
				first, second := held[0], held[1]
				c := heldConn
				mu.Unlock()
				_ = c.Send(transport.Message{Type: transport.TypeReply, Seq: second.Seq, Payload: []byte("r2")})
				_ = c.Send(transport.Message{Type: transport.TypeReply, Seq: first.Seq, Payload: []byte("r1")})
			}
		}
	})

	s := openSession(t, Options{Transport: net.Client(), Members: []transport.Address{addr}})
	defer s.Close(context.Background())

	var order []string
	done := make(chan struct{})
	f1 := s.Submit(operation.NewCommand("a", nil))
	f2 := s.Submit(operation.NewCommand("b", nil))
	f1.OnComplete(func(result []byte, err error) { order = append(order, "c1") })
	f2.OnComplete(func(result []byte, err error) {
		order = append(order, "c2")
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completions")
	}
	// order is only appended on the session loop; reading after done is safe
	if len(order) != 2 || order[0] != "c1" || order[1] != "c2" {
		t.Fatalf("completion order = %v, want [c1 c2]", order)
	}
	r1, err := waitResult(t, f1)
	if err != nil || string(r1) != "r1" {
		t.Fatalf("f1 = (%q, %v), want r1", r1, err)
	}
	r2, err := waitResult(t, f2)
	if err != nil || string(r2) != "r2" {
		t.Fatalf("f2 = (%q, %v), want r2", r2, err)
	}
}

func TestRedirectRetargetsLeader(t *testing.T) {
	net := inmem.NewNetwork()
	addrA := mustAddr(t, "127.0.0.1:5821")
	addrB := mustAddr(t, "127.0.0.1:5822")
	members := []string{addrA.String(), addrB.String()}

	// A claims leadership at register time, then redirects the first
	// command to B; B answers everything.
	nodeA := startMember(net, addrA, nil)
	nodeA.mu.Lock()
	nodeA.handle = func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeRegister:
			_ = conn.Send(transport.Message{Type: transport.TypeRegisterReply, Session: 1, Leader: addrA.String(), Members: members})
		case transport.TypeCommand:
			_ = conn.Send(transport.Message{Type: transport.TypeReply, Seq: m.Seq, Status: transport.StatusNotLeader, Leader: addrB.String()})
		}
	}
	nodeA.mu.Unlock()
	nodeB := startMember(net, addrB, func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeCommand, transport.TypeQuery:
			_ = conn.Send(transport.Message{Type: transport.TypeReply, Seq: m.Seq, Payload: []byte("ok")})
		}
	})

	s := openSession(t, Options{Transport: net.Client(), Members: []transport.Address{addrA, addrB}})
	defer s.Close(context.Background())

	// C1 hits A (believed leader), gets redirected, completes via B.
	if _, err := waitResult(t, s.Submit(operation.NewCommand("c1", nil))); err != nil {
		t.Fatalf("c1: %v", err)
	}
	// The corrected leader view must stick: no further redirects.
	if _, err := waitResult(t, s.Submit(operation.NewQuery("q1", nil, operation.Linearizable))); err != nil {
		t.Fatalf("q1: %v", err)
	}
	if _, err := waitResult(t, s.Submit(operation.NewCommand("c2", nil))); err != nil {
		t.Fatalf("c2: %v", err)
	}

	if got := nodeA.count(transport.TypeCommand); got != 1 {
		t.Fatalf("A saw %d commands, want exactly the redirected first attempt", got)
	}
	if got := nodeB.count(transport.TypeCommand); got != 2 {
		t.Fatalf("B saw %d commands, want 2", got)
	}
	if got := nodeB.count(transport.TypeQuery); got != 1 {
		t.Fatalf("B saw %d queries, want 1", got)
	}
}

func TestSequentialQueryAvoidsLeader(t *testing.T) {
	net := inmem.NewNetwork()
	addrA := mustAddr(t, "127.0.0.1:5821")
	addrB := mustAddr(t, "127.0.0.1:5822")
	members := []string{addrA.String(), addrB.String()}

	answer := func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeRegister:
			_ = conn.Send(transport.Message{Type: transport.TypeRegisterReply, Session: 1, Leader: addrA.String(), Members: members})
		case transport.TypeQuery:
			_ = conn.Send(transport.Message{Type: transport.TypeReply, Seq: m.Seq, Payload: []byte("ok")})
		}
	}
	nodeA := startMember(net, addrA, answer)
	nodeB := startMember(net, addrB, answer)

	s := openSession(t, Options{Transport: net.Client(), Members: []transport.Address{addrA, addrB}})
	defer s.Close(context.Background())

	for i := 0; i < 4; i++ {
		if _, err := waitResult(t, s.Submit(operation.NewQuery("q", nil, operation.Sequential))); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	if got := nodeA.count(transport.TypeQuery); got != 0 {
		t.Fatalf("leader saw %d relaxed queries, want 0", got)
	}
	if got := nodeB.count(transport.TypeQuery); got != 4 {
		t.Fatalf("follower saw %d relaxed queries, want 4", got)
	}
}

func TestRedirectBudgetExhausted(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)
	// Pathological member: always redirects to itself.
	startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeRegister:
			_ = conn.Send(reply(conn, m))
		case transport.TypeCommand:
			_ = conn.Send(transport.Message{Type: transport.TypeReply, Seq: m.Seq, Status: transport.StatusNotLeader, Leader: addr.String()})
		}
	})

	s := openSession(t, Options{
		Transport:   net.Client(),
		Members:     []transport.Address{addr},
		RetryBudget: 2,
	})
	defer s.Close(context.Background())

	_, err := waitResult(t, s.Submit(operation.NewCommand("c", nil)))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
}

func TestEventsDeliveredInIndexOrder(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)

	connCh := make(chan transport.Connection, 1)
	startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
			connCh <- conn
		}
	})

	events := make(chan string, 16)
	s := openSession(t, Options{
		Transport: net.Client(),
		Members:   []transport.Address{addr},
		OnEvent:   func(event string, payload []byte) { events <- string(payload) },
	})
	defer s.Close(context.Background())

	conn := <-connCh
	push := func(index uint64, payload string) {
		_ = conn.Send(transport.Message{Type: transport.TypeEvent, Index: index, Event: "change", Payload: []byte(payload)})
	}

	// Reordered: 2 before 1; 3 after. 1 delivered twice (duplicate dropped).
	push(2, "e2")
	push(1, "e1")
	push(1, "e1-dup")
	push(3, "e3")

	want := []string{"e1", "e2", "e3"}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Fatalf("event %d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %q", w)
		}
	}

	// A gap (5 without 4) suspends delivery until filled.
	push(5, "e5")
	select {
	case got := <-events:
		t.Fatalf("unexpected event %q across gap", got)
	case <-time.After(50 * time.Millisecond):
	}
	push(4, "e4")
	for _, w := range []string{"e4", "e5"} {
		select {
		case got := <-events:
			if got != w {
				t.Fatalf("event = %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %q", w)
		}
	}
}

func TestExpirationFailsPendingInOrder(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)
	// Answers register, then goes silent: commands and keep-alives vanish.
	node := startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
		}
	})

	s := openSession(t, Options{
		Transport:         net.Client(),
		Members:           []transport.Address{addr},
		KeepAliveInterval: 20 * time.Millisecond,
		SessionTimeout:    80 * time.Millisecond,
		RetryInterval:     10 * time.Millisecond,
		RetryBudget:       1000, // do not let the budget fire first
	})

	var order []error
	done := make(chan struct{})
	f1 := s.Submit(operation.NewCommand("a", nil))
	f2 := s.Submit(operation.NewCommand("b", nil))
	f1.OnComplete(func(result []byte, err error) { order = append(order, err) })
	f2.OnComplete(func(result []byte, err error) {
		order = append(order, err)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for expiration")
	}
	if s.State() != StateExpired {
		t.Fatalf("state = %v, want expired", s.State())
	}
	if len(order) != 2 || !errors.Is(order[0], ErrSessionExpired) || !errors.Is(order[1], ErrSessionExpired) {
		t.Fatalf("completion errors = %v, want two ErrSessionExpired", order)
	}

	// Post-expiry submissions fail synchronously with no network traffic.
	before := node.count(transport.TypeCommand)
	fut := s.Submit(operation.NewCommand("c", nil))
	if _, err := fut.Result(); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("post-expiry err = %v, want ErrSessionExpired", err)
	}
	time.Sleep(50 * time.Millisecond)
	if after := node.count(transport.TypeCommand); after != before {
		t.Fatalf("post-expiry submission reached the wire: %d -> %d", before, after)
	}
}

func TestSubmitBeforeOpenFails(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	s, err := New(Options{Transport: net.Client(), Members: []transport.Address{addr}})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close(context.Background())
	fut := s.Submit(operation.NewCommand("a", nil))
	if _, err := fut.Result(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
}

func TestCloseUnregistersAndFailsLaterSubmits(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)
	node := startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
		}
	})

	s := openSession(t, Options{Transport: net.Client(), Members: []transport.Address{addr}})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want closed", s.State())
	}

	deadline := time.Now().Add(time.Second)
	for node.count(transport.TypeUnregister) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no unregister observed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fut := s.Submit(operation.NewCommand("a", nil))
	if _, err := fut.Result(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestCloseRacingExpiryReturns(t *testing.T) {
	net := inmem.NewNetwork()
	addr := mustAddr(t, "127.0.0.1:5821")
	reply := registerOK(addr, addr)

	// Register succeeds, keep-alives go unanswered, so the session expires
	// on its own while several closers race the shutdown.
	startMember(net, addr, func(conn transport.Connection, m transport.Message) {
		if m.Type == transport.TypeRegister {
			_ = conn.Send(reply(conn, m))
		}
	})

	s := openSession(t, Options{
		Transport:         net.Client(),
		Members:           []transport.Address{addr},
		KeepAliveInterval: 10 * time.Millisecond,
		SessionTimeout:    30 * time.Millisecond,
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			errs <- s.Close(ctx)
		}()
	}
	closersDone := make(chan struct{})
	go func() { wg.Wait(); close(closersDone) }()
	select {
	case <-closersDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("close calls did not return")
	}
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestConnectionLossResendsInFlight(t *testing.T) {
	net := inmem.NewNetwork()
	addrA := mustAddr(t, "127.0.0.1:5821")
	addrB := mustAddr(t, "127.0.0.1:5822")
	members := []string{addrA.String(), addrB.String()}

	// A accepts the register and the first command but never answers it;
	// the test then kills A's pipe and B must see the replayed command.
	type server interface{ CloseWithError(error) }
	connCh := make(chan transport.Connection, 2)
	startMember(net, addrA, func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeRegister:
			_ = conn.Send(transport.Message{Type: transport.TypeRegisterReply, Session: 1, Leader: addrA.String(), Members: members})
		case transport.TypeCommand:
			connCh <- conn
		}
	})
	nodeB := startMember(net, addrB, func(conn transport.Connection, m transport.Message) {
		switch m.Type {
		case transport.TypeRegister:
			_ = conn.Send(transport.Message{Type: transport.TypeRegisterReply, Session: 1, Leader: addrB.String(), Members: members})
		case transport.TypeCommand:
			_ = conn.Send(transport.Message{Type: transport.TypeReply, Seq: m.Seq, Payload: []byte("replayed")})
		}
	})

	s := openSession(t, Options{
		Transport:     net.Client(),
		Members:       []transport.Address{addrA, addrB},
		RetryInterval: 10 * time.Millisecond,
	})
	defer s.Close(context.Background())

	fut := s.Submit(operation.NewCommand("a", nil))
	conn := <-connCh
	net.Unlisten(addrA)
	conn.(server).CloseWithError(errors.New("pipe severed"))

	result, err := waitResult(t, fut)
	if err != nil || string(result) != "replayed" {
		t.Fatalf("result = (%q, %v), want replayed", result, err)
	}
	if got := nodeB.count(transport.TypeCommand); got == 0 {
		t.Fatalf("replacement member never saw the replayed command")
	}
}
