package cluster

import (
	"time"

	"go.uber.org/zap"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// Node serves the session protocol on behalf of one member address.
type Node struct {
	addr string
	cl   *Cluster
	log  *zap.Logger
}

func (n *Node) isLeader() bool { return n.addr == n.cl.opts.Leader }

// Accept wires a new inbound connection into the protocol handler. Pass it
// as the accept callback of a transport server.
func (n *Node) Accept(conn transport.Connection) {
	conn.Handle(func(m transport.Message) { n.handle(conn, m) })
}

func (n *Node) handle(conn transport.Connection, m transport.Message) {
	switch m.Type {
	case transport.TypeRegister:
		n.handleRegister(conn, m)
	case transport.TypeKeepAlive:
		n.handleKeepAlive(conn, m)
	case transport.TypeCommand:
		n.handleCommand(conn, m)
	case transport.TypeQuery:
		n.handleQuery(conn, m)
	case transport.TypeUnregister:
		n.handleUnregister(conn, m)
	default:
		n.log.Warn("unexpected message", zap.String("type", m.Type.String()))
	}
}

func (n *Node) handleRegister(conn transport.Connection, m transport.Message) {
	reply := transport.Message{
		Type:    transport.TypeRegisterReply,
		Leader:  n.cl.opts.Leader,
		Members: n.cl.opts.Members,
	}
	if !n.isLeader() {
		reply.Status = transport.StatusNotLeader
		_ = conn.Send(reply)
		return
	}
	n.cl.mu.Lock()
	n.cl.nextSess++
	id := n.cl.nextSess
	n.cl.sessions[id] = &sessionState{id: id, conn: conn, lastSeen: time.Now()}
	n.cl.mu.Unlock()
	reply.Session = id
	_ = conn.Send(reply)
	n.log.Info("session registered", zap.Uint64("session", id))
}

func (n *Node) handleKeepAlive(conn transport.Connection, m transport.Message) {
	reply := transport.Message{
		Type:    transport.TypeKeepAliveReply,
		Session: m.Session,
		Leader:  n.cl.opts.Leader,
		Members: n.cl.opts.Members,
	}
	n.cl.mu.Lock()
	s, ok := n.cl.sessions[m.Session]
	if ok {
		s.lastSeen = time.Now()
		s.conn = conn
	}
	n.cl.mu.Unlock()
	if !ok {
		reply.Status = transport.StatusUnknownSession
	}
	_ = conn.Send(reply)
}

func (n *Node) handleCommand(conn transport.Connection, m transport.Message) {
	reply := transport.Message{Type: transport.TypeReply, Session: m.Session, Seq: m.Seq}
	if !n.isLeader() {
		reply.Status = transport.StatusNotLeader
		reply.Leader = n.cl.opts.Leader
		_ = conn.Send(reply)
		return
	}
	n.cl.mu.Lock()
	defer n.cl.mu.Unlock()
	s, ok := n.cl.sessions[m.Session]
	if !ok {
		reply.Status = transport.StatusUnknownSession
		_ = conn.Send(reply)
		return
	}
	s.lastSeen = time.Now()
	s.conn = conn

	// A replay of the most recent command returns the cached outcome
	// instead of re-applying.
	if m.Seq <= s.lastSeq {
		reply.Payload = s.lastRes
		if s.lastErr != "" {
			reply.Status = transport.StatusError
			reply.Error = s.lastErr
		}
		_ = conn.Send(reply)
		return
	}

	result, event, err := n.cl.machine.Apply(m.Name, m.Payload)
	if err != nil {
		reply.Status = transport.StatusError
		reply.Error = err.Error()
	} else {
		reply.Payload = result
	}
	s.lastSeq = m.Seq
	s.lastRes = reply.Payload
	s.lastErr = reply.Error
	_ = conn.Send(reply)
	if err == nil && event != nil {
		n.cl.publish("change", event)
	}
}

func (n *Node) handleQuery(conn transport.Connection, m transport.Message) {
	reply := transport.Message{Type: transport.TypeReply, Session: m.Session, Seq: m.Seq}
	if m.Consistency.LeaderOnly() && !n.isLeader() {
		reply.Status = transport.StatusNotLeader
		reply.Leader = n.cl.opts.Leader
		_ = conn.Send(reply)
		return
	}
	result, err := n.cl.machine.Read(m.Name, m.Payload)
	if err != nil {
		reply.Status = transport.StatusError
		reply.Error = err.Error()
	} else {
		reply.Payload = result
	}
	_ = conn.Send(reply)
}

func (n *Node) handleUnregister(conn transport.Connection, m transport.Message) {
	n.cl.mu.Lock()
	delete(n.cl.sessions, m.Session)
	n.cl.mu.Unlock()
	_ = conn.Send(transport.Message{Type: transport.TypeUnregisterReply, Session: m.Session})
	n.log.Info("session unregistered", zap.Uint64("session", m.Session))
}
