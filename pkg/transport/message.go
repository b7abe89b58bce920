package transport

import "github.com/amirimatin/go-raftclient/pkg/operation"

// Type discriminates session protocol messages. One flat envelope is used for
// all traffic so transports can stay codec-generic.
type Type uint8

const (
	// TypeRegister opens a session; the reply carries the session id,
	// leader and member view.
	TypeRegister Type = iota + 1
	TypeRegisterReply
	// TypeKeepAlive renews the session and acks event delivery progress.
	TypeKeepAlive
	TypeKeepAliveReply
	// TypeCommand and TypeQuery carry submissions; TypeReply completes them.
	TypeCommand
	TypeQuery
	TypeReply
	// TypeEvent is a server-pushed session event.
	TypeEvent
	// TypeUnregister closes the session.
	TypeUnregister
	TypeUnregisterReply
)

func (t Type) String() string {
	switch t {
	case TypeRegister:
		return "register"
	case TypeRegisterReply:
		return "register-reply"
	case TypeKeepAlive:
		return "keepalive"
	case TypeKeepAliveReply:
		return "keepalive-reply"
	case TypeCommand:
		return "command"
	case TypeQuery:
		return "query"
	case TypeReply:
		return "reply"
	case TypeEvent:
		return "event"
	case TypeUnregister:
		return "unregister"
	case TypeUnregisterReply:
		return "unregister-reply"
	default:
		return "unknown"
	}
}

// Status reports the outcome of a request as seen by the serving member.
type Status uint8

const (
	StatusOK Status = iota
	// StatusError carries an application/state-machine error in Error.
	StatusError
	// StatusNotLeader rejects a leader-only request; Leader names the
	// member to retry against when known.
	StatusNotLeader
	// StatusUnknownSession means the session has expired server-side.
	StatusUnknownSession
)

// Message is the wire envelope for all session traffic. Only the fields
// relevant to Type are populated; payload serialization beyond this envelope
// is owned by the codec of the concrete transport.
type Message struct {
	Type    Type   `json:"type" codec:"type"`
	Session uint64 `json:"session,omitempty" codec:"session"`

	// Seq is the request sequence number for commands, queries and their
	// replies; for keep-alives it carries the highest command sequence for
	// server-side dedup cleanup.
	Seq uint64 `json:"seq,omitempty" codec:"seq"`

	// Index is the event index for TypeEvent.
	Index uint64 `json:"index,omitempty" codec:"index"`

	// Event names the event for TypeEvent.
	Event string `json:"event,omitempty" codec:"event"`

	// Name and Payload describe the operation for commands and queries;
	// Payload doubles as the result blob on replies and the event payload
	// on TypeEvent.
	Name    string `json:"name,omitempty" codec:"name"`
	Payload []byte `json:"payload,omitempty" codec:"payload"`

	Consistency operation.Consistency `json:"consistency,omitempty" codec:"consistency"`

	Status Status `json:"status,omitempty" codec:"status"`
	Error  string `json:"error,omitempty" codec:"error"`

	// Leader is the current leader address, set on register/keep-alive
	// replies and NotLeader redirects.
	Leader string `json:"leader,omitempty" codec:"leader"`
	// Members is the current cluster view, set on register/keep-alive replies.
	Members []string `json:"members,omitempty" codec:"members"`

	// AckIndex acknowledges the highest event index delivered in order,
	// carried on keep-alives so the server can resend past it.
	AckIndex uint64 `json:"ackIndex,omitempty" codec:"ackIndex"`
}
