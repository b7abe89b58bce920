package operation

// Consistency selects where an operation may be served and how much staleness
// is tolerable. Levels are ordered: anything at BoundedLinearizable or above
// must be served by the cluster leader.
type Consistency uint8

const (
	// Sequential reads may be served by any reachable member.
	Sequential Consistency = iota
	// BoundedLinearizable reads go to the leader but tolerate bounded
	// staleness (e.g., lease-based reads).
	BoundedLinearizable
	// Linearizable operations go to the leader and reflect all previously
	// completed writes.
	Linearizable
)

func (c Consistency) String() string {
	switch c {
	case Sequential:
		return "sequential"
	case BoundedLinearizable:
		return "bounded-linearizable"
	case Linearizable:
		return "linearizable"
	default:
		return "unknown"
	}
}

// LeaderOnly reports whether operations at this level must be routed to the
// current leader.
func (c Consistency) LeaderOnly() bool { return c >= BoundedLinearizable }

// Operation is a unit of work submitted to the cluster. The type is sealed:
// the only variants are *Command and *Query, so dispatch sites can type-switch
// exhaustively.
type Operation interface {
	// Consistency returns the level the operation was built with.
	Consistency() Consistency

	sealed()
}

// Command mutates replicated state. Commands are always forwarded to the
// cluster leader regardless of their consistency level; the level only
// influences the order in which the server-side state machine applies them.
type Command struct {
	// Name identifies the state machine operation.
	Name string
	// Payload is the opaque, codec-owned argument blob.
	Payload []byte
	// Level defaults to Linearizable when left zero-valued via NewCommand.
	Level Consistency
}

// NewCommand builds a linearizable command.
func NewCommand(name string, payload []byte) *Command {
	return &Command{Name: name, Payload: payload, Level: Linearizable}
}

func (c *Command) Consistency() Consistency { return c.Level }
func (c *Command) sealed()                  {}

// Query reads replicated state. Routing depends on the consistency level:
// Linearizable and BoundedLinearizable queries are served by the leader,
// lower levels may read from followers.
type Query struct {
	Name    string
	Payload []byte
	Level   Consistency
}

// NewQuery builds a query at the given consistency level.
func NewQuery(name string, payload []byte, level Consistency) *Query {
	return &Query{Name: name, Payload: payload, Level: level}
}

func (q *Query) Consistency() Consistency { return q.Level }
func (q *Query) sealed()                  {}
