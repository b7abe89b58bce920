package state

// Machine is the replicated state machine contract the simulated cluster
// applies operations against. Apply handles state-mutating commands and may
// return an event payload to broadcast; Read serves read-only queries.
type Machine interface {
	Apply(name string, payload []byte) (result, event []byte, err error)
	Read(name string, payload []byte) ([]byte, error)
	Snapshot() ([]byte, error)
	Restore(buf []byte) error
}
