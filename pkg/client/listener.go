package client

import "sync"

// Listener is the registration handle returned by OnEvent. Cancel removes
// exactly this registration, is safe from any goroutine and idempotent; a
// delivery already dispatched is never rewound.
type Listener struct {
	reg   *registry
	event string
	id    uint64
	once  sync.Once
}

// Cancel removes the registration. Canceling twice is a no-op.
func (l *Listener) Cancel() {
	l.once.Do(func() { l.reg.remove(l.event, l.id) })
}

type entry struct {
	id uint64
	cb func([]byte)
}

// registry maps event names to ordered registration entries. The Listener
// handle carries only the removal token, never the registry state, so
// cancellation is a lookup-and-remove.
type registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]entry
}

func newRegistry() *registry {
	return &registry{subs: make(map[string][]entry)}
}

func (r *registry) add(event string, cb func([]byte)) *Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs[event] = append(r.subs[event], entry{id: r.nextID, cb: cb})
	return &Listener{reg: r, event: event, id: r.nextID}
}

func (r *registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[event]
	for i, e := range list {
		if e.id == id {
			r.subs[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[event]) == 0 {
		delete(r.subs, event)
	}
}

// dispatch invokes the callbacks registered for event, in registration order.
// Runs on the session callback context; callbacks are snapshotted first so a
// callback may cancel listeners without deadlocking.
func (r *registry) dispatch(event string, payload []byte) {
	r.mu.Lock()
	list := append([]entry(nil), r.subs[event]...)
	r.mu.Unlock()
	for _, e := range list {
		e.cb(payload)
	}
}
