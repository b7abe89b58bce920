package client

import "testing"

func TestListenerCancelIsIdempotentAndIsolated(t *testing.T) {
	r := newRegistry()
	var a, b int
	la := r.add("change", func([]byte) { a++ })
	lb := r.add("change", func([]byte) { b++ })

	r.dispatch("change", nil)
	if a != 1 || b != 1 {
		t.Fatalf("counts = (%d,%d), want (1,1)", a, b)
	}

	la.Cancel()
	la.Cancel() // second cancel is a no-op
	r.dispatch("change", nil)
	if a != 1 || b != 2 {
		t.Fatalf("counts after cancel = (%d,%d), want (1,2)", a, b)
	}

	lb.Cancel()
	r.dispatch("change", nil)
	if b != 2 {
		t.Fatalf("callback ran after cancel")
	}
}

func TestDispatchMatchesEventName(t *testing.T) {
	r := newRegistry()
	var hits int
	r.add("put", func([]byte) { hits++ })
	r.dispatch("del", nil)
	if hits != 0 {
		t.Fatalf("listener fired for foreign event")
	}
	r.dispatch("put", nil)
	if hits != 1 {
		t.Fatalf("listener missed its event")
	}
}

func TestCallbackMayCancelDuringDispatch(t *testing.T) {
	r := newRegistry()
	var l *Listener
	var hits int
	l = r.add("change", func([]byte) {
		hits++
		l.Cancel()
	})
	r.dispatch("change", nil)
	r.dispatch("change", nil)
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestDispatchPreservesRegistrationOrder(t *testing.T) {
	r := newRegistry()
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		r.add("change", func([]byte) { order = append(order, i) })
	}
	r.dispatch("change", nil)
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v", order)
		}
	}
}
