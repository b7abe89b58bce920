package client

import (
	"errors"
	"testing"
)

func TestOnEventFunc(t *testing.T) {
	tr, addrs := startSim(t, 1)
	c, err := New(Options{Transport: tr, Members: addrs})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var hits int
	l, err := c.OnEventFunc("tick", func() { hits++ })
	if err != nil {
		t.Fatalf("on event func: %v", err)
	}
	defer l.Cancel()

	c.reg.dispatch("tick", []byte("ignored payload"))
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}

	if _, err := c.OnEventFunc("", func() {}); !errors.Is(err, ErrNilArgument) {
		t.Fatalf("empty event err = %v", err)
	}
}

func TestOnEventAsDecodesAndDrops(t *testing.T) {
	tr, addrs := startSim(t, 1)
	c, err := New(Options{Transport: tr, Members: addrs})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	type change struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	var got []change
	l, err := OnEventAs(c, "change", func(ch change) { got = append(got, ch) })
	if err != nil {
		t.Fatalf("on event as: %v", err)
	}
	defer l.Cancel()

	c.reg.dispatch("change", []byte(`{"key":"a","value":"1"}`))
	c.reg.dispatch("change", []byte(`not json`)) // dropped
	c.reg.dispatch("change", []byte(`{"key":"b","value":"2"}`))

	if len(got) != 2 || got[0].Key != "a" || got[1].Key != "b" {
		t.Fatalf("decoded events = %+v", got)
	}
}
