package kv

import (
	"encoding/json"
	"testing"
)

func TestState_ApplyReadSnapshotRestore(t *testing.T) {
	s := New()

	if _, _, err := s.Apply("put", []byte(`{"key":"a","value":"1"}`)); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, _, err := s.Apply("put", []byte(`{"key":"b","value":"2"}`)); err != nil {
		t.Fatalf("put b: %v", err)
	}

	out, err := s.Read("get", []byte(`{"key":"a"}`))
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	var got struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if !got.Found || got.Value != "1" {
		t.Fatalf("get a = %+v, want found=true value=1", got)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) == 0 {
		t.Fatalf("empty snapshot")
	}

	// Remove one and restore from the first snapshot; "a" must return.
	if _, _, err := s.Apply("del", []byte(`{"key":"a"}`)); err != nil {
		t.Fatalf("del a: %v", err)
	}
	s2 := New()
	if err := s2.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap2, err := s2.Snapshot()
	if err != nil {
		t.Fatalf("snapshot2: %v", err)
	}
	if string(snap2) != string(snap) {
		t.Fatalf("round-trip mismatch:\n got: %s\nwant: %s", string(snap2), string(snap))
	}
}

func TestState_EventPayloads(t *testing.T) {
	s := New()
	result, event, err := s.Apply("put", []byte(`{"key":"a","value":"1"}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if string(result) != string(event) {
		t.Fatalf("result %s != event %s", result, event)
	}
	_, event, err = s.Apply("del", []byte(`{"key":"a"}`))
	if err != nil {
		t.Fatalf("del: %v", err)
	}
	var ch Change
	if err := json.Unmarshal(event, &ch); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if !ch.Deleted {
		t.Fatalf("expected deleted=true for existing key, got %+v", ch)
	}
}

func TestState_ErrorsOnBadInput(t *testing.T) {
	s := New()
	if _, _, err := s.Apply("put", []byte(`{}`)); err == nil {
		t.Fatalf("expected error on empty key")
	}
	if _, _, err := s.Apply("nope", nil); err == nil {
		t.Fatalf("expected error on unknown command")
	}
	if _, err := s.Read("nope", nil); err == nil {
		t.Fatalf("expected error on unknown query")
	}
}
