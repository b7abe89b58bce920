package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	base "github.com/amirimatin/go-raftclient/pkg/state"
)

// State is a simple in-memory key/value state machine. It backs the
// simulated cluster: "put"/"del" commands mutate it and emit change events,
// "get"/"keys" queries read it.
type State struct {
	mu    sync.RWMutex
	items map[string]string
}

func New() *State { return &State{items: make(map[string]string)} }

// Change is the payload shape shared by put/del commands, their results,
// and the "change" events broadcast after each apply.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func (s *State) Apply(name string, payload []byte) ([]byte, []byte, error) {
	switch name {
	case "put":
		var req Change
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, nil, fmt.Errorf("state: bad payload: %w", err)
		}
		if req.Key == "" {
			return nil, nil, fmt.Errorf("state: empty key")
		}
		s.mu.Lock()
		s.items[req.Key] = req.Value
		s.mu.Unlock()
		ev, _ := json.Marshal(Change{Key: req.Key, Value: req.Value})
		return ev, ev, nil
	case "del":
		var req Change
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, nil, fmt.Errorf("state: bad payload: %w", err)
		}
		if req.Key == "" {
			return nil, nil, fmt.Errorf("state: empty key")
		}
		s.mu.Lock()
		_, existed := s.items[req.Key]
		delete(s.items, req.Key)
		s.mu.Unlock()
		ev, _ := json.Marshal(Change{Key: req.Key, Deleted: existed})
		return ev, ev, nil
	default:
		return nil, nil, fmt.Errorf("state: unknown command %q", name)
	}
}

func (s *State) Read(name string, payload []byte) ([]byte, error) {
	switch name {
	case "get":
		var req Change
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("state: bad payload: %w", err)
		}
		s.mu.RLock()
		value, ok := s.items[req.Key]
		s.mu.RUnlock()
		if !ok {
			return json.Marshal(map[string]any{"key": req.Key, "found": false})
		}
		return json.Marshal(map[string]any{"key": req.Key, "found": true, "value": value})
	case "keys":
		s.mu.RLock()
		keys := make([]string, 0, len(s.items))
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
		sort.Strings(keys)
		return json.Marshal(keys)
	default:
		return nil, fmt.Errorf("state: unknown query %q", name)
	}
}

// Snapshot encodes state as stable JSON for ease of debugging/migration.
func (s *State) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := make([]Change, 0, len(s.items))
	for k, v := range s.items {
		arr = append(arr, Change{Key: k, Value: v})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].Key < arr[j].Key })
	return json.Marshal(struct {
		Version int      `json:"version"`
		Items   []Change `json:"items"`
	}{Version: 1, Items: arr})
}

func (s *State) Restore(buf []byte) error {
	var snapshot struct {
		Version int      `json:"version"`
		Items   []Change `json:"items"`
	}
	if err := json.Unmarshal(buf, &snapshot); err != nil {
		return err
	}
	// For now we only support Version 1.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]string, len(snapshot.Items))
	for _, it := range snapshot.Items {
		if it.Key == "" {
			continue
		}
		s.items[it.Key] = it.Value
	}
	return nil
}

// Ensure interface satisfaction at compile-time.
var _ base.Machine = (*State)(nil)
