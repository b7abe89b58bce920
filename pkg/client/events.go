package client

import "encoding/json"

// OnEventFunc registers a zero-argument callback for events whose payload the
// application does not care about. Same ordering and threading guarantees as
// OnEvent.
func (c *Client) OnEventFunc(event string, cb func()) (*Listener, error) {
	if event == "" || cb == nil {
		return nil, ErrNilArgument
	}
	return c.reg.add(event, func([]byte) { cb() }), nil
}

// OnEventAs registers a typed callback: payloads are JSON-decoded into T
// before delivery. Payloads that fail to decode are dropped; delivery order
// for the remaining events is unchanged.
func OnEventAs[T any](c *Client, event string, cb func(T)) (*Listener, error) {
	if event == "" || cb == nil {
		return nil, ErrNilArgument
	}
	return c.reg.add(event, func(payload []byte) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return
		}
		cb(v)
	}), nil
}
