package session

import "errors"

var (
	// ErrSessionExpired terminates a session: every pending submission and
	// all later ones resolve with this error.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionClosed is used instead of ErrSessionExpired when the
	// application closed the session itself.
	ErrSessionClosed = errors.New("session: closed")
	// ErrRetriesExhausted fails a single submission whose retry budget ran
	// out before any member accepted it.
	ErrRetriesExhausted = errors.New("session: retries exhausted")
	// ErrNoMembers means no cluster member could be reached.
	ErrNoMembers = errors.New("session: no reachable members")
	// ErrNotOpen rejects submissions before Open succeeded.
	ErrNotOpen = errors.New("session: not open")
)
