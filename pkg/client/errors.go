package client

import (
	"errors"

	"github.com/amirimatin/go-raftclient/pkg/session"
)

var (
	// ErrNilArgument rejects nil operations, callbacks and event names at
	// the call boundary, synchronously.
	ErrNilArgument = errors.New("client: nil argument")
	// ErrInvalidOperation rejects operations that are neither a command
	// nor a query.
	ErrInvalidOperation = errors.New("client: operation must be a command or query")
	// ErrNotOpen rejects calls before Open.
	ErrNotOpen = errors.New("client: not open")

	// Terminal session failures, surfaced through futures.
	ErrSessionExpired   = session.ErrSessionExpired
	ErrSessionClosed    = session.ErrSessionClosed
	ErrRetriesExhausted = session.ErrRetriesExhausted
)
