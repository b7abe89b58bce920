package session

import (
	"context"
	"sync"
)

// Future is the completion handle for one submission. It resolves exactly
// once, strictly after the futures of all earlier submissions on the same
// session, and its completion callbacks run on the session's callback context.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	result    []byte
	err       error
	completed bool
	cbs       []func([]byte, error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome; only meaningful after Done is closed.
func (f *Future) Result() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Wait blocks until resolution or ctx cancellation. Abandoning a submission
// this way does not suppress its server-side effect.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnComplete registers fn to run when the future resolves, on the session
// callback context. If the future already resolved, fn runs inline.
func (f *Future) OnComplete(fn func(result []byte, err error)) {
	f.mu.Lock()
	if f.completed {
		result, err := f.result, f.err
		f.mu.Unlock()
		fn(result, err)
		return
	}
	f.cbs = append(f.cbs, fn)
	f.mu.Unlock()
}

// complete resolves the future; callbacks run inline on the caller, which is
// always the session loop.
func (f *Future) complete(result []byte, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.result, f.err = result, err
	cbs := f.cbs
	f.cbs = nil
	close(f.done)
	f.mu.Unlock()
	for _, fn := range cbs {
		fn(result, err)
	}
}

// failedFuture returns an already-resolved future, used for fast-path
// rejections after expiry or close.
func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(nil, err)
	return f
}
