package sandbox

import (
	"context"
	"sync"
)

// Pending is a handle to an in-flight asynchronous result, such as a nested
// Exec call or an explicit unlock started before the outer call. An argument
// value may be a literal, a token string, or a Pending; the resolution pass
// treats all three uniformly and awaits every Pending concurrently.
type Pending struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// Go starts fn on its own goroutine and returns a handle to its eventual
// result.
func Go(fn func() (any, error)) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		value, err := fn()
		p.resolve(value, err)
	}()
	return p
}

// NewPending returns an unresolved handle and the function that resolves it.
// Resolving more than once is a no-op.
func NewPending() (*Pending, func(any, error)) {
	p := &Pending{done: make(chan struct{})}
	return p, p.resolve
}

func (p *Pending) resolve(value any, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}

// Await blocks until the handle resolves or ctx is cancelled.
func (p *Pending) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
