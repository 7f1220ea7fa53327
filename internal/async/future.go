// Package async provides the one-shot completion handle shared by the cache
// and the request coalescer.
package async

import (
	"context"
	"sync"
)

// Waiter is the untyped view of a Future
type Waiter interface {
	Done() <-chan struct{}
	Err() error
}

// Future is a one-shot completion handle. It settles exactly once, either
// resolved with a value or rejected with an error; later attempts are no-ops.
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     T
	err     error
}

// New returns a pending future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already resolved with v
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a future already rejected with err
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. Returns false if it was already settled.
func (f *Future[T]) Resolve(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.val = v
	f.settled = true
	close(f.done)
	return true
}

// Reject settles the future with err. Returns false if it was already settled.
func (f *Future[T]) Reject(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.err = err
	f.settled = true
	close(f.done)
	return true
}

// Done is closed once the future settles
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has been resolved or rejected
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Resolved reports whether the future settled successfully
func (f *Future[T]) Resolved() bool {
	if !f.Settled() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err == nil
}

// Err returns the rejection error, or nil while pending or when resolved
func (f *Future[T]) Err() error {
	if !f.Settled() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future settles or ctx is done.
// Cancelling ctx abandons the wait; it does not settle the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value without blocking; ok is false while pending
func (f *Future[T]) Result() (v T, ok bool, err error) {
	if !f.Settled() {
		return v, false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, true, f.err
}
