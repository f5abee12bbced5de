// Package settle provides a one-shot result cell that remembers its outcome
// so late waiters still observe it.
package settle

import (
	"context"
	"sync"
)

// Cell holds a value or an error that is set exactly once. Waiters that
// arrive after the cell settled return immediately with the stored outcome.
type Cell[T any] struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	value T
	err   error
}

// New returns an unsettled cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Resolve settles the cell with v. Returns false if it was already settled.
func (c *Cell[T]) Resolve(v T) bool {
	return c.settle(v, nil)
}

// Reject settles the cell with err. Returns false if it was already settled.
func (c *Cell[T]) Reject(err error) bool {
	var zero T
	return c.settle(zero, err)
}

func (c *Cell[T]) settle(v T, err error) bool {
	settled := false
	c.once.Do(func() {
		c.mu.Lock()
		c.value, c.err = v, err
		c.mu.Unlock()
		close(c.done)
		settled = true
	})
	return settled
}

// Done is closed once the cell settles.
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Settled reports whether Resolve or Reject has been called.
func (c *Cell[T]) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result returns the stored outcome. Only meaningful once Settled is true.
func (c *Cell[T]) Result() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// Wait blocks until the cell settles or ctx is done.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
