// Package admission implements a FIFO-fair counting semaphore bounding
// concurrent origin calls, with a limit that can be resized at runtime
// without revoking permits already held. A fixed-capacity buffered channel
// can't express the resize requirement, so this is a small hand-rolled
// primitive built around a single resizable waiter queue.
package admission

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// State is a snapshot of the controller's occupancy, returned for
// observability and tests.
type State struct {
	Limit   int
	Active  int
	Waiting int
}

// Controller bounds concurrent admissions to Limit, queuing excess Acquire
// calls in FIFO order until a permit frees up or the caller's context is
// canceled.
type Controller struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters *list.List // of chan struct{}
}

// New creates a Controller with the given initial limit. A non-positive
// limit is treated as 1: the admission controller always admits at least
// one in-flight origin call.
func New(limit int) *Controller {
	if limit < 1 {
		limit = 1
	}
	return &Controller{
		limit:   limit,
		waiters: list.New(),
	}
}

// Acquire blocks until a permit is available or ctx is done. On context
// cancellation, Acquire guarantees the caller never holds a permit — even
// in the race where a concurrent Release hands this waiter a permit in the
// same instant its context is canceled, that permit is immediately handed
// back to the next waiter (or returned to the pool) before Acquire returns.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.active < c.limit {
		c.active++
		c.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	elem := c.waiters.PushBack(ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		select {
		case <-ch:
			// Already handed a permit concurrently with cancellation; it is
			// already counted in active (Release passed it over without
			// decrementing, Resize incremented it), so give it back to the
			// next waiter instead of leaking it.
			c.mu.Unlock()
			c.Release()
		default:
			c.waiters.Remove(elem)
			c.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release returns one permit to the controller, handing it directly to the
// longest-waiting blocked Acquire if one exists (FIFO), or else decrementing
// the active count. Calling Release without a matching successful Acquire
// is a programming error and panics rather than silently corrupting the
// active count.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.active <= 0 {
		c.mu.Unlock()
		panic("admission: Release called without a matching Acquire")
	}

	if front := c.waiters.Front(); front != nil {
		c.waiters.Remove(front)
		ch := front.Value.(chan struct{})
		// Close while still holding mu: a canceling Acquire takes mu before
		// checking ch, so this ordering guarantees it never observes the
		// waiter removed from the list without also observing ch closed.
		// Closing after Unlock would open a window where Acquire's cancel
		// path sees neither and the permit is lost for good.
		close(ch)
		c.mu.Unlock()
		return
	}

	c.active--
	c.mu.Unlock()
}

// Resize changes the concurrency limit. Raising it immediately admits
// queued waiters up to the new limit. Lowering it only caps future
// admissions — permits already held are never revoked.
func (c *Controller) Resize(limit int) error {
	if limit < 1 {
		return fmt.Errorf("admission: limit must be >= 1, got %d", limit)
	}
	c.mu.Lock()
	c.limit = limit
	for c.active < c.limit {
		front := c.waiters.Front()
		if front == nil {
			break
		}
		c.waiters.Remove(front)
		c.active++
		ch := front.Value.(chan struct{})
		close(ch)
	}
	c.mu.Unlock()
	return nil
}

// State returns a snapshot of current occupancy.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Limit:   c.limit,
		Active:  c.active,
		Waiting: c.waiters.Len(),
	}
}
