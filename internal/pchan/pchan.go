// Package pchan implements the bounded multi-producer multi-consumer
// provider channel fabric of spec.md §4.B: try_send/force_send/send_all/recv
// over a queue whose limit is either Fixed or Auto-growing, with LIFO-park
// waker semantics realized here as broadcast-on-every-state-change condition
// variables (native Go channels can't grow their capacity at runtime, so a
// mutex-guarded ring plus sync.Cond is the idiomatic substitute).
package pchan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/FamilySearch/pewpew/internal/value"
)

// LimitKind selects whether a Chan's capacity is fixed or may grow.
type LimitKind int

const (
	Fixed LimitKind = iota
	Auto
)

// Chan is one provider's backing queue (spec.md §3 "Channel").
type Chan struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items []value.Value
	limit int64
	kind  LimitKind

	senders int64 // atomic: live sender handles
	closed  bool  // true once Close has been called (shutdown broadcast)
}

// New creates a channel with the given limit policy. initial must be >= 1.
func New(kind LimitKind, initial int64) *Chan {
	if initial < 1 {
		initial = 1
	}
	c := &Chan{limit: initial, kind: kind, senders: 1}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return c
}

// AddSender registers another producer handle against this channel.
func (c *Chan) AddSender() { atomic.AddInt64(&c.senders, 1) }

// DropSender releases one producer handle; when the last sender drops, all
// parked receivers are woken to observe end-of-stream.
func (c *Chan) DropSender() {
	if atomic.AddInt64(&c.senders, -1) == 0 {
		c.mu.Lock()
		c.notEmpty.Broadcast()
		c.mu.Unlock()
	}
}

// Close forcibly unparks every blocked sender/receiver (test shutdown
// broadcast); subsequent TrySend and SendBlock calls fail (ForceSend still
// enqueues) and receives drain remaining items then report end-of-stream.
func (c *Chan) Close() {
	c.mu.Lock()
	c.closed = true
	c.notEmpty.Broadcast()
	c.notFull.Broadcast()
	c.mu.Unlock()
}

// Len reports the current queue length.
func (c *Chan) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Limit reports the current capacity (only meaningful to observe right
// after a drain-to-empty for the Auto-grow invariant in spec.md §8).
func (c *Chan) Limit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// TrySend succeeds iff len(items) < limit.
func (c *Chan) TrySend(v value.Value) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || int64(len(c.items)) >= c.limit {
		return false
	}
	c.items = append(c.items, v)
	c.notEmpty.Broadcast()
	return true
}

// ForceSend bypasses the limit entirely.
func (c *Chan) ForceSend(v value.Value) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.notEmpty.Broadcast()
	c.mu.Unlock()
}

// SendBlock awaits capacity, honoring ctx cancellation (the shutdown
// broadcast races every suspension point per spec.md §5).
func (c *Chan) SendBlock(ctx context.Context, v value.Value) error {
	done := ctx.Done()
	stop := c.watchCtx(done)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.closed && int64(len(c.items)) >= c.limit {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.notFull.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.closed {
		return errors.New("pchan: send on closed channel")
	}
	c.items = append(c.items, v)
	c.notEmpty.Broadcast()
	return nil
}

// SendIfNotFull is TrySend with an explicit name matching the if_not_full
// auto-return/send behavior of spec.md §4.B.
func (c *Chan) SendIfNotFull(v value.Value) bool { return c.TrySend(v) }

// SendAll back-pressure-sends every item of vs in order, stopping at the
// first SendBlock error (context cancellation).
func (c *Chan) SendAll(ctx context.Context, vs []value.Value) error {
	for _, v := range vs {
		if err := c.SendBlock(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Recv dequeues one item. ok is false at end-of-stream (empty queue, no
// senders remain). When a successful receive empties the queue under an
// Auto limit, the limit grows by one (spec.md §8 auto-grow invariant).
func (c *Chan) Recv(ctx context.Context) (value.Value, bool, error) {
	done := ctx.Done()
	stop := c.watchCtx(done)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.items) == 0 {
		if atomic.LoadInt64(&c.senders) == 0 || c.closed {
			return value.NewNull(), false, nil
		}
		if ctx.Err() != nil {
			return value.NewNull(), false, ctx.Err()
		}
		c.notEmpty.Wait()
	}
	v := c.items[0]
	c.items = c.items[1:]
	if len(c.items) == 0 && c.kind == Auto {
		c.limit++
	}
	c.notFull.Broadcast()
	return v, true, nil
}

// watchCtx spawns a goroutine that broadcasts both conds when ctx is
// cancelled, so a blocked Wait() re-checks ctx.Err() promptly. The returned
// func stops the watcher and must always be deferred.
func (c *Chan) watchCtx(done <-chan struct{}) func() {
	if done == nil {
		return func() {}
	}
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-done:
			c.mu.Lock()
			c.notEmpty.Broadcast()
			c.notFull.Broadcast()
			c.mu.Unlock()
		case <-stopCh:
		}
	}()
	return func() { close(stopCh) }
}
