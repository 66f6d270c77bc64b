// Package clock implements the per-peer monotonic logical counter used to
// stamp DAG node sequence numbers and column versions.
//
// The Clock is process-wide per peer (never a global) and must survive
// restarts: callers are expected to persist the counter value (e.g. under
// the `meta/clock` storage key, spec §6) and restore it by passing it to
// New before resuming writes.
package clock

import "sync/atomic"

// Clock is a thread-safe, strictly-increasing counter. The zero value is
// ready to use and starts at 0, meaning "never written" per spec §3.
type Clock struct {
	counter atomic.Uint64
}

// New returns a Clock starting from the given value, typically the value
// last persisted to `meta/clock`.
func New(start uint64) *Clock {
	c := &Clock{}
	c.counter.Store(start)
	return c
}

// Next returns the current counter value and atomically increments it.
// The first call on a fresh Clock returns 0; spec §3 treats a column
// version of 0 as "never written", so the first real write uses the
// value returned by the second call onward in practice (callers that
// want versions starting at 1 should call Next once and discard it, or
// simply treat the returned value as a 0-based sequence and add 1).
func (c *Clock) Next() uint64 {
	return c.counter.Add(1) - 1
}

// Peek returns the current counter value without advancing it.
func (c *Clock) Peek() uint64 {
	return c.counter.Load()
}

// Observe performs Lamport-style catch-up: given a remote (writer, version)
// pair observed for this peer's own identity (i.e. a replayed or
// self-originated write seen come back through sync), it advances the
// local counter past the remote version if necessary. It never goes
// backwards.
func (c *Clock) Observe(remoteVersion uint64) {
	for {
		cur := c.counter.Load()
		if remoteVersion < cur {
			return
		}
		if c.counter.CompareAndSwap(cur, remoteVersion+1) {
			return
		}
	}
}
