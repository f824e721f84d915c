// Package coord provides shared-memory coordination primitives for pools of
// worker goroutines:
//
//   - BoundedChannel: fixed-capacity circular buffer, blocking Put/Take with
//     flow control on both sides.
//   - BlockingQueue: unbounded FIFO linked queue, non-blocking Enqueue,
//     blocking Dequeue and a close/drain protocol.
//   - ResourceArbiter: N exclusive resources in a ring where every worker needs
//     two neighbours; admission control plus ordered acquisition keep it
//     deadlock-free.
//
// Each primitive owns its state and never takes a lock that belongs to another
// one. Blocking calls wait without bound; the *Context variants are the
// cancellation hook for callers that need one.
package coord

const (
	// MaxCapacity bounds BoundedChannel storage.
	MaxCapacity = 1 << 26

	// MaxResources bounds the ResourceArbiter token table.
	MaxResources = 1 << 20
)
