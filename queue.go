package coord

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// node is owned by its predecessor (or by head) until it is dequeued.
type node[T any] struct {
	val  T
	next *node[T]
}

// BlockingQueue is an unbounded FIFO queue. Enqueue never blocks; Dequeue
// parks the caller until an item arrives or the queue is done.
//
// The queue is done once it has been closed and drained, or once the
// configured dequeue target has been reached. Reaching either condition wakes
// every parked consumer so none stays blocked after production ends.
type BlockingQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	head *node[T]
	tail *node[T]
	size int

	closed   bool
	target   uint64 // 0 = no target
	enqueued uint64
	dequeued uint64
	waits    uint64

	m *queueMetrics
}

// QueueStats is a snapshot of BlockingQueue counters.
type QueueStats struct {
	Enqueued uint64
	Dequeued uint64
	Waits    uint64 // times a consumer parked on an empty queue
	Len      int
	Closed   bool
}

// QueueOption configures a BlockingQueue.
type QueueOption func(*queueOptions)

type queueOptions struct {
	target int
	reg    prometheus.Registerer
}

// WithTarget makes the queue done after n successful dequeues.
// Zero disables the target.
func WithTarget(n int) QueueOption {
	return func(o *queueOptions) {
		o.target = n
	}
}

// WithQueueMetrics enables Prometheus metrics collection using the provided registerer.
func WithQueueMetrics(reg prometheus.Registerer) QueueOption {
	return func(o *queueOptions) {
		o.reg = reg
	}
}

type queueMetrics struct {
	enqueued prometheus.Counter
	dequeued prometheus.Counter
	depth    prometheus.Gauge
}

func newQueueMetrics(reg prometheus.Registerer) *queueMetrics {
	m := &queueMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_queue_enqueued_total",
			Help: "Total number of items enqueued",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_queue_dequeued_total",
			Help: "Total number of items dequeued",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coord_queue_depth",
			Help: "Current number of queued items",
		}),
	}
	reg.MustRegister(m.enqueued, m.dequeued, m.depth)
	return m
}

// NewBlockingQueue creates an empty queue.
func NewBlockingQueue[T any](opts ...QueueOption) (*BlockingQueue[T], error) {
	var o queueOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := ValidateNonNegative("target", o.target); err != nil {
		return nil, err
	}

	q := &BlockingQueue[T]{target: uint64(o.target)}
	q.cond = sync.NewCond(&q.mu)
	if o.reg != nil {
		q.m = newQueueMetrics(o.reg)
	}
	return q, nil
}

// Enqueue appends item to the tail and wakes one parked consumer.
// Returns ErrClosed if the queue has been closed.
func (q *BlockingQueue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	n := &node[T]{val: item}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
	q.enqueued++

	if q.m != nil {
		q.m.enqueued.Inc()
		q.m.depth.Set(float64(q.size))
	}

	// The woken consumer re-checks emptiness itself.
	q.cond.Signal()
	return nil
}

// Dequeue removes and returns the head item, blocking while the queue is
// empty. Returns (zero, false) once the queue is done.
func (q *BlockingQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.targetReached() {
			var zero T
			return zero, false
		}
		if q.head != nil {
			return q.pop(), true
		}
		if q.closed {
			var zero T
			return zero, false
		}
		q.waits++
		q.cond.Wait()
	}
}

// DequeueContext is Dequeue with cancellation.
// Returns ctx.Err() if ctx is done before an item arrives. The boolean is
// false when the queue is done.
func (q *BlockingQueue[T]) DequeueContext(ctx context.Context) (T, bool, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.targetReached() {
			return zero, false, nil
		}
		if q.head != nil {
			return q.pop(), true, nil
		}
		if q.closed {
			return zero, false, nil
		}
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		q.waits++
		q.cond.Wait()
	}
}

// TryDequeue removes the head item without blocking.
// Returns (zero, false) if the queue is empty or done.
func (q *BlockingQueue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil || q.targetReached() {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// pop unlinks head and hands its value to the caller. q.mu must be held.
func (q *BlockingQueue[T]) pop() T {
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.size--
	q.dequeued++

	item := n.val
	n.next = nil

	if q.m != nil {
		q.m.dequeued.Inc()
		q.m.depth.Set(float64(q.size))
	}

	if q.targetReached() {
		q.cond.Broadcast()
	}
	return item
}

func (q *BlockingQueue[T]) targetReached() bool {
	return q.target > 0 && q.dequeued >= q.target
}

// Notify wakes one parked consumer.
func (q *BlockingQueue[T]) Notify() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// NotifyAll wakes every parked consumer so each can re-check its
// termination condition.
func (q *BlockingQueue[T]) NotifyAll() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Close marks the queue closed and wakes every parked consumer.
// Items already queued are still handed out; later Enqueue calls fail.
// Close is idempotent.
func (q *BlockingQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Closed reports whether Close has been called.
func (q *BlockingQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Done reports whether Dequeue would return false without blocking.
func (q *BlockingQueue[T]) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.targetReached() || (q.closed && q.head == nil)
}

// Len returns the number of queued items.
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats retrieves the current statistics of the BlockingQueue.
func (q *BlockingQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Waits:    q.waits,
		Len:      q.size,
		Closed:   q.closed,
	}
}
