package coord

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// BoundedChannel is a fixed-capacity circular buffer with blocking Put/Take.
//
// Producers wait on the pool of empty slots, consumers on the pool of full
// slots; the index/occupancy update itself runs under mu. Waiting never happens
// while mu is held.
type BoundedChannel[T any] struct {
	empty *Permits // free slots, starts at capacity
	full  *Permits // stored items, starts at 0

	mu         sync.Mutex
	storage    []T
	capacity   int
	writeIndex int
	readIndex  int
	occupancy  int
	peak       int

	// Keep the lock-free counters off the cache line written under mu.
	_ [64]byte

	puts  atomic.Uint64
	takes atomic.Uint64

	m *channelMetrics
}

// ChannelStats is a snapshot of BoundedChannel counters.
type ChannelStats struct {
	Puts          uint64
	Takes         uint64
	BlockedPuts   uint64 // Put calls that found the channel full
	BlockedTakes  uint64 // Take calls that found the channel empty
	Occupancy     int
	PeakOccupancy int
}

// ChannelOption configures a BoundedChannel.
type ChannelOption func(*channelOptions)

type channelOptions struct {
	reg prometheus.Registerer
}

// WithChannelMetrics enables Prometheus metrics collection using the provided registerer.
func WithChannelMetrics(reg prometheus.Registerer) ChannelOption {
	return func(o *channelOptions) {
		o.reg = reg
	}
}

type channelMetrics struct {
	puts      prometheus.Counter
	takes     prometheus.Counter
	occupancy prometheus.Gauge
}

func newChannelMetrics(reg prometheus.Registerer) *channelMetrics {
	m := &channelMetrics{
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_channel_puts_total",
			Help: "Total number of items put into the bounded channel",
		}),
		takes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_channel_takes_total",
			Help: "Total number of items taken from the bounded channel",
		}),
		occupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coord_channel_occupancy",
			Help: "Current number of items stored in the bounded channel",
		}),
	}
	reg.MustRegister(m.puts, m.takes, m.occupancy)
	return m
}

// NewBoundedChannel creates a channel holding at most capacity items.
// capacity must be > 0.
func NewBoundedChannel[T any](capacity int, opts ...ChannelOption) (*BoundedChannel[T], error) {
	if err := ValidatePositive("capacity", capacity); err != nil {
		return nil, err
	}
	if capacity > MaxCapacity {
		return nil, ErrResourceExhausted
	}

	var o channelOptions
	for _, opt := range opts {
		opt(&o)
	}

	empty, err := NewPermits(int64(capacity), int64(capacity))
	if err != nil {
		return nil, err
	}
	full, err := NewPermits(int64(capacity), 0)
	if err != nil {
		return nil, err
	}

	c := &BoundedChannel[T]{
		empty:    empty,
		full:     full,
		storage:  make([]T, capacity),
		capacity: capacity,
	}
	if o.reg != nil {
		c.m = newChannelMetrics(o.reg)
	}
	return c, nil
}

// Put stores item, blocking until a slot is free.
// May be called concurrently from many goroutines (producers).
func (c *BoundedChannel[T]) Put(item T) {
	c.empty.Acquire()
	c.store(item)
}

// PutContext is Put with cancellation. If ctx is done before a slot frees up
// the item is not stored and ctx.Err() is returned.
func (c *BoundedChannel[T]) PutContext(ctx context.Context, item T) error {
	if err := c.empty.AcquireContext(ctx); err != nil {
		return err
	}
	c.store(item)
	return nil
}

// TryPut stores item if a slot is free.
// Returns false if the channel is full.
func (c *BoundedChannel[T]) TryPut(item T) bool {
	if !c.empty.TryAcquire() {
		return false
	}
	c.store(item)
	return true
}

// Take removes the oldest item, blocking until one is available.
// May be called concurrently from many goroutines (consumers).
func (c *BoundedChannel[T]) Take() T {
	c.full.Acquire()
	return c.load()
}

// TakeContext is Take with cancellation. If ctx is done before an item arrives
// the channel is left untouched and ctx.Err() is returned.
func (c *BoundedChannel[T]) TakeContext(ctx context.Context) (T, error) {
	if err := c.full.AcquireContext(ctx); err != nil {
		var zero T
		return zero, err
	}
	return c.load(), nil
}

// TryTake removes the oldest item if there is one.
// Returns (zero, false) if the channel is empty.
func (c *BoundedChannel[T]) TryTake() (T, bool) {
	if !c.full.TryAcquire() {
		var zero T
		return zero, false
	}
	return c.load(), true
}

// store writes item at writeIndex. The caller holds one empty-slot permit.
func (c *BoundedChannel[T]) store(item T) {
	c.mu.Lock()
	c.storage[c.writeIndex] = item
	c.writeIndex = (c.writeIndex + 1) % c.capacity
	c.occupancy++
	if c.occupancy > c.peak {
		c.peak = c.occupancy
	}
	if c.m != nil {
		c.m.occupancy.Set(float64(c.occupancy))
	}
	c.mu.Unlock()

	c.puts.Add(1)
	if c.m != nil {
		c.m.puts.Inc()
	}
	c.full.Release()
}

// load reads the item at readIndex. The caller holds one full-slot permit.
func (c *BoundedChannel[T]) load() T {
	var zero T

	c.mu.Lock()
	item := c.storage[c.readIndex]
	c.storage[c.readIndex] = zero // drop the channel's reference
	c.readIndex = (c.readIndex + 1) % c.capacity
	c.occupancy--
	if c.m != nil {
		c.m.occupancy.Set(float64(c.occupancy))
	}
	c.mu.Unlock()

	c.takes.Add(1)
	if c.m != nil {
		c.m.takes.Inc()
	}
	c.empty.Release()
	return item
}

// Len returns the current occupancy.
func (c *BoundedChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupancy
}

// Capacity returns the fixed channel capacity.
func (c *BoundedChannel[T]) Capacity() int {
	return c.capacity
}

// Stats retrieves the current statistics of the BoundedChannel.
func (c *BoundedChannel[T]) Stats() ChannelStats {
	c.mu.Lock()
	occ, peak := c.occupancy, c.peak
	c.mu.Unlock()

	return ChannelStats{
		Puts:          c.puts.Load(),
		Takes:         c.takes.Load(),
		BlockedPuts:   c.empty.Waits(),
		BlockedTakes:  c.full.Waits(),
		Occupancy:     occ,
		PeakOccupancy: peak,
	}
}
