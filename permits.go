package coord

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Permits is a counting permit pool. Acquirers block while no unit is
// available; Release hands a unit back and wakes one waiter.
//
// The pool is backed by a weighted semaphore, so waiters are served in FIFO
// order of arrival.
type Permits struct {
	sem   *semaphore.Weighted
	max   int64
	avail atomic.Int64
	waits atomic.Uint64
}

// NewPermits creates a pool holding at most max units, initial of which are
// available immediately.
func NewPermits(max, initial int64) (*Permits, error) {
	if max <= 0 {
		return nil, &ConfigError{Param: "permits", Value: max, Reason: "must be > 0"}
	}
	if initial < 0 || initial > max {
		return nil, &ConfigError{Param: "initial permits", Value: initial, Reason: "must be within [0, max]"}
	}

	p := &Permits{
		sem: semaphore.NewWeighted(max),
		max: max,
	}
	// Park the units that are not available yet; a fresh semaphore never
	// refuses this.
	if held := max - initial; held > 0 && !p.sem.TryAcquire(held) {
		panic("unreached")
	}
	p.avail.Store(initial)
	return p, nil
}

// Acquire takes one unit, blocking until one is available.
func (p *Permits) Acquire() {
	_ = p.AcquireContext(context.Background())
}

// AcquireContext takes one unit, blocking until one is available or ctx is done.
// On error no unit is held.
func (p *Permits) AcquireContext(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		p.avail.Add(-1)
		return nil
	}
	p.waits.Add(1)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.avail.Add(-1)
	return nil
}

// TryAcquire takes one unit without blocking.
// Returns false if the pool is exhausted.
func (p *Permits) TryAcquire() bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.avail.Add(-1)
	return true
}

// Release returns one unit to the pool.
// Releasing more units than the pool holds panics.
func (p *Permits) Release() {
	p.sem.Release(1)
	p.avail.Add(1)
}

// Available returns a snapshot of the number of free units.
// Under concurrent use the value may be stale by the time it is read.
func (p *Permits) Available() int64 {
	return p.avail.Load()
}

// Max returns the pool size.
func (p *Permits) Max() int64 {
	return p.max
}

// Waits returns how many acquisitions had to block.
func (p *Permits) Waits() uint64 {
	return p.waits.Load()
}
