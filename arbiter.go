package coord

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// token is one exclusive resource. holders is instrumentation only: it is
// raised right after the lock is taken and lowered right before it is
// dropped, so it must never exceed 1.
type token struct {
	mu      sync.Mutex
	holders atomic.Int32
	peak    atomic.Int32
	_       [48]byte
}

// ResourceArbiter hands out pairs of neighbouring resources from a ring of N.
// Worker w needs resources w mod N and (w+1) mod N.
//
// Deadlock is impossible for two independent reasons: at most N-1 workers are
// admitted at once, and every worker locks the lower index before the higher
// one. Starvation is not ruled out: tokens are plain sync.Mutex values and an
// unlucky worker may wait for as long as the mutex lets others barge in.
type ResourceArbiter struct {
	n         int
	tokens    []token
	admission *Permits

	admitted     atomic.Int64
	peakAdmitted atomic.Int64
	entries      atomic.Uint64

	observer Observer
	m        *arbiterMetrics
}

// ArbiterStats is a snapshot of ResourceArbiter counters.
type ArbiterStats struct {
	Resources     int
	AdmissionSize int64
	ActiveEntries uint64 // completed entries into the Active phase
	Admitted      int64  // workers currently past the admission gate
	PeakAdmitted  int64
	PeakHolders   []int32 // per token, the highest holder count ever seen
	AdmissionWait uint64  // admissions that had to block
}

// WorkerHooks are the callbacks a worker runs each cycle. Nil hooks are skipped.
type WorkerHooks struct {
	Think func(worker int)
	Act   func(worker, cycle int)
}

// ArbiterOption configures a ResourceArbiter.
type ArbiterOption func(*arbiterOptions)

type arbiterOptions struct {
	observer Observer
	reg      prometheus.Registerer
}

// WithObserver reports every phase change to o.
func WithObserver(o Observer) ArbiterOption {
	return func(opts *arbiterOptions) {
		opts.observer = o
	}
}

// WithArbiterMetrics enables Prometheus metrics collection using the provided registerer.
func WithArbiterMetrics(reg prometheus.Registerer) ArbiterOption {
	return func(opts *arbiterOptions) {
		opts.reg = reg
	}
}

type arbiterMetrics struct {
	entries  prometheus.Counter
	admitted prometheus.Gauge
}

func newArbiterMetrics(reg prometheus.Registerer) *arbiterMetrics {
	m := &arbiterMetrics{
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_arbiter_active_entries_total",
			Help: "Total number of entries into the active phase",
		}),
		admitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coord_arbiter_admitted",
			Help: "Current number of workers past the admission gate",
		}),
	}
	reg.MustRegister(m.entries, m.admitted)
	return m
}

// NewResourceArbiter creates an arbiter over n resources. n must be >= 1.
//
// The admission pool holds n-1 units. With a single resource that would admit
// nobody, so the pool is clamped to 1 and the lone token is taken once.
func NewResourceArbiter(n int, opts ...ArbiterOption) (*ResourceArbiter, error) {
	if err := ValidatePositive("resources", n); err != nil {
		return nil, err
	}
	if n > MaxResources {
		return nil, ErrResourceExhausted
	}

	var o arbiterOptions
	for _, opt := range opts {
		opt(&o)
	}

	size := int64(max(n-1, 1))
	admission, err := NewPermits(size, size)
	if err != nil {
		return nil, err
	}

	a := &ResourceArbiter{
		n:         n,
		tokens:    make([]token, n),
		admission: admission,
		observer:  o.observer,
	}
	if o.reg != nil {
		a.m = newArbiterMetrics(o.reg)
	}
	return a, nil
}

// Resources returns the number of resources in the ring.
func (a *ResourceArbiter) Resources() int {
	return a.n
}

// Pair returns the two resource indices worker needs, lowest first.
// For a single resource both indices are 0.
func (a *ResourceArbiter) Pair(worker int) (low, high int) {
	left := ((worker % a.n) + a.n) % a.n
	right := (left + 1) % a.n
	return min(left, right), max(left, right)
}

// Lease is the right to use a worker's pair of resources.
// It must be released by the goroutine that acquired it.
type Lease struct {
	a        *ResourceArbiter
	worker   int
	low      int
	high     int
	released bool
}

// Worker returns the worker the lease was granted to.
func (l *Lease) Worker() int { return l.worker }

// Resources returns the held resource indices, lowest first.
func (l *Lease) Resources() (low, high int) { return l.low, l.high }

// Acquire passes the admission gate and locks worker's two resources, lower
// index first. It blocks until both are held.
func (a *ResourceArbiter) Acquire(worker int) *Lease {
	l, _ := a.AcquireContext(context.Background(), worker)
	return l
}

// AcquireContext is Acquire with cancellation at the admission gate. Once a
// worker is admitted, locking its resources is not interruptible.
func (a *ResourceArbiter) AcquireContext(ctx context.Context, worker int) (*Lease, error) {
	a.observe(worker, PhaseRequestingAdmission)
	if err := a.admission.AcquireContext(ctx); err != nil {
		return nil, err
	}
	cur := a.admitted.Add(1)
	for {
		peak := a.peakAdmitted.Load()
		if cur <= peak || a.peakAdmitted.CompareAndSwap(peak, cur) {
			break
		}
	}
	if a.m != nil {
		a.m.admitted.Inc()
	}

	a.observe(worker, PhaseAcquiringResources)
	low, high := a.Pair(worker)
	a.lock(low)
	if high != low {
		a.lock(high)
	}

	a.entries.Add(1)
	if a.m != nil {
		a.m.entries.Inc()
	}
	a.observe(worker, PhaseActive)

	return &Lease{a: a, worker: worker, low: low, high: high}, nil
}

// Release unlocks both resources and then returns the admission unit.
// Calling Release more than once is a no-op.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true

	a := l.a
	a.observe(l.worker, PhaseReleasing)
	if l.high != l.low {
		a.unlock(l.high)
	}
	a.unlock(l.low)

	a.admitted.Add(-1)
	if a.m != nil {
		a.m.admitted.Dec()
	}
	a.admission.Release()
}

func (a *ResourceArbiter) lock(i int) {
	t := &a.tokens[i]
	t.mu.Lock()
	h := t.holders.Add(1)
	for {
		peak := t.peak.Load()
		if h <= peak || t.peak.CompareAndSwap(peak, h) {
			break
		}
	}
}

func (a *ResourceArbiter) unlock(i int) {
	t := &a.tokens[i]
	t.holders.Add(-1)
	t.mu.Unlock()
}

// Run drives one worker through cycles iterations of
// think → admission → acquire → act → release, then marks it done.
// ctx is checked before every cycle and at the admission gate.
func (a *ResourceArbiter) Run(ctx context.Context, worker, cycles int, hooks WorkerHooks) error {
	if err := ValidateNonNegative("cycles", cycles); err != nil {
		return err
	}

	a.observe(worker, PhaseIdle)
	for c := 0; c < cycles; c++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.observe(worker, PhaseThinking)
		if hooks.Think != nil {
			hooks.Think(worker)
		}

		lease, err := a.AcquireContext(ctx, worker)
		if err != nil {
			return err
		}
		a.act(lease, hooks, c)
	}
	a.observe(worker, PhaseDone)
	return nil
}

func (a *ResourceArbiter) act(l *Lease, hooks WorkerHooks, cycle int) {
	defer l.Release()
	if hooks.Act != nil {
		hooks.Act(l.worker, cycle)
	}
}

func (a *ResourceArbiter) observe(worker int, p Phase) {
	if a.observer != nil {
		a.observer.OnPhase(worker, p)
	}
}

// Stats retrieves the current statistics of the ResourceArbiter.
func (a *ResourceArbiter) Stats() ArbiterStats {
	peaks := make([]int32, a.n)
	for i := range a.tokens {
		peaks[i] = a.tokens[i].peak.Load()
	}
	return ArbiterStats{
		Resources:     a.n,
		AdmissionSize: a.admission.Max(),
		ActiveEntries: a.entries.Load(),
		Admitted:      a.admitted.Load(),
		PeakAdmitted:  a.peakAdmitted.Load(),
		PeakHolders:   peaks,
		AdmissionWait: a.admission.Waits(),
	}
}
