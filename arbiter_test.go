package coord

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWorkers starts one goroutine per worker and fails the test if they do
// not all finish within timeout.
func runWorkers(t *testing.T, a *ResourceArbiter, workers, cycles int, hooks WorkerHooks, timeout time.Duration) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			if err := a.Run(context.Background(), w, cycles, hooks); err != nil {
				t.Errorf("worker %d: %v", w, err)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("workers did not finish within %v (deadlock?)", timeout)
	}
}

func TestNewResourceArbiterInvalid(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := NewResourceArbiter(n)
		assert.ErrorIs(t, err, ErrInvalidConfig)

		var ce *ConfigError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "resources", ce.Param)
	}

	_, err := NewResourceArbiter(MaxResources + 1)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestResourceArbiterPair(t *testing.T) {
	tests := []struct {
		n, worker int
		low, high int
	}{
		{n: 5, worker: 0, low: 0, high: 1},
		{n: 5, worker: 3, low: 3, high: 4},
		{n: 5, worker: 4, low: 0, high: 4},
		{n: 5, worker: 7, low: 2, high: 3},
		{n: 2, worker: 0, low: 0, high: 1},
		{n: 2, worker: 1, low: 0, high: 1},
		{n: 1, worker: 0, low: 0, high: 0},
		{n: 1, worker: 3, low: 0, high: 0},
	}

	for _, tt := range tests {
		a, err := NewResourceArbiter(tt.n)
		require.NoError(t, err)
		low, high := a.Pair(tt.worker)
		assert.Equal(t, tt.low, low, "n=%d worker=%d", tt.n, tt.worker)
		assert.Equal(t, tt.high, high, "n=%d worker=%d", tt.n, tt.worker)
	}
}

func TestResourceArbiterAdmissionSize(t *testing.T) {
	for n, want := range map[int]int64{1: 1, 2: 1, 3: 2, 8: 7} {
		a, err := NewResourceArbiter(n)
		require.NoError(t, err)
		assert.Equal(t, want, a.Stats().AdmissionSize, "n=%d", n)
	}
}

func TestResourceArbiterLeaseRelease(t *testing.T) {
	a, err := NewResourceArbiter(2)
	require.NoError(t, err)

	l := a.Acquire(0)
	low, high := l.Resources()
	assert.Equal(t, 0, low)
	assert.Equal(t, 1, high)
	assert.Equal(t, 0, l.Worker())
	assert.Equal(t, int64(1), a.Stats().Admitted)

	// Both workers need the same pair, so worker 1 must wait.
	acquired := make(chan *Lease)
	go func() {
		acquired <- a.Acquire(1)
	}()
	select {
	case <-acquired:
		t.Fatal("second worker acquired a held pair")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	l.Release()

	var l2 *Lease
	select {
	case l2 = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second worker not admitted after release")
	}
	l2.Release()

	st := a.Stats()
	assert.Equal(t, int64(0), st.Admitted)
	assert.Equal(t, uint64(2), st.ActiveEntries)
	assert.Equal(t, []int32{1, 1}, st.PeakHolders)
}

func TestResourceArbiterAcquireContext(t *testing.T) {
	a, err := NewResourceArbiter(3)
	require.NoError(t, err)

	// Worker 1 is admitted and then parks on resource 1, held by worker 0,
	// so both admission units are taken.
	l0 := a.Acquire(0)
	acquired := make(chan *Lease, 1)
	go func() { acquired <- a.Acquire(1) }()
	require.Eventually(t, func() bool { return a.Stats().Admitted == 2 },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	l, err := a.AcquireContext(ctx, 2)
	assert.Nil(t, l)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(2), a.Stats().Admitted)

	l0.Release()
	var l1 *Lease
	select {
	case l1 = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("worker 1 did not get its resources after release")
	}
	l1.Release()
	l2, err := a.AcquireContext(context.Background(), 2)
	require.NoError(t, err)
	l2.Release()
}

func TestResourceArbiterRunArgs(t *testing.T) {
	a, err := NewResourceArbiter(3)
	require.NoError(t, err)

	err = a.Run(context.Background(), 0, -1, WorkerHooks{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Run(ctx, 0, 5, WorkerHooks{})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, a.Run(context.Background(), 0, 0, WorkerHooks{}))
	assert.Equal(t, uint64(0), a.Stats().ActiveEntries)
}

func TestResourceArbiterSingleResource(t *testing.T) {
	a, err := NewResourceArbiter(1)
	require.NoError(t, err)

	var inside atomic.Int32
	hooks := WorkerHooks{
		Act: func(worker, cycle int) {
			if n := inside.Add(1); n > 1 {
				t.Errorf("%d workers active on a single resource", n)
			}
			runtime.Gosched()
			inside.Add(-1)
		},
	}
	runWorkers(t, a, 3, 20, hooks, 10*time.Second)

	st := a.Stats()
	assert.Equal(t, uint64(60), st.ActiveEntries)
	assert.Equal(t, []int32{1}, st.PeakHolders)
}

// Runs N workers over N resources for 50 cycles and checks termination,
// mutual exclusion and the admission bound.
func TestResourceArbiterNoDeadlock(t *testing.T) {
	const cycles = 50

	for _, n := range []int{2, 3, 5, 8} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			var admitted, peak atomic.Int64
			observer := ObserverFunc(func(worker int, p Phase) {
				switch p {
				case PhaseAcquiringResources:
					cur := admitted.Add(1)
					for {
						old := peak.Load()
						if cur <= old || peak.CompareAndSwap(old, cur) {
							break
						}
					}
				case PhaseReleasing:
					admitted.Add(-1)
				}
			})

			a, err := NewResourceArbiter(n, WithObserver(observer))
			require.NoError(t, err)

			holders := make([]int32, n)
			hooks := WorkerHooks{
				Think: func(int) { runtime.Gosched() },
				Act: func(worker, cycle int) {
					low, high := a.Pair(worker)
					res := []int{low}
					if high != low {
						res = append(res, high)
					}
					for _, r := range res {
						if h := atomic.AddInt32(&holders[r], 1); h > 1 {
							t.Errorf("resource %d held by %d workers", r, h)
						}
					}
					runtime.Gosched()
					for _, r := range res {
						atomic.AddInt32(&holders[r], -1)
					}
				},
			}

			runWorkers(t, a, n, cycles, hooks, 30*time.Second)

			st := a.Stats()
			assert.Equal(t, uint64(n*cycles), st.ActiveEntries)
			assert.LessOrEqual(t, st.PeakAdmitted, int64(max(n-1, 1)))
			assert.LessOrEqual(t, peak.Load(), int64(max(n-1, 1)))
			for i, h := range st.PeakHolders {
				assert.LessOrEqual(t, h, int32(1), "token %d", i)
			}
			assert.Equal(t, int64(0), st.Admitted)
		})
	}
}

// Five resources, five workers, twenty cycles each: one hundred active
// entries in total.
func TestResourceArbiterActiveEntries(t *testing.T) {
	const (
		n      = 5
		cycles = 20
	)

	a, err := NewResourceArbiter(n)
	require.NoError(t, err)

	var acts atomic.Int64
	runWorkers(t, a, n, cycles, WorkerHooks{
		Act: func(int, int) { acts.Add(1) },
	}, 30*time.Second)

	assert.Equal(t, int64(n*cycles), acts.Load())
	assert.Equal(t, uint64(n*cycles), a.Stats().ActiveEntries)
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases map[int][]Phase
}

func (r *phaseRecorder) OnPhase(worker int, p Phase) {
	r.mu.Lock()
	r.phases[worker] = append(r.phases[worker], p)
	r.mu.Unlock()
}

func TestResourceArbiterPhaseSequence(t *testing.T) {
	const (
		n      = 4
		cycles = 10
	)

	rec := &phaseRecorder{phases: map[int][]Phase{}}
	a, err := NewResourceArbiter(n, WithObserver(rec))
	require.NoError(t, err)

	var cycleSeen sync.Map
	runWorkers(t, a, n, cycles, WorkerHooks{
		Act: func(worker, cycle int) { cycleSeen.Store(fmt.Sprintf("%d/%d", worker, cycle), true) },
	}, 10*time.Second)

	for w := 0; w < n; w++ {
		seq := rec.phases[w]
		require.NotEmpty(t, seq)
		assert.Equal(t, PhaseIdle, seq[0])
		assert.Equal(t, PhaseDone, seq[len(seq)-1])
		assert.Len(t, seq, 2+5*cycles)
		for i := 1; i < len(seq); i++ {
			assert.True(t, CanTransition(seq[i-1], seq[i]), "worker %d: %s -> %s", w, seq[i-1], seq[i])
		}
		for c := 0; c < cycles; c++ {
			_, ok := cycleSeen.Load(fmt.Sprintf("%d/%d", w, c))
			assert.True(t, ok, "worker %d missed cycle %d", w, c)
		}
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "requesting-admission", PhaseRequestingAdmission.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "unknown", Phase(42).String())
	assert.True(t, CanTransition(PhaseIdle, PhaseDone))
	assert.False(t, CanTransition(PhaseThinking, PhaseActive))
	assert.False(t, CanTransition(PhaseDone, PhaseThinking))
}

func TestResourceArbiterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewResourceArbiter(3, WithArbiterMetrics(reg))
	require.NoError(t, err)

	l := a.Acquire(0)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.m.admitted))
	l.Release()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.m.entries))
	assert.Equal(t, 0.0, testutil.ToFloat64(a.m.admitted))
}

func BenchmarkResourceArbiter(b *testing.B) {
	const n = 5

	a, err := NewResourceArbiter(n)
	if err != nil {
		b.Fatal(err)
	}

	var worker atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := int(worker.Add(1))
		for pb.Next() {
			a.Acquire(w).Release()
		}
	})
}
