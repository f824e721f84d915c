// Package runner drives the coord primitives with pools of worker goroutines.
//
// Each Run* function validates its configuration, starts every worker in an
// errgroup, joins them all and returns a Report. Workers use the context-aware
// variants of the primitives so a cancelled run never leaves a goroutine
// parked.
package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aradilov/coord"
	"github.com/aradilov/coord/metrics"
)

var tracer = otel.Tracer("github.com/aradilov/coord/runner")

// Hooks are the caller-supplied callbacks for producer/consumer runs.
// Nil hooks are skipped; a nil Produce yields the zero item.
type Hooks[T any] struct {
	Produce func(producer, seq int) T
	Consume func(consumer int, item T)
}

func (h Hooks[T]) produce(producer, seq int) T {
	if h.Produce == nil {
		var zero T
		return zero
	}
	return h.Produce(producer, seq)
}

func (h Hooks[T]) consume(consumer int, item T) {
	if h.Consume != nil {
		h.Consume(consumer, item)
	}
}

// Report summarises a finished run.
type Report struct {
	Scenario string
	Workers  int
	Produced int64
	Consumed int64
	Cycles   int64
	Duration time.Duration
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger  *Logger
	metrics *metrics.Run
}

// WithLogger sets the run logger. Runs are silent by default.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records worker activity on m.
func WithMetrics(m *metrics.Run) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

// run is the state shared by all workers of one Run* call.
type run struct {
	o     options
	log   *Logger
	g     *errgroup.Group
	ctx   context.Context
	span  trace.Span
	start time.Time

	workers  int
	startErr error

	produced atomic.Int64
	consumed atomic.Int64
	cycles   atomic.Int64
}

func startRun(ctx context.Context, scenario string, o options, attrs ...attribute.KeyValue) *run {
	ctx, span := tracer.Start(ctx, "Run."+scenario, trace.WithAttributes(attrs...))
	g, gctx := errgroup.WithContext(ctx)
	return &run{
		o:     o,
		log:   o.logger.WithScenario(scenario),
		g:     g,
		ctx:   gctx,
		span:  span,
		start: time.Now(),
	}
}

// spawn starts fn as a worker goroutine. It refuses to start anything once the
// run context is done, recording a *coord.WorkerStartError; workers already
// running are still joined by finish.
func (r *run) spawn(role string, id int, fn func(ctx context.Context, log *Logger) error) bool {
	if r.startErr != nil {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.startErr = coord.NewWorkerStartError(role, id, err)
		return false
	}

	r.workers++
	log := r.log.WithWorker(role, id)
	if r.o.metrics != nil {
		r.o.metrics.Workers.Inc()
	}

	r.g.Go(func() error {
		if r.o.metrics != nil {
			defer r.o.metrics.Workers.Dec()
		}
		ctx, span := tracer.Start(r.ctx, role, trace.WithAttributes(
			attribute.String("coord.worker.role", role),
			attribute.Int("coord.worker.id", id),
		))
		defer span.End()

		err := fn(ctx, log)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	return true
}

func (r *run) itemProduced() {
	r.produced.Add(1)
	if r.o.metrics != nil {
		r.o.metrics.Produced.Inc()
	}
}

func (r *run) itemConsumed() {
	r.consumed.Add(1)
	if r.o.metrics != nil {
		r.o.metrics.Consumed.Inc()
	}
}

func (r *run) cycleDone() {
	r.cycles.Add(1)
	if r.o.metrics != nil {
		r.o.metrics.Cycles.Inc()
	}
}

// finish joins every started worker and builds the report.
func (r *run) finish(scenario string) (Report, error) {
	err := r.g.Wait()
	if r.startErr != nil {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = r.startErr
		} else {
			err = errors.Join(r.startErr, err)
		}
	}

	rep := Report{
		Scenario: scenario,
		Workers:  r.workers,
		Produced: r.produced.Load(),
		Consumed: r.consumed.Load(),
		Cycles:   r.cycles.Load(),
		Duration: time.Since(r.start),
	}
	if r.o.metrics != nil {
		r.o.metrics.Duration.Observe(rep.Duration.Seconds())
	}

	r.span.SetAttributes(
		attribute.Int64("coord.produced", rep.Produced),
		attribute.Int64("coord.consumed", rep.Consumed),
		attribute.Int64("coord.cycles", rep.Cycles),
	)
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.End()

	r.log.LogRun(r.ctx, rep, err)
	return rep, err
}
