package runner

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aradilov/coord"
)

// PipelineConfig sizes a bounded channel run.
type PipelineConfig struct {
	Producers        int
	Consumers        int
	ItemsPerProducer int
}

func (c PipelineConfig) validate() error {
	if err := coord.ValidatePositive("producers", c.Producers); err != nil {
		return err
	}
	if err := coord.ValidatePositive("consumers", c.Consumers); err != nil {
		return err
	}
	return coord.ValidateNonNegative("items per producer", c.ItemsPerProducer)
}

// RunPipeline moves Producers*ItemsPerProducer items through ch. Consumers
// share a countdown, so together they take exactly as many items as were put
// and then exit.
func RunPipeline[T any](ctx context.Context, ch *coord.BoundedChannel[T], cfg PipelineConfig, hooks Hooks[T], opts ...Option) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}

	r := startRun(ctx, "channel", newOptions(opts),
		attribute.Int("coord.producers", cfg.Producers),
		attribute.Int("coord.consumers", cfg.Consumers),
		attribute.Int("coord.capacity", ch.Capacity()),
	)

	var remaining atomic.Int64
	remaining.Store(int64(cfg.Producers * cfg.ItemsPerProducer))

	for id := 0; id < cfg.Consumers; id++ {
		ok := r.spawn("consumer", id, func(ctx context.Context, log *Logger) error {
			handled := 0
			for remaining.Add(-1) >= 0 {
				item, err := ch.TakeContext(ctx)
				if err != nil {
					log.LogWorkerDone(ctx, handled, err)
					return err
				}
				r.itemConsumed()
				handled++
				log.LogItem(ctx, "take", item, nil)
				hooks.consume(id, item)
			}
			log.LogWorkerDone(ctx, handled, nil)
			return nil
		})
		if !ok {
			break
		}
	}

	for id := 0; id < cfg.Producers; id++ {
		ok := r.spawn("producer", id, func(ctx context.Context, log *Logger) error {
			for seq := 0; seq < cfg.ItemsPerProducer; seq++ {
				item := hooks.produce(id, seq)
				if err := ch.PutContext(ctx, item); err != nil {
					log.LogItem(ctx, "put", item, err)
					return err
				}
				r.itemProduced()
				log.LogItem(ctx, "put", item, nil)
			}
			log.LogWorkerDone(ctx, cfg.ItemsPerProducer, nil)
			return nil
		})
		if !ok {
			break
		}
	}

	return r.finish("channel")
}

// QueueConfig sizes a blocking queue run.
type QueueConfig struct {
	Producers        int
	Consumers        int
	ItemsPerProducer int
}

func (c QueueConfig) validate() error {
	return PipelineConfig(c).validate()
}

// RunQueue enqueues Producers*ItemsPerProducer items into q while consumers
// drain it. Once every producer has returned the queue is closed, which wakes
// any consumer still parked. A queue built WithTarget releases its consumers
// as soon as the target is reached.
func RunQueue[T any](ctx context.Context, q *coord.BlockingQueue[T], cfg QueueConfig, hooks Hooks[T], opts ...Option) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}

	r := startRun(ctx, "queue", newOptions(opts),
		attribute.Int("coord.producers", cfg.Producers),
		attribute.Int("coord.consumers", cfg.Consumers),
	)

	var producing sync.WaitGroup
	for id := 0; id < cfg.Producers; id++ {
		producing.Add(1)
		ok := r.spawn("producer", id, func(ctx context.Context, log *Logger) error {
			defer producing.Done()
			for seq := 0; seq < cfg.ItemsPerProducer; seq++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := hooks.produce(id, seq)
				if err := q.Enqueue(item); err != nil {
					log.LogItem(ctx, "enqueue", item, err)
					return err
				}
				r.itemProduced()
				log.LogItem(ctx, "enqueue", item, nil)
			}
			log.LogWorkerDone(ctx, cfg.ItemsPerProducer, nil)
			return nil
		})
		if !ok {
			producing.Done()
			break
		}
	}

	r.g.Go(func() error {
		producing.Wait()
		q.Close()
		return nil
	})

	for id := 0; id < cfg.Consumers; id++ {
		ok := r.spawn("consumer", id, func(ctx context.Context, log *Logger) error {
			handled := 0
			for {
				item, ok, err := q.DequeueContext(ctx)
				if err != nil {
					log.LogWorkerDone(ctx, handled, err)
					return err
				}
				if !ok {
					log.LogWorkerDone(ctx, handled, nil)
					return nil
				}
				r.itemConsumed()
				handled++
				log.LogItem(ctx, "dequeue", item, nil)
				hooks.consume(id, item)
			}
		})
		if !ok {
			break
		}
	}

	return r.finish("queue")
}

// DiningConfig sizes a resource arbiter run.
type DiningConfig struct {
	Workers int
	Cycles  int
}

func (c DiningConfig) validate() error {
	if err := coord.ValidatePositive("workers", c.Workers); err != nil {
		return err
	}
	return coord.ValidateNonNegative("cycles", c.Cycles)
}

// RunDining runs Workers goroutines through a.Run for Cycles cycles each.
// Worker w competes for resources w and w+1 (mod the ring size).
func RunDining(ctx context.Context, a *coord.ResourceArbiter, cfg DiningConfig, hooks coord.WorkerHooks, opts ...Option) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}

	r := startRun(ctx, "arbiter", newOptions(opts),
		attribute.Int("coord.resources", a.Resources()),
		attribute.Int("coord.workers", cfg.Workers),
		attribute.Int("coord.cycles", cfg.Cycles),
	)

	for id := 0; id < cfg.Workers; id++ {
		ok := r.spawn("worker", id, func(ctx context.Context, log *Logger) error {
			wh := coord.WorkerHooks{
				Think: hooks.Think,
				Act: func(worker, cycle int) {
					log.LogCycle(ctx, cycle)
					if hooks.Act != nil {
						hooks.Act(worker, cycle)
					}
					r.cycleDone()
				},
			}
			err := a.Run(ctx, id, cfg.Cycles, wh)
			log.LogWorkerDone(ctx, cfg.Cycles, err)
			return err
		})
		if !ok {
			break
		}
	}

	return r.finish("arbiter")
}
