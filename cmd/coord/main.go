package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aradilov/coord"
	"github.com/aradilov/coord/config"
	"github.com/aradilov/coord/internal/workload"
	"github.com/aradilov/coord/metrics"
	"github.com/aradilov/coord/runner"
)

// cliFlags holds the command line flags. Only flags set explicitly override
// the config file.
type cliFlags struct {
	fs *flag.FlagSet

	configPath string
	producers  int
	consumers  int
	capacity   int
	items      int
	resources  int
	workers    int
	cycles     int
	scale      float64
	logLevel   string
	jsonLogs   bool
	trace      bool
}

func newFlags(name string, errorHandling flag.ErrorHandling) *cliFlags {
	f := &cliFlags{fs: flag.NewFlagSet(name, errorHandling)}
	f.fs.StringVar(&f.configPath, "config", "", "YAML config file")
	f.fs.IntVar(&f.producers, "producers", 0, "Number of producers (channel, queue)")
	f.fs.IntVar(&f.consumers, "consumers", 0, "Number of consumers (channel, queue)")
	f.fs.IntVar(&f.capacity, "capacity", 0, "Bounded channel capacity")
	f.fs.IntVar(&f.items, "items", 0, "Items per producer")
	f.fs.IntVar(&f.resources, "resources", 0, "Number of resources in the ring (arbiter)")
	f.fs.IntVar(&f.workers, "workers", 0, "Number of workers (arbiter)")
	f.fs.IntVar(&f.cycles, "cycles", 0, "Cycles per worker (arbiter)")
	f.fs.Float64Var(&f.scale, "scale", 0, "Delay multiplier; 0 disables simulated work")
	f.fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.fs.BoolVar(&f.jsonLogs, "json", false, "Emit JSON logs")
	f.fs.BoolVar(&f.trace, "trace", false, "Print trace spans to stdout")
	f.fs.Usage = func() {
		fmt.Fprintf(f.fs.Output(), "Usage: %s [flags] channel|queue|arbiter\n", name)
		f.fs.PrintDefaults()
	}
	return f
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// realMain runs the CLI and returns the process exit code: 2 for usage and
// configuration errors, 1 for run failures.
func realMain(args []string) int {
	f := newFlags(os.Args[0], flag.ContinueOnError)
	if err := f.fs.Parse(args); err != nil {
		return 2
	}
	if f.fs.NArg() != 1 {
		f.fs.Usage()
		return 2
	}
	scenario := f.fs.Arg(0)

	cfg, err := f.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coord: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, scenario, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "coord: %v\n", err)
		if errors.Is(err, coord.ErrInvalidConfig) {
			return 2
		}
		return 1
	}
	return 0
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly on top of it.
func (f *cliFlags) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "producers":
			cfg.Channel.Producers, cfg.Queue.Producers = f.producers, f.producers
		case "consumers":
			cfg.Channel.Consumers, cfg.Queue.Consumers = f.consumers, f.consumers
		case "capacity":
			cfg.Channel.Capacity = f.capacity
		case "items":
			cfg.Channel.ItemsPerProducer, cfg.Queue.ItemsPerProducer = f.items, f.items
		case "resources":
			cfg.Arbiter.Resources = f.resources
		case "workers":
			cfg.Arbiter.Workers = f.workers
		case "cycles":
			cfg.Arbiter.Cycles = f.cycles
		case "scale":
			cfg.Delay.Scale = f.scale
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "json":
			cfg.Log.JSON = f.jsonLogs
		case "trace":
			cfg.Trace = f.trace
		}
	})

	return cfg, cfg.Validate()
}

func run(ctx context.Context, scenario string, cfg config.Config) error {
	level := runner.ParseLevel(cfg.Log.Level)
	logger := runner.NewTextLogger(os.Stderr, level)
	if cfg.Log.JSON {
		logger = runner.NewJSONLogger(os.Stderr, level)
	}

	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	m := metrics.NewRun(reg)
	opts := []runner.Option{runner.WithLogger(logger), runner.WithMetrics(m)}
	sim := workload.New(cfg.Delay.Scale)

	var (
		rep runner.Report
		err error
	)
	switch scenario {
	case "channel":
		ch, cerr := coord.NewBoundedChannel[int](cfg.Channel.Capacity, coord.WithChannelMetrics(reg))
		if cerr != nil {
			return cerr
		}
		rep, err = runner.RunPipeline(ctx, ch, runner.PipelineConfig{
			Producers:        cfg.Channel.Producers,
			Consumers:        cfg.Channel.Consumers,
			ItemsPerProducer: cfg.Channel.ItemsPerProducer,
		}, itemHooks(sim), opts...)

	case "queue":
		qopts := []coord.QueueOption{coord.WithQueueMetrics(reg)}
		if cfg.Queue.StopAfterTarget {
			qopts = append(qopts, coord.WithTarget(cfg.Queue.Producers*cfg.Queue.ItemsPerProducer))
		}
		q, qerr := coord.NewBlockingQueue[int](qopts...)
		if qerr != nil {
			return qerr
		}
		rep, err = runner.RunQueue(ctx, q, runner.QueueConfig{
			Producers:        cfg.Queue.Producers,
			Consumers:        cfg.Queue.Consumers,
			ItemsPerProducer: cfg.Queue.ItemsPerProducer,
		}, itemHooks(sim), opts...)

	case "arbiter":
		a, aerr := coord.NewResourceArbiter(cfg.Arbiter.Resources, coord.WithArbiterMetrics(reg))
		if aerr != nil {
			return aerr
		}
		rep, err = runner.RunDining(ctx, a, runner.DiningConfig{
			Workers: cfg.Arbiter.Workers,
			Cycles:  cfg.Arbiter.Cycles,
		}, coord.WorkerHooks{
			Think: func(int) { sim.Think() },
			Act:   func(int, int) { sim.Act() },
		}, opts...)

	default:
		return &coord.ConfigError{Param: "scenario", Value: scenario, Reason: "must be channel, queue or arbiter"}
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d workers, produced=%d consumed=%d cycles=%d in %s\n",
		rep.Scenario, rep.Workers, rep.Produced, rep.Consumed, rep.Cycles, rep.Duration)

	samples, err := metrics.Snapshot(reg)
	if err != nil {
		return err
	}
	for _, s := range samples {
		fmt.Printf("  %-40s %g\n", s.Name, s.Value)
	}
	return nil
}

func itemHooks(sim *workload.Sim) runner.Hooks[int] {
	return runner.Hooks[int]{
		Produce: func(int, int) int {
			item := workload.Item()
			sim.Produce()
			return item
		},
		Consume: func(int, int) { sim.Consume() },
	}
}
