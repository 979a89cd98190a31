package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/persistence"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// app holds the dependencies one command invocation starts and stops.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	store    *persistence.Store
	graph    graph.Graph
	memory   *graph.Memory
	neo4j    *graph.Neo4jStore
	producer *kafka.Producer
	redis    *redis.Client

	// saveGraph writes the memory graph back to its file on stop.
	saveGraph bool
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.graphFile != "" {
		cfg.GraphFile = opts.graphFile
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.New(logger, cfg.StartupMaxAttempts),
	}
	a.register()
	return a, nil
}

func (a *app) register() {
	var shutdownTracing func(context.Context) error
	a.startup.Add(&startup.Func{
		Name: "tracing",
		OnStart: func(ctx context.Context) error {
			shutdown, err := tracing.Setup(ctx, a.cfg.Tracing())
			if err != nil {
				return err
			}
			shutdownTracing = shutdown
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdownTracing == nil {
				return nil
			}
			return shutdownTracing(ctx)
		},
	})

	a.startup.Add(&startup.Func{
		Name:     "database",
		Requires: []string{"tracing"},
		OnStart: func(ctx context.Context) error {
			store, err := persistence.Open(ctx, a.cfg.Database(), a.logger)
			if err != nil {
				return err
			}
			a.store = store
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		},
	})

	a.startup.Add(&startup.Func{
		Name:     "graph",
		Requires: []string{"tracing"},
		OnStart:  a.startGraph,
		OnStop:   a.stopGraph,
	})

	if a.cfg.KafkaEnabled {
		a.startup.Add(&startup.Func{
			Name: "kafka",
			OnStart: func(ctx context.Context) error {
				a.producer = kafka.NewProducer(a.cfg.Kafka(), a.logger)
				a.logger.Infof("Publishing dataset events to %s", a.producer.Topic())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return a.producer.Close()
			},
		})
	}

	if a.cfg.RedisEnabled {
		a.startup.Add(&startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, a.cfg.Redis(), a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return a.redis.Close()
			},
		})
	}
}

func (a *app) startGraph(ctx context.Context) error {
	switch a.cfg.GraphBackend {
	case config.GraphBackendNeo4j:
		store, err := graph.NewNeo4jStore(a.cfg.Neo4j(), a.logger)
		if err != nil {
			return err
		}
		if err := store.VerifyConnectivity(ctx); err != nil {
			_ = store.Close(ctx)
			return fmt.Errorf("graph store unreachable: %w", err)
		}
		a.neo4j = store
		a.graph = store
	default:
		memory, err := a.loadMemory()
		if err != nil {
			return err
		}
		a.memory = memory
		a.graph = memory
	}
	return nil
}

func (a *app) loadMemory() (*graph.Memory, error) {
	if a.cfg.GraphFile == "" {
		return graph.NewMemory(), nil
	}
	memory, err := graph.LoadMemoryFile(a.cfg.GraphFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warnf("graph file %s does not exist, starting empty", a.cfg.GraphFile)
		return graph.NewMemory(), nil
	}
	return memory, err
}

func (a *app) stopGraph(ctx context.Context) error {
	if a.neo4j != nil {
		return a.neo4j.Close(ctx)
	}
	if a.memory != nil && a.saveGraph && a.cfg.GraphFile != "" {
		return a.memory.SaveFile(a.cfg.GraphFile)
	}
	return nil
}

func (a *app) start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Error("failed to stop dependencies")
	}
}

// service builds the pipeline over the started dependencies.
func (a *app) service() *pipeline.Service {
	opts := pipeline.Options{
		BiosphereDatabase: a.cfg.BiosphereDatabase,
		BiosphereVersion:  a.cfg.BiosphereVersion,
		LockTTL:           a.cfg.ImportLockTTL(),
	}
	if a.producer != nil {
		opts.Emitter = events.NewEmitter(a.producer, a.logger)
	}
	if a.redis != nil {
		opts.Locker = redis.NewLocker(a.redis, "")
	}
	return pipeline.NewService(a.store, a.graph, opts, a.logger)
}

func (a *app) healthChecker(version string) *health.Checker {
	checker := health.NewChecker(version)
	checker.AddCheck("database", func(ctx context.Context) error {
		return a.store.DB().PingContext(ctx)
	})
	if a.neo4j != nil {
		checker.AddCheck("neo4j", a.neo4j.VerifyConnectivity)
	}
	if a.redis != nil {
		checker.AddCheck("redis", a.redis.Ping)
	}
	return checker
}

func writeOutput(path string, write func(f *os.File) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
