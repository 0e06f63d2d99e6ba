// Command brainstemd wires the shared-memory coprocessor's components
// together and runs its background worker pool. There is no HTTP listener
// here — per spec.md §1, how a host process invokes remember/recall/forget
// is explicitly out of scope, so this binary only owns the pieces that
// must run continuously: the job worker pool that drives reflect/train/
// cleanup.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/brainstem-run/brainstem/internal/config"
	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/embedding"
	"github.com/brainstem-run/brainstem/internal/graph"
	graphinmemory "github.com/brainstem-run/brainstem/internal/graph/inmemory"
	graphsqlite "github.com/brainstem-run/brainstem/internal/graph/sqlitestore"
	"github.com/brainstem-run/brainstem/internal/jobs"
	"github.com/brainstem-run/brainstem/internal/jobs/inprocess"
	"github.com/brainstem-run/brainstem/internal/jobs/sqlitequeue"
	registryinmemory "github.com/brainstem-run/brainstem/internal/registry/inmemory"
	registrysqlite "github.com/brainstem-run/brainstem/internal/registry/sqlitestore"
	"github.com/brainstem-run/brainstem/internal/repository"
	repoinmemory "github.com/brainstem-run/brainstem/internal/repository/inmemory"
	repopgstore "github.com/brainstem-run/brainstem/internal/repository/pgstore"
	repositsqlite "github.com/brainstem-run/brainstem/internal/repository/sqlitestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// closer is the subset of io.Closer every backend's handle satisfies; kept
// local rather than importing io for a single-method interface already
// shaped like this throughout the backends package.
type closer interface{ Close() error }

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	memRepo, storeClosers, err := buildRepository(ctx, logger)
	if err != nil {
		logger.Fatal("failed to build memory repository", zap.Error(err))
	}

	jobQueue, jobCloser, err := buildJobQueue()
	if err != nil {
		logger.Fatal("failed to build job queue", zap.Error(err))
	}

	modelRegistry, registryCloser, err := buildRegistry()
	if err != nil {
		logger.Fatal("failed to build model registry", zap.Error(err))
	}

	executor := jobs.NewExecutor(memRepo, modelRegistry)
	pool := jobs.NewWorkerPool(jobQueue, executor, 0, logger)
	pool.Start(config.WorkerCount())
	logger.Info("brainstemd started", zap.Int("workers", config.WorkerCount()))

	<-ctx.Done()
	logger.Info("shutting down")
	pool.Stop()

	for _, c := range storeClosers {
		if err := c.Close(); err != nil {
			logger.Warn("close failed during shutdown", zap.Error(err))
		}
	}
	if jobCloser != nil {
		if err := jobCloser.Close(); err != nil {
			logger.Warn("close job queue failed during shutdown", zap.Error(err))
		}
	}
	if registryCloser != nil {
		if err := registryCloser.Close(); err != nil {
			logger.Warn("close registry failed during shutdown", zap.Error(err))
		}
	}
	logger.Info("brainstemd stopped")
}

// recallOverride wraps *repository.Repository so augmented recall (when
// graph wiring is enabled) replaces only Recall, while every other
// domain.MemoryRepository method keeps using the plain repository
// directly. This is the same "generalize one method, delegate the rest"
// embedding shape the teacher's service layer uses to compose collaborators.
type recallOverride struct {
	*repository.Repository
	augmented *graph.AugmentedRecall
}

func (r *recallOverride) Recall(ctx context.Context, req domain.RecallRequest) (*domain.RecallResponse, error) {
	return r.augmented.Recall(ctx, req)
}

var _ domain.MemoryRepository = (*recallOverride)(nil)

func buildRepository(ctx context.Context, logger *zap.Logger) (domain.MemoryRepository, []closer, error) {
	var (
		store   domain.MemoryStore
		closers []closer
	)

	switch config.StoreBackend() {
	case "inmemory", "":
		store = repoinmemory.New()
	case "sqlite":
		s, err := repositsqlite.Open(config.DatabaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		store, closers = s, append(closers, s)
	case "pgstore":
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for STORE_BACKEND=pgstore")
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		embedder, err := embedding.NewClient(embedding.ProviderHash, config.EmbeddingDimensions())
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		pg := repopgstore.New(pool, embedder)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		store = pg
		closers = append(closers, poolCloser{pool})
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend())
	}

	repo := repository.New(store, logger)

	graphCfg, err := config.GraphConfig()
	if err != nil {
		return nil, closers, err
	}
	if !graphCfg.Enabled {
		return repo, closers, nil
	}

	var graphStore domain.GraphStore
	switch config.GraphBackend() {
	case "inmemory", "":
		graphStore = graphinmemory.New()
	case "sqlite":
		g, err := graphsqlite.Open(config.SQLiteGraphPath())
		if err != nil {
			return nil, closers, fmt.Errorf("open sqlite graph store: %w", err)
		}
		graphStore = g
		closers = append(closers, g)
	default:
		return nil, closers, fmt.Errorf("unknown GRAPH_BACKEND %q", config.GraphBackend())
	}

	augmented := graph.NewAugmentedRecall(repo, graphStore, graphCfg)
	return &recallOverride{Repository: repo, augmented: augmented}, closers, nil
}

// poolCloser adapts *pgxpool.Pool's Close() (no error return) to the
// closer interface the other backends' Close() methods satisfy.
type poolCloser struct{ pool *pgxpool.Pool }

func (p poolCloser) Close() error {
	p.pool.Close()
	return nil
}

func buildJobQueue() (domain.JobQueue, closer, error) {
	switch config.JobQueueBackend() {
	case "inprocess", "":
		return inprocess.New(), nil, nil
	case "sqlite":
		q, err := sqlitequeue.Open(config.SQLiteJobsPath())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite job queue: %w", err)
		}
		return q, q, nil
	default:
		return nil, nil, fmt.Errorf("unknown JOB_QUEUE_BACKEND %q", config.JobQueueBackend())
	}
}

func buildRegistry() (domain.ModelRegistryStore, closer, error) {
	switch config.RegistryBackend() {
	case "inmemory", "":
		return registryinmemory.New(), nil, nil
	case "sqlite":
		r, err := registrysqlite.Open(config.SQLiteRegistryPath())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite registry: %w", err)
		}
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown REGISTRY_BACKEND %q", config.RegistryBackend())
	}
}
