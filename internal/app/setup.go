package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/protokoll-ai/protokoll/db"
	"github.com/protokoll-ai/protokoll/internal/answer"
	"github.com/protokoll-ai/protokoll/internal/config"
	"github.com/protokoll-ai/protokoll/internal/embed"
	"github.com/protokoll-ai/protokoll/internal/index"
	"github.com/protokoll-ai/protokoll/internal/log"
	"github.com/protokoll-ai/protokoll/internal/observability"
	"github.com/protokoll-ai/protokoll/internal/store"
	"github.com/protokoll-ai/protokoll/internal/track"
)

// Setup creates and initializes the application. Call Close on the
// returned App to release resources; on error, everything already
// initialized has been cleaned up.
//
// Tracing is wired first so Genkit's TracerProvider exports from its
// very first span.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	if err := wirePipeline(a, embedder); err != nil {
		return nil, err
	}

	logger.Info("application initialized",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
		"dimension", cfg.EmbeddingDimension)
	return a, nil
}

// provideDBPool runs migrations and opens a health-checked pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the Google AI plugin, which
// reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// wirePipeline builds the store, tracker, generator, orchestrator,
// loader, and composer on top of an initialized App.
func wirePipeline(a *App, embedder ai.Embedder) error {
	cfg, logger := a.Config, a.logger

	st, err := store.New(a.Pool, cfg.EmbeddingDimension, logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	a.Store = st

	tracker, err := track.New(st, logger)
	if err != nil {
		return fmt.Errorf("creating change tracker: %w", err)
	}
	a.Tracker = tracker

	generator, err := embed.New(embedder, cfg.EmbeddingDimension, embed.DefaultRetryPolicy(), logger)
	if err != nil {
		return fmt.Errorf("creating embedding generator: %w", err)
	}
	a.Generator = generator

	indexer, err := index.New(tracker, generator, st, cfg.IndexDelay(), logger)
	if err != nil {
		return fmt.Errorf("creating indexing orchestrator: %w", err)
	}
	a.Indexer = indexer

	loader, err := index.NewLoader(cfg.IndexExtensions, cfg.MaxFileBytes, logger)
	if err != nil {
		return fmt.Errorf("creating file loader: %w", err)
	}
	a.Loader = loader

	composer, err := answer.New(a.Genkit, cfg.FullModelName(), generator, st, cfg.TopK, logger)
	if err != nil {
		return fmt.Errorf("creating answer composer: %w", err)
	}
	a.Composer = composer

	return nil
}
