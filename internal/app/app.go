// Package app assembles the application: configuration, tracing,
// database pool, Genkit, and the indexing and answering pipelines.
//
// Setup wires the components in dependency order and returns an App
// whose Close releases everything in reverse. Entry points (CLI
// commands, the MCP server) consume the App; no component reaches for
// globals.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/protokoll-ai/protokoll/internal/answer"
	"github.com/protokoll-ai/protokoll/internal/config"
	"github.com/protokoll-ai/protokoll/internal/embed"
	"github.com/protokoll-ai/protokoll/internal/index"
	"github.com/protokoll-ai/protokoll/internal/log"
	"github.com/protokoll-ai/protokoll/internal/store"
	"github.com/protokoll-ai/protokoll/internal/track"
)

// App is the application container. Fields are wired by Setup.
type App struct {
	Config *config.Config
	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool

	// Pipeline components
	Store     *store.Store
	Tracker   *track.Tracker
	Generator *embed.Generator
	Indexer   *index.Orchestrator
	Loader    *index.Loader
	Composer  *answer.Composer

	logger       log.Logger
	otelShutdown func(context.Context) error
}

// Close releases all resources: pending trace spans are flushed, then
// the database pool is closed. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	if a.Pool != nil {
		a.Pool.Close()
		if a.logger != nil {
			a.logger.Info("database pool closed")
		}
	}

	return nil
}
