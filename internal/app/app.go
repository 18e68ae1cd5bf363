// Package app assembles the application: configuration, database pool,
// Genkit, the chat orchestrator and the HTTP API, with ordered teardown.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/converso/converso/internal/api"
	"github.com/converso/converso/internal/chat"
	"github.com/converso/converso/internal/config"
	"github.com/converso/converso/internal/log"
	"github.com/converso/converso/internal/session"
)

// shutdownTimeout bounds resource teardown in Close.
const shutdownTimeout = 5 * time.Second

// App is the application container. Setup builds it, Close releases it.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool
	Store  *session.Store
	Chat   *chat.Service
	Server *api.Server

	otelShutdown func(context.Context) error
}

// Close releases resources in reverse construction order: chat service
// (drops cached agent handles), database pool, then the trace exporter so
// teardown spans still flush.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.Chat != nil {
		a.Chat.Close()
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
