// Package main provides the API router setup.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/altaterra-ai/answer-engine/cmd/answer-engine-api/handlers"
	"github.com/altaterra-ai/answer-engine/cmd/answer-engine-api/middleware"
	"github.com/altaterra-ai/answer-engine/internal/cache"
	"github.com/altaterra-ai/answer-engine/internal/config"
	"github.com/altaterra-ai/answer-engine/internal/memory"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/reinforce"
	"github.com/altaterra-ai/answer-engine/internal/resolve"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// Services bundles the dependencies the router hands to handlers.
type Services struct {
	DB         *sql.DB
	Cache      cache.Client
	Repos      *storage.Repositories
	Dispatcher *resolve.Dispatcher
	Reinforce  *reinforce.Job
	Notes      *memory.Store
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, svc *Services) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"answer-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := svc.DB.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable","reason":"database"}`))
			return
		}
		// a miss on the sentinel key still proves the cache answers
		if _, err := svc.Cache.Get(ctx, "readiness-check"); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable","reason":"cache"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	resolveHandler := handlers.NewResolveHandler(logger, svc.Dispatcher)
	feedbackHandler := handlers.NewFeedbackHandler(logger, svc.Repos.QueryLogs, svc.Repos.Feedback, svc.Dispatcher)
	reinforceHandler := handlers.NewReinforceHandler(logger, svc.Reinforce)
	notesHandler := handlers.NewNotesHandler(logger, svc.Notes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Secret:  cfg.Auth.JWTSecret,
			Issuer:  cfg.Auth.JWTIssuer,
		}))

		r.Route("/queries", func(r chi.Router) {
			r.Post("/resolve", resolveHandler.Resolve)
		})

		r.Post("/feedback", feedbackHandler.Submit)

		r.Route("/reinforce", func(r chi.Router) {
			r.Post("/run", reinforceHandler.Run)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Post("/", notesHandler.Add)
			r.Get("/", notesHandler.List)
			r.Delete("/{noteID}", notesHandler.Delete)
		})
	})

	return r
}
