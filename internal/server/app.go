// Package server exposes the chat core over HTTP: websocket upgrades
// for the two room kinds, the REST companions, and account endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/campuslink/campuschat/internal/chat"
	"github.com/campuslink/campuschat/internal/config"
	"github.com/campuslink/campuschat/internal/storage"
)

// App coordinates the HTTP listener, the chat core, and storage.
type App struct {
	cfg      config.ServerConfig
	store    storage.Store
	registry *chat.Registry
	presence *chat.PresenceTracker
	service  *chat.Service
	log      *slog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.Store, sink chat.NotificationSink, log *slog.Logger) *App {
	registry := chat.NewRegistry()
	presence := chat.NewPresenceTracker()
	resolver := chat.NewResolver(store)
	service := chat.NewService(store, registry, presence, resolver, sink, log)

	return &App{
		cfg:      cfg,
		store:    store,
		registry: registry,
		presence: presence,
		service:  service,
		log:      log,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler builds the route tree.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireUser)
			r.Post("/groups", a.handleCreateGroup)
			r.Get("/groups/{groupID}/members", a.handleGroupMembers)
			r.Get("/rooms/{roomID}/messages", a.handleHistory)
			r.Patch("/messages/{messageID}", a.handleEditMessage)
			r.Delete("/messages/{messageID}", a.handleDeleteMessage)
			r.Get("/messages/{messageID}/receipts", a.handleReceipts)
		})
	})

	r.Get("/ws/private/{peerID}", a.handlePrivateSocket)
	r.Get("/ws/group/{groupID}", a.handleGroupSocket)

	return r
}

// Run starts serving until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	srv := &http.Server{
		Addr:    a.cfg.ListenAddr,
		Handler: a.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	a.log.Info("server listening", "addr", a.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
