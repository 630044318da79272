// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/starford/carenotes/internal/api"
	"github.com/starford/carenotes/internal/auth"
	"github.com/starford/carenotes/internal/index"
	"github.com/starford/carenotes/internal/index/pgindex"
	"github.com/starford/carenotes/internal/mcpserver"
	"github.com/starford/carenotes/internal/noteservice"
	"github.com/starford/carenotes/internal/signer"
	"github.com/starford/carenotes/internal/sse"
	"github.com/starford/carenotes/internal/storage"
)

const sessionSweepSpec = "@every 10m"

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// backend is the vault plus its query index.
type backend struct {
	store *storage.FS
	idx   index.NoteIndex
}

func openBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*backend, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var idx index.NoteIndex
	switch cfg.Index.Driver {
	case IndexDriverPostgres:
		idx, err = pgindex.Open(cfg.Index.Postgres)
	default:
		idx, err = index.Open(cfg.Index.SQLite.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(ctx, idx, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return &backend{store: store, idx: idx}, nil
}

func mediaSecret(cfg MediaConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.Secret != "" {
		return []byte(cfg.Secret), nil
	}
	logger.Warn("media.secret not set, signed links will not survive a restart")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate media secret: %w", err)
	}
	return secret, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("index_driver", cfg.Index.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.idx.Close()

	broker := sse.NewBroker()
	defer broker.Close()

	svc := noteservice.NewService(be.store, be.idx, noteservice.WithEventHook(broker.PublishNoteEvent))

	secret, err := mediaSecret(cfg.Media, logger)
	if err != nil {
		return err
	}

	var authenticator *auth.Authenticator
	if cfg.Auth.AuthEnabled() {
		ttl := cfg.Auth.SessionTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		authenticator, err = auth.NewAuthenticator(cfg.Auth.Users, auth.NewSessions(ttl))
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
	}

	apiRouter := api.NewRouter(api.Options{
		Service:    svc,
		Auth:       authenticator,
		Anonymous:  cfg.Auth.Anonymous,
		Signer:     signer.New(secret),
		MediaTTL:   cfg.Media.TTL,
		PublicURL:  cfg.App.HTTP.PublicURL,
		Events:     broker,
		LoginLimit: cfg.Auth.LoginLimit(),
		LoginBurst: cfg.Auth.LoginBurst,
		Logger:     logger,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := be.idx.AllChecksums(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"index unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Expired sessions are otherwise only dropped when presented.
	sched := cron.New()
	if authenticator != nil {
		sessions := authenticator.Sessions()
		if _, err := sched.AddFunc(sessionSweepSpec, func() {
			if n := sessions.Sweep(); n > 0 {
				logger.Debug("expired sessions removed", slog.Int("count", n))
			}
		}); err != nil {
			return fmt.Errorf("schedule session sweep: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// File watcher feeds external edits into the index and the push channels.
	g.Go(func() error {
		if err := index.Watch(gCtx, be.idx, be.store, be.store.Root(), logger, broker.PublishNoteEvent); err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Ends SSE and websocket loops so Shutdown does not wait on them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server has been asked to stop, so
// the watcher exits too.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.logOutput == os.Stdout {
		app.logOutput = os.Stderr
	}
	cfg := app.config
	logger := app.logger()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.idx.Close()

	svc := noteservice.NewService(be.store, be.idx)
	logger.Info("MCP server starting", slog.String("user", cfg.MCP.User.UserID))
	return mcpserver.New(svc, cfg.MCP.User).ServeStdio()
}
