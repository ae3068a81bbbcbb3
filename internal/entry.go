// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
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
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/assistenze/internal/api"
	"github.com/starford/assistenze/internal/auth"
	"github.com/starford/assistenze/internal/recordservice"
	"github.com/starford/assistenze/internal/sse"
	"github.com/starford/assistenze/internal/watch"
)

// services are the stores and domain services shared by every command.
type services struct {
	stores  *stores
	records *recordservice.Service
	auth    *auth.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// openServices opens the configured stores and fixes legacy records.
// The caller must close svc.stores.
func openServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*services, error) {
	st, err := openStores(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	records := recordservice.NewService(st.records)
	n, err := records.Migrate(ctx)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("migrate records: %w", err)
	}
	if n > 0 {
		logger.Info("Records migrated", slog.Int("count", n))
	}

	authSvc, err := auth.NewService(st.users, auth.Config{
		Secret:     cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		Admins:     cfg.Auth.Admins,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		st.close()
		return nil, fmt.Errorf("init auth: %w", err)
	}

	return &services{stores: st, records: records, auth: authSvc}, nil
}

// newRootRouter builds the top-level HTTP handler: middleware, health checks
// and the API mounted at /api.
func newRootRouter(cfg *Config, svc *services, broker *sse.Broker) http.Handler {
	h := api.NewHandler(svc.records, svc.auth,
		api.WithEvents(broker),
		api.WithExport(api.ExportConfig{
			Sheet:    cfg.Export.SheetName,
			Filename: cfg.Export.Filename,
			TmpDir:   cfg.Export.TmpDir,
		}),
		api.WithProtectedUpdates(cfg.Auth.ProtectUpdates),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.App.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-Match"},
		ExposedHeaders: []string{"ETag", "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Backend attivo!"))
	})

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, _, err := svc.records.All(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(h, broker))

	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.logger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("sqlite_path", cfg.Storage.SQLitePath),
		slog.Bool("protect_updates", cfg.Auth.ProtectUpdates),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.stores.close()

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.Throttle)
	defer broker.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newRootRouter(cfg, svc, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Report edits made to the collection files outside the server.
	if cfg.Events.Watch && svc.stores.watchDir != "" {
		g.Go(func() error {
			err := watch.Watch(gCtx, svc.stores.watchDir, []string{RecordsFile}, watch.DefaultDebounce, logger,
				func(name string) {
					broker.PublishChanged(name)
				})
			if err != nil {
				logger.Warn("file watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
