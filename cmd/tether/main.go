// Package main provides the tether binary entry point. Tether fronts an HTTP
// service with a correlation-identifier middleware: every request runs inside
// a propagated scope, the identifier is mirrored onto the response, and a
// GELF record is shipped to a central collector, best-effort.
//
// The application flow:
//  1. Load configuration from defaults and TETHER_* environment variables.
//  2. Open the SQLite-backed metrics store.
//  3. Start the metrics flusher and (if a collector is configured) the GELF
//     emission dispatcher.
//  4. Mount routes behind the correlation middleware and serve.
//  5. Shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/tether/internal/config"
	"github.com/haukened/tether/internal/gelf"
	"github.com/haukened/tether/internal/httpx"
	"github.com/haukened/tether/internal/metrics"
)

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(2)
	}
	return cfg
}

// ensureDataDir creates the data directory if needed and verifies it is one.
func ensureDataDir(dir string) (string, error) {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return "", fmt.Errorf("create data directory: %w", mkErr)
		}
	case err != nil:
		return "", fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return "", fmt.Errorf("data path %s is not a directory", dir)
	}
	return dir, nil
}

func openDatabase(dataDir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "tether.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite driver: %w", err)
	}
	return db, nil
}

func buildMetrics(ctx context.Context, db *sql.DB, cfg *config.Config) (*metrics.Manager, error) {
	m := metrics.New(db, metrics.Config{FlushInterval: cfg.FlushInterval})
	if err := m.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}
	return m, nil
}

// buildDispatcher returns nil when no collector is configured; emission is
// simply disabled in that case.
func buildDispatcher(cfg *config.Config, m *metrics.Manager) *gelf.Dispatcher {
	if cfg.GelfURL == "" {
		return nil
	}
	host := cfg.Host
	if host == "" {
		if hn, err := os.Hostname(); err == nil {
			host = hn
		} else {
			host = "tether"
		}
	}
	client := gelf.NewClient(cfg.GelfURL, host, cfg.EmitTimeout)
	return gelf.New(client, gelf.Config{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		Metrics:   m,
	})
}

func buildHandler(cfg *config.Config, disp *gelf.Dispatcher, m *metrics.Manager, db *sql.DB) http.Handler {
	h := &httpx.Handler{
		Header:   cfg.Header,
		Recorder: m,
		Metrics:  metrics.Handler(m, cfg.MetricsToken),
		Readiness: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}
	// Assign only when non-nil so the interface field stays nil-comparable.
	if disp != nil {
		h.Emitter = disp
	}
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func run() error {
	cfg := loadConfig()
	dataDir, err := ensureDataDir(cfg.DataDir)
	if err != nil {
		slog.Error("data directory", "dir", cfg.DataDir, "err", err)
		os.Exit(3)
	}
	db, err := openDatabase(dataDir)
	if err != nil {
		slog.Error("database", "err", err)
		os.Exit(4)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := buildMetrics(ctx, db, cfg)
	if err != nil {
		slog.Error("metrics", "err", err)
		os.Exit(4)
	}
	m.Start(ctx)

	disp := buildDispatcher(cfg, m)
	if disp != nil {
		disp.Start(ctx)
	}

	srv := newServer(cfg, buildHandler(cfg, disp, m, db))

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()
	slog.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid(), "emission", cfg.GelfURL != "")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case serveErr := <-errCh:
		return serveErr
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if disp != nil {
		disp.Stop()
	}
	m.Stop(shutdownCtx)
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
