// Command authserver is the process entrypoint for the multiplayer-game
// authentication front-end (spec.md §1, §6 process lifecycle). Its shape
// — context cancellation wired to SIGINT/SIGTERM, slog configured before
// anything else runs, config loaded then the server handed to Run — is
// adapted from the teacher's cmd/loginserver/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/silvematt/NECRO-MMO/internal/authserver"
	"github.com/silvematt/NECRO-MMO/internal/config"
	"github.com/silvematt/NECRO-MMO/internal/logindb"
)

const DefaultConfigPath = "authserver.conf"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	log.Info("necroauth starting")

	cfgPath := DefaultConfigPath
	if p := os.Getenv("NECROAUTH_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg := config.Load(cfgPath, log)
	log.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.ManagerServerPort)

	if !cfg.ConsoleLoggingEnabled {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
		slog.SetDefault(log)
	}

	if err := logindb.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running database migrations: %w", err)
	}
	log.Info("database migrations applied")

	srv, err := authserver.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating auth server: %w", err)
	}

	go serveMetrics(srv, log)

	return srv.Run(ctx)
}

// serveMetrics exposes the Prometheus collector on :9100, the ambient
// observability surface spec.md §1 scopes as an external collaborator's
// concern (logging) but SPEC_FULL.md's ambient stack carries regardless.
func serveMetrics(srv *authserver.Server, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(srv.Metrics().Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(":9100", mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics server stopped", "err", err)
	}
}
