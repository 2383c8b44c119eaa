// Package main is the entry point for the Galleria asset server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/galleria/galleria/internal/config"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/metrics"
	"github.com/galleria/galleria/internal/scanner"
	"github.com/galleria/galleria/internal/server"
)

func main() {
	configPath := flag.String("config", "galleria.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 3000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxUpload := flag.Int64("max-upload-bytes", 0, "maximum size of one uploaded image in bytes (default: from config or 10485760)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxUpload != 0 {
		cfg.Server.MaxUploadBytes = *maxUpload
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	// Crash-only design: every startup is recovery. SQLite WAL replays on
	// open and the local store drops leftover temp files; nothing else
	// needs a special mode.
	ctx := context.Background()

	reg, err := server.OpenRegistry(ctx, cfg.Registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	// os.Exit skips deferred calls, so failures from here on close the
	// registry explicitly through fatal.
	defer reg.Close()
	fatal := func(format string, args ...any) {
		reg.Close()
		fmt.Fprintf(os.Stderr, format, args...)
		os.Exit(1)
	}

	store, err := server.OpenStore(ctx, cfg.Storage)
	if err != nil {
		fatal("%v\n", err)
	}

	if cfg.Observability.Metrics {
		metrics.Register()
	}
	if cfg.Admin.Token == "" {
		slog.Warn("admin.token is empty; /api/admin endpoints are unauthenticated")
	}

	logger := slog.Default()
	sc := scanner.New(reg, store,
		scanner.WithMaxErrors(cfg.Scan.MaxErrors),
		scanner.WithLogger(logger),
	)

	var sched *scanner.Scheduler
	if cfg.Scan.Schedule != "" {
		sched, err = scanner.NewScheduler(cfg.Scan.Schedule, sc, logger)
		if err != nil {
			fatal("%v\n", err)
		}
	}

	srv, err := server.New(cfg,
		server.WithRegistry(reg),
		server.WithStorageBackend(store),
		server.WithScanner(sc),
		server.WithScheduler(sched),
		server.WithLogger(logger),
	)
	if err != nil {
		fatal("failed to create server: %v\n", err)
	}
	if sched != nil {
		sched.Start()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Galleria listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT: stop accepting connections and wait for in-flight
	// requests up to the shutdown timeout. No cleanup beyond that.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if sched != nil {
			sched.Stop(ctx)
		}
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			if sched != nil {
				sched.Stop(context.Background())
			}
			fatal("server error: %v\n", err)
		}
	}
}
