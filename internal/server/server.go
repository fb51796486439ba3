// Package server runs the admin gateway: signal handling, config loading,
// observability init, the gated HTTP router, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
)

// Version is reported in telemetry resources.
const Version = "0.1.0"

// Params configures the lifecycle runner.
type Params struct {
	// Name identifies the service in logs and health responses.
	Name string

	// PortFromConfig extracts the HTTP port from config.
	PortFromConfig func(cfg *config.Config) int
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, HTTP server, and graceful shutdown. If ln is
// non-nil, it is used instead of creating a new listener from config
// (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> collaborators -> HTTP server ---

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	deps, err := NewDeps(cfg, logger)
	if err != nil {
		return err
	}
	if err := deps.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool

	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", p.PortFromConfig(cfg)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	server := &http.Server{
		Handler:      NewRouter(p.Name, deps, &shuttingDown),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Warm the key set so the first admin request does not pay for the
	// fetch. Failure is not fatal: the store retries on first use.
	g.Go(func() error {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Auth.HTTPTimeout)
		defer cancel()
		if warmErr := deps.Keys.Refresh(warmCtx); warmErr != nil {
			logger.Warn("jwks warm-up failed", slog.String("error", warmErr.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
			slog.String("protected_prefix", cfg.Gate.ProtectedPrefix),
			slog.String("jwks_url", cfg.Auth.JWKSURL),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Shutdown order is the reverse of startup: HTTP server -> redis -> telemetry.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Health checks return 503 so the load balancer stops routing here
		shuttingDown.Store(true)

		// 2. Drain delay
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Drain HTTP server
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 4. Release redis
		if closeErr := deps.Close(); closeErr != nil {
			logger.Error("failed to close redis", slog.String("error", closeErr.Error()))
		}

		// 5. Flush telemetry
		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := telemetry.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown telemetry", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}
