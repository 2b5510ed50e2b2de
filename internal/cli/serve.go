package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpAdapter "github.com/aretw0/espalier/pkg/adapters/http"
	mcpAdapter "github.com/aretw0/espalier/pkg/adapters/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown of the servers.
const ShutdownTimeout = 5 * time.Second

// RunServe serves the HTTP API until ctx is done. Metrics are served on
// the API address, or on their own listener when server.metrics_addr is set.
func RunServe(ctx context.Context, stack *Stack, logger *slog.Logger) error {
	cfg := stack.Config.Server

	opts := []httpAdapter.Option{
		httpAdapter.WithLogger(logger),
		httpAdapter.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	}
	if cfg.MetricsAddr == "" {
		opts = append(opts, httpAdapter.WithMetrics(stack.Registry))
	}

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           httpAdapter.NewHandler(stack.Engine, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(stack.Registry, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("Server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
				_ = srv.Close()
			}
		}
		logger.Info("Servers stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// RunMCP serves the engine as an MCP server over stdio or SSE.
func RunMCP(ctx context.Context, stack *Stack, logger *slog.Logger, transport, addr string) error {
	srv := mcpAdapter.NewServer(stack.Engine, mcpAdapter.WithLogger(logger))
	switch transport {
	case "stdio":
		logger.Info("Starting espalier MCP server (stdio)")
		return srv.ServeStdio()
	case "sse":
		return srv.ServeSSE(ctx, addr)
	default:
		return fmt.Errorf("unknown transport %q (supported: stdio, sse)", transport)
	}
}
