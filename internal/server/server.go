// Package server wires the stack loader, plugin runtime engine, HTTP
// service layer, admin listener, tracing, and configuration into a running
// wassel process, and owns its lifecycle: concurrent listener startup and
// graceful shutdown (SPEC_FULL.md §5 ADDED).
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n0emo/wassel/internal/admin"
	"github.com/n0emo/wassel/internal/logging"
	"github.com/n0emo/wassel/internal/pluginrt"
	"github.com/n0emo/wassel/internal/service"
	"github.com/n0emo/wassel/internal/serverconfig"
	"github.com/n0emo/wassel/internal/stack"
	"github.com/n0emo/wassel/internal/tracing"
)

// shutdownTimeout bounds how long a graceful shutdown waits for in-flight
// requests to finish once SIGINT/SIGTERM arrives.
const shutdownTimeout = 10 * time.Second

// Serve loads the plugin stack at baseDir per cfg, then runs the main and
// admin HTTP listeners until the process receives SIGINT/SIGTERM or either
// listener fails fatally, at which point it shuts both down gracefully.
func Serve(ctx context.Context, cfg *serverconfig.Config, baseDir string) error {
	logger, closer, err := logging.New(logging.Config(cfg.Logging))
	if err != nil {
		return fmt.Errorf("server: building logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logging.SetGlobal(logger)

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("server: building tracer: %w", err)
	}

	engine, err := pluginrt.NewEngine(ctx, pluginrt.EngineConfig{})
	if err != nil {
		return fmt.Errorf("server: building plugin engine: %w", err)
	}
	defer engine.Close(ctx)

	st, err := stack.Load(ctx, baseDir, engine)
	if err != nil {
		return fmt.Errorf("server: loading stack: %w", err)
	}
	defer st.Close(ctx)

	cmp := service.NewCompressor(service.CompressionConfig{Enabled: true})
	svc := service.New(st, tracer, cmp)

	mainSrv := &http.Server{Addr: cfg.Addr(), Handler: svc}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("main listener starting", zap.String("addr", cfg.Addr()))
		if err := mainSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("main listener: %w", err)
		}
		return nil
	})

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		adminSrv = &http.Server{Addr: cfg.AdminAddr(), Handler: admin.Handler(st)}
		g.Go(func() error {
			logger.Info("admin listener starting", zap.String("addr", cfg.AdminAddr()))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		mainSrv.Shutdown(shutdownCtx)
		if adminSrv != nil {
			adminSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
