package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/action"
	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/internal/definition"
	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/internal/openapi"
	"github.com/pitabwire/flowbase/internal/transport"
)

const serviceName = "flowbase"

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Definitions are loaded and validated before the
listener opens; send SIGHUP to reload them without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, serviceName, observability.Version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	actions := []string{action.NameEcho, action.NameWebhook}
	files, err := loadDefinitions(cfg.Definitions.Directories, newValidator(cfg.Engine, actions...), logger)
	if err != nil {
		metrics.RecordDefinitionReload("error")
		return err
	}
	registry := definition.NewRegistry(files)
	metrics.RecordDefinitionReload("success")
	metrics.SetDefinitionsLoaded(float64(registry.Count()))

	store, storeCloser, err := buildRunStore(ctx, cfg.DataStore, logger)
	if err != nil {
		return err
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	entities, err := buildEntityLookup(ctx, cfg.Entities, metrics, logger)
	if err != nil {
		return err
	}
	if entities.close != nil {
		defer entities.close()
	}

	parts := buildEngine(cfg, registry, store, entities.lookup, metrics, logger)

	readiness := observability.ReadinessChecks{
		Definitions:  func() (int, string) { return registry.Count(), registry.Checksum() },
		EntityLookup: entities.health,
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.RunStore = hc
	}

	api, err := openapi.Load(ctx)
	if err != nil {
		return err
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Engine:    parts.engine,
		Resolver:  parts.resolver,
		Contexts:  parts.contexts,
		Readiness: readiness,
		API:       api,
		Gatherer:  prometheus.DefaultGatherer,
		Instrumentation: []func(http.Handler) http.Handler{
			metrics.MetricsMiddleware,
			observability.TracingMiddleware,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go watchReload(ctx, cfg, registry, entities.flush, metrics, logger, actions)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", observability.Version),
		zap.String("commit", observability.Commit),
		zap.Int("workflows", registry.Count()),
		zap.String("checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// watchReload reloads definitions and empties the entity cache on SIGHUP. A
// failed reload keeps the current registry.
func watchReload(ctx context.Context, cfg *config.Config, registry *definition.Registry, flushEntities func(), metrics *observability.Metrics, logger *zap.Logger, actions []string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			reloadDefinitions(cfg, registry, metrics, logger, actions)
			if flushEntities != nil {
				flushEntities()
				logger.Info("entity cache flushed")
			}
		}
	}
}

func reloadDefinitions(cfg *config.Config, registry *definition.Registry, metrics *observability.Metrics, logger *zap.Logger, actions []string) {
	files, err := loadDefinitions(cfg.Definitions.Directories, newValidator(cfg.Engine, actions...), logger)
	if err != nil {
		metrics.RecordDefinitionReload("error")
		logger.Error("definition reload failed, keeping current definitions", zap.Error(err))
		return
	}
	registry.Replace(files)
	metrics.RecordDefinitionReload("success")
	metrics.SetDefinitionsLoaded(float64(registry.Count()))
	logger.Info("definitions reloaded",
		zap.Int("workflows", registry.Count()),
		zap.String("checksum", registry.Checksum()),
	)
}
