package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/action"
	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/internal/definition"
	"github.com/pitabwire/flowbase/internal/entity"
	"github.com/pitabwire/flowbase/internal/entitycontext"
	"github.com/pitabwire/flowbase/internal/expression"
	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/internal/workflow"
	"github.com/pitabwire/flowbase/model"
)

// expressionOptions is the condition grammar cfg selects.
func expressionOptions(cfg config.EngineConfig) []expression.ParseOption {
	if cfg.StrictExpressions {
		return nil
	}
	return []expression.ParseOption{expression.WithPermissive()}
}

// newValidator checks definitions against actions under the grammar cfg
// selects for the engine.
func newValidator(cfg config.EngineConfig, actions ...string) *definition.Validator {
	return definition.NewValidator(actions...).WithExpressionOptions(expressionOptions(cfg)...)
}

// loadDefinitions loads every definition file under dirs and checks it with
// v. Validation errors are logged one per line and reported as a single error.
func loadDefinitions(dirs []string, v *definition.Validator, logger *zap.Logger) ([]model.DefinitionFile, error) {
	files, err := definition.NewLoader().LoadAll(dirs)
	if err != nil {
		return nil, err
	}
	verrs := v.Validate(files)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error",
				zap.String("path", ve.Path),
				zap.String("code", ve.Code),
				zap.String("error", ve.Message),
			)
		}
		return nil, fmt.Errorf("definition validation failed with %d errors", len(verrs))
	}
	return files, nil
}

// openPool connects a pgx pool using the DSN stored in the named environment
// variable and pings it once.
func openPool(ctx context.Context, dsnEnv string, maxConns int) (*pgxpool.Pool, error) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		return nil, fmt.Errorf("%s environment variable not set", dsnEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// buildRunStore creates the run store based on config. The returned closer
// may be nil.
func buildRunStore(ctx context.Context, cfg config.DataStoreConfig, logger *zap.Logger) (workflow.RunStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory run store")
		return workflow.NewMemoryRunStore(), nil, nil
	case "postgres":
		pool, err := openPool(ctx, cfg.DSNEnv, cfg.MaxOpenConns)
		if err != nil {
			return nil, nil, fmt.Errorf("run store: %w", err)
		}
		store := workflow.NewPgRunStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run store: %w", err)
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported datastore driver: %q", cfg.Driver)
	}
}

// entityBackend is the configured entity lookup plus the pieces the server
// needs around it.
type entityBackend struct {
	lookup entity.Lookup
	health observability.HealthChecker
	close  func()
	// flush empties the entity cache; nil when caching is off.
	flush func()
}

// buildEntityLookup creates the entity lookup based on config, wrapped in a
// TTL cache when enabled.
func buildEntityLookup(ctx context.Context, cfg config.EntitiesConfig, metrics *observability.Metrics, logger *zap.Logger) (entityBackend, error) {
	var backend entityBackend

	switch cfg.Driver {
	case "memory", "":
		mem := entity.NewMemoryLookup()
		if cfg.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.SeedFile); err != nil {
				return entityBackend{}, fmt.Errorf("entity lookup: %w", err)
			}
			logger.Info("entity seed loaded", zap.String("file", cfg.SeedFile))
		}
		backend.lookup = mem
	case "postgres":
		pool, err := openPool(ctx, cfg.DSNEnv, 0)
		if err != nil {
			return entityBackend{}, fmt.Errorf("entity lookup: %w", err)
		}
		pg := entity.NewPgLookup(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return entityBackend{}, fmt.Errorf("entity lookup: %w", err)
		}
		backend.lookup = pg
		backend.health = pg
		backend.close = pool.Close
	default:
		return entityBackend{}, fmt.Errorf("unsupported entities driver: %q", cfg.Driver)
	}

	if cfg.Cache.Enabled {
		var observer entity.CacheObserver
		if metrics != nil {
			observer = metrics
		}
		cached := entity.NewCachedLookup(backend.lookup, cfg.Cache.TTL, cfg.Cache.CleanupInterval, observer)
		backend.lookup = cached
		backend.flush = cached.Flush
	}
	return backend, nil
}

// engineParts bundles the collaborators built from config.
type engineParts struct {
	resolver *template.Resolver
	contexts *entitycontext.Builder
	engine   *workflow.Engine
}

// buildEngine assembles the resolver, context builder and workflow engine.
// metrics may be nil for offline commands.
func buildEngine(cfg *config.Config, defs workflow.Definitions, store workflow.RunStore, lookup entity.Lookup, metrics *observability.Metrics, logger *zap.Logger) engineParts {
	resolverOpts := []template.Option{template.WithLogger(logger)}
	builderOpts := []entitycontext.Option{
		entitycontext.WithLogger(logger),
		entitycontext.WithMaxDepth(cfg.Engine.MaxContextDepth),
	}
	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithChainLimit(cfg.Engine.ChainLimit),
		workflow.WithRedactor(observability.NewRedactor(cfg.Observability.RedactFields...)),
		workflow.WithActionHandler(action.NameWebhook, action.NewWebhook(cfg.Actions.Webhook, action.WithWebhookLogger(logger))),
	}
	if metrics != nil {
		resolverOpts = append(resolverOpts, template.WithObserver(metrics))
		builderOpts = append(builderOpts, entitycontext.WithObserver(metrics))
		engineOpts = append(engineOpts, workflow.WithObserver(metrics))
	}
	if !cfg.Engine.StrictExpressions {
		engineOpts = append(engineOpts, workflow.WithPermissiveExpressions())
	}

	parts := engineParts{resolver: template.NewResolver(resolverOpts...)}
	if lookup != nil {
		parts.contexts = entitycontext.NewBuilder(lookup, builderOpts...)
		engineOpts = append(engineOpts, workflow.WithEntityContexts(parts.contexts))
	}
	parts.engine = workflow.NewEngine(defs, store, parts.resolver, engineOpts...)
	return parts
}
