package app

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hack3ric/hive/internal/hive/service"
	"github.com/hack3ric/hive/internal/pkg/logger"
	"github.com/hack3ric/hive/internal/source"
)

// preloadConcurrency bounds parallel compiles at boot so a big services
// directory does not monopolize the sandbox queue.
const preloadConcurrency = 8

// Start restores persisted services and begins watching the services
// directory for out-of-band edits.
func (a *Application) Start(ctx context.Context) error {
	if err := a.preload(ctx); err != nil {
		return err
	}

	go a.runWatcher(ctx) // dedicated background lifecycle loop

	return nil
}

// preload loads every persisted service and starts the ones marked started.
// A broken bundle skips that service, not the boot.
func (a *Application) preload(ctx context.Context) error {
	entries, err := a.Loader.Services()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			a.preloadOne(gctx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("services preloaded", zap.Int("count", len(entries)))
	return nil
}

func (a *Application) preloadOne(ctx context.Context, entry source.Entry) {
	log := logger.With(zap.String("service", entry.Name))

	script, err := entry.Source.ReadScript()
	if err != nil {
		log.Warn("skip service: unreadable script", zap.Error(err))
		return
	}
	configBytes, err := entry.Source.ReadConfig()
	if err != nil {
		log.Warn("skip service: unreadable config", zap.Error(err))
		return
	}
	cfg, err := service.ParseConfig(configBytes)
	if err != nil {
		log.Warn("skip service: invalid config", zap.Error(err))
		return
	}

	if _, err := a.Hive.PreloadService(ctx, entry.Name, entry.Metadata.ID, script, cfg); err != nil {
		log.Warn("skip service: preload failed", zap.Error(err))
		return
	}

	if entry.Metadata.Started {
		if _, err := a.Hive.StartService(ctx, entry.Name); err != nil {
			log.Warn("start preloaded service failed", zap.Error(err))
			return
		}
	}
	log.Info("service preloaded", zap.Bool("started", entry.Metadata.Started))
}

func (a *Application) runWatcher(ctx context.Context) {
	if err := a.Loader.Watch(ctx); err != nil {
		logger.Warn("services directory watcher exited", zap.Error(err))
	}
}

// Shutdown gracefully shuts down all application components: services
// drain first, then the sandbox workers, then the outer pools.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var err error
	err = multierr.Append(err, a.Hive.Close(ctx))
	a.Pools.Shutdown()
	return err
}
