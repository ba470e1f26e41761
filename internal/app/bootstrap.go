// Package app is the composition root: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/hack3ric/hive/internal/api/handlers"
	"github.com/hack3ric/hive/internal/config"
	"github.com/hack3ric/hive/internal/hive"
	"github.com/hack3ric/hive/internal/pkg/worker"
	"github.com/hack3ric/hive/internal/source"
)

// Application holds composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	Hive   *hive.Hive
	Pools  *worker.Pools
	Loader *source.Loader
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		IOPoolSize:      cfg.Worker.IOPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	h := hive.New(hive.Options{
		SandboxPoolSize:  cfg.Hive.PoolSize,
		LocalStoragePath: cfg.Hive.StoragePath,
		Pools:            pools,
		FetchTimeout:     cfg.Hive.FetchTimeout,
	})

	loader, err := source.NewLoader(cfg.Hive.ServicesPath)
	if err != nil {
		pools.Shutdown()
		return nil, fmt.Errorf("init service loader: %w", err)
	}

	server := handlers.NewServer(h, loader, pools)

	return &Application{
		Config: cfg,
		Router: newRouter(cfg, server),
		Hive:   h,
		Pools:  pools,
		Loader: loader,
	}, nil
}
