package main

import (
	"fmt"

	"github.com/michaelbrown/algoprep/internal/config"
	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/sandbox"
	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/storage/remote"
	"github.com/michaelbrown/algoprep/internal/storage/sqlite"
	"github.com/michaelbrown/algoprep/internal/task"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLauncher(cfg *config.Config) sandbox.Launcher {
	if cfg.Engine.Mode == "docker" {
		return sandbox.NewDocker(sandbox.Policy{
			MaxMemory: cfg.Engine.MaxMemory,
			Network:   cfg.Engine.Network,
			Images:    cfg.Engine.Images,
		}, cfg.Engine.Image)
	}
	return sandbox.Local{Python: cfg.Engine.Python}
}

func newEngine(cfg *config.Config) *engine.Process {
	return engine.New(engine.Options{
		Launcher:       newLauncher(cfg),
		StartupTimeout: cfg.Engine.StartupTimeout,
		Prewarm:        cfg.Engine.Prewarm,
		Logger:         logger,
	})
}

func newRemote(cfg *config.Config) storage.Remote {
	if !cfg.Remote.Enabled() {
		return nil
	}
	return remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout)
}

func openCache(cfg *config.Config) (*sqlite.Cache, error) {
	cache, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return cache, nil
}

// openStore opens the cache and the state manager on top of it. The
// caller closes the cache after waiting on the manager.
func openStore(cfg *config.Config) (*storage.Manager, *sqlite.Cache, error) {
	cache, err := openCache(cfg)
	if err != nil {
		return nil, nil, err
	}
	mgr := storage.NewManager(cache, newRemote(cfg), storage.Options{
		Namespace: cfg.Remote.Namespace,
		Interval:  cfg.Remote.SyncInterval,
		CodeExt:   cfg.Remote.CodeExt,
		Logger:    logger,
	})
	return mgr, cache, nil
}

func newCatalog(cfg *config.Config) task.Catalog {
	return task.Catalog{Dir: cfg.Tasks.Dir}
}
