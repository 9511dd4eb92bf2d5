package main

import (
	"fmt"

	"edgelm/internal/common/fsutil"
	"edgelm/internal/manager"
	"edgelm/internal/native"
	"edgelm/internal/registry"
	"edgelm/internal/statsstore"
)

// openStats opens the configured statistics database; nil when disabled.
func (a *app) openStats() (*statsstore.Store, error) {
	if a.cfg.StatsDB == "" {
		return nil, nil
	}
	path, err := fsutil.ExpandHome(a.cfg.StatsDB)
	if err != nil {
		return nil, err
	}
	return statsstore.Open(path, a.log)
}

// buildManager scans the models directory and assembles the manager with
// the compiled-in native backend.
func (a *app) buildManager(store *statsstore.Store) (*manager.Manager, error) {
	models, err := registry.LoadDir(a.cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("scan models: %w", err)
	}
	if !native.Available() {
		a.log.Warn().Msg("built without the llama tag; loads will report the backend as unavailable")
	}
	mc := a.cfg.ManagerConfig()
	mc.Registry = models
	mc.Factory = manager.NativeFactory(native.New(), a.log)
	mc.Publisher = manager.NewLogPublisher(a.log)
	mc.Logger = a.log
	if store != nil {
		mc.Stats = store
	}
	a.log.Info().Str("models_dir", a.cfg.ModelsDir).Int("models", len(models)).Msg("registry loaded")
	return manager.New(mc), nil
}
