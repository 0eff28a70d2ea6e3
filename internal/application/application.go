package application

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/config"
	"github.com/retina-node/config-merger/internal/derive"
	"github.com/retina-node/config-merger/internal/merger"
	"github.com/retina-node/config-merger/internal/nodeid"
	"github.com/retina-node/config-merger/internal/storage"
)

// App encapsulates the merger and its collaborators for one run.
type App struct {
	cfg    config.Config
	merger *merger.Merger
	store  *storage.DirStore
	logger *zap.Logger
}

// New initializes the application from the provided configuration. The rules
// table is loaded here so that a broken table fails before any layer is read.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	var rules []derive.Rule
	if cfg.RulesFile != "" {
		loaded, err := derive.LoadRules(cfg.RulesFile, cfg.OutputName)
		if err != nil {
			return nil, &merger.Error{Kind: merger.ErrRules, Path: cfg.RulesFile, Err: err}
		}
		rules = loaded
		logger.Info("loaded derived output rules", zap.String("path", cfg.RulesFile), zap.Int("rules", len(rules)))
	}

	layout := merger.NewLayout(cfg.ConfigDir, cfg.UserLayerPath())

	return &App{
		cfg:    cfg,
		merger: merger.New(layout, rules, cfg.OutputName, logger),
		store:  storage.NewDirStore(cfg.OutputDir),
		logger: logger,
	}, nil
}

// Run merges the layers, renders every output and writes them. Nothing is
// written unless every layer parsed and every derived output rendered.
func (a *App) Run() (*merger.Result, error) {
	result, err := a.merger.Run(a.hooks()...)
	if err != nil {
		return nil, err
	}

	if err := a.merger.Write(a.store, result); err != nil {
		return nil, err
	}

	if a.cfg.DebugCopyPath != "" {
		if err := storage.WriteFileAtomic(a.cfg.DebugCopyPath, result.Config, storage.FileMode); err != nil {
			return nil, &merger.Error{Kind: merger.ErrWrite, Subject: "debug copy", Path: a.cfg.DebugCopyPath, Err: err}
		}
		a.logger.Info("wrote debug copy", zap.String("path", a.cfg.DebugCopyPath))
	}

	a.logger.Info("config merge completed",
		zap.String("output_dir", a.store.Root()),
		zap.Int("derived_outputs", len(result.Outputs)),
	)
	return result, nil
}

func (a *App) hooks() []merger.Hook {
	var hooks []merger.Hook
	if a.cfg.SeedUserConfig {
		hooks = append(hooks, a.seedUserLayer)
	}
	if a.cfg.HardwareNodeID {
		hooks = append(hooks, a.ensureNodeID)
	}
	return hooks
}

// seedUserLayer gives operators a user layer to edit on first boot by copying
// the default layer. An existing user layer is never replaced.
func (a *App) seedUserLayer(*yaml.Node) error {
	layout := a.merger.Layout()

	if _, err := os.Stat(layout.User); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	data, err := os.ReadFile(layout.Default)
	if err != nil {
		return &merger.Error{Kind: merger.ErrRead, Subject: string(merger.Default), Path: layout.Default, Err: err}
	}

	created, err := storage.CreateExclusive(layout.User, data, storage.FileMode)
	if err != nil {
		return &merger.Error{Kind: merger.ErrWrite, Subject: string(merger.User), Path: layout.User, Err: fmt.Errorf("seed from default: %w", err)}
	}
	if created {
		a.logger.Info("seeded user layer from defaults", zap.String("path", layout.User))
	} else {
		a.logger.Info("user layer created concurrently, keeping it", zap.String("path", layout.User))
	}
	return nil
}

// ensureNodeID records the hardware node id in the user layer. Failures are
// logged and never abort the merge.
func (a *App) ensureNodeID(*yaml.Node) error {
	id, err := nodeid.Probe(a.cfg.ProcRoot)
	if err != nil {
		if errors.Is(err, nodeid.ErrNotRaspberryPi) {
			a.logger.Info("not running on Raspberry Pi hardware, skipping node id")
		} else {
			a.logger.Warn("could not derive node id", zap.Error(err))
		}
		return nil
	}

	userPath := a.merger.Layout().User
	change, err := nodeid.Ensure(userPath, id)
	if err != nil {
		a.logger.Warn("failed to record node id", zap.String("path", userPath), zap.Error(err))
		return nil
	}

	switch {
	case !change.Updated:
		a.logger.Info("node id already correct", zap.String("node_id", id))
	case change.Previous != "":
		a.logger.Warn("node id changed, updating user layer",
			zap.String("previous", change.Previous),
			zap.String("node_id", id),
		)
	default:
		a.logger.Info("recorded node id in user layer", zap.String("node_id", id), zap.String("path", userPath))
	}
	return nil
}
