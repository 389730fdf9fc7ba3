// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package registry provides a hook resolving connection aliases from an
// alias store. Every authorization is permitted.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/storage"
)

// AliasesFile is the file read from the configuration directory on Init.
const AliasesFile = "aliases.yaml"

var _ hook.Hook = (*Hook)(nil)

// Hook resolves aliases from a store.
type Hook struct {
	hook.NoopHook

	store  storage.AliasStore
	logger *slog.Logger
}

// New creates a registry hook backed by store.
func New(store storage.AliasStore, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{store: store, logger: logger}
}

// Init seeds the store from configDir/aliases.yaml when the file exists.
func (h *Hook) Init(ctx context.Context, configDir string) error {
	if configDir == "" {
		return nil
	}

	path := filepath.Join(configDir, AliasesFile)
	aliases, err := config.LoadAliases(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.logger.Debug("no aliases file", slog.String("path", path))
			return nil
		}
		return err
	}

	for name, cfg := range aliases {
		if err := h.store.Put(ctx, name, &cfg); err != nil {
			return fmt.Errorf("failed to store alias %q: %w", name, err)
		}
	}

	h.logger.Info("aliases loaded",
		slog.String("path", path),
		slog.Int("count", len(aliases)))

	return nil
}

// ResolveAlias returns the stored configuration, or nil if alias is unknown.
func (h *Hook) ResolveAlias(ctx context.Context, alias string) (*hook.BrokerConfig, error) {
	cfg, err := h.store.Get(ctx, alias)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		h.logger.Error("alias lookup failed",
			slog.String("alias", alias),
			slog.String("error", err.Error()))
		return nil, hook.NewError(0, "alias store unavailable")
	}
	return cfg, nil
}
