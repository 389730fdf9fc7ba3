// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/gateway"
	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/hook/events"
	"github.com/absmach/fluxgate/hook/registry"
	"github.com/absmach/fluxgate/hook/webhook"
	"github.com/absmach/fluxgate/ratelimit"
	"github.com/absmach/fluxgate/resolver"
	"github.com/absmach/fluxgate/storage"
	"github.com/absmach/fluxgate/storage/badger"
	"github.com/absmach/fluxgate/storage/memory"
)

var _ gateway.Limiter = (*ratelimit.Manager)(nil)

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newAliasStore(cfg config.StorageConfig) (storage.AliasStore, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageBadger:
		return badger.New(badger.Config{Dir: cfg.BadgerDir})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// newStaticAliases builds the alias table consulted before the hook.
func newStaticAliases(cfg *config.Config) (*resolver.Table, error) {
	aliases, err := cfg.BuildAliases()
	if err != nil {
		return nil, err
	}
	return resolver.NewTable(aliases), nil
}

// newHook assembles the configured hook. The returned notifier is nil unless
// webhooks are enabled.
func newHook(cfg *config.Config, store storage.AliasStore, logger *slog.Logger) (hook.Hook, webhook.Notifier, error) {
	var h hook.Hook = &hook.NoopHook{}
	if cfg.Hook.Type == config.HookRegistry {
		h = registry.New(store, logger)
	}

	if !cfg.Webhook.Enabled {
		return h, nil, nil
	}

	notifier, err := webhook.NewNotifier(cfg.Webhook, cfg.Gateway.InstanceID, webhook.NewHTTPSender(), logger)
	if err != nil {
		return nil, nil, err
	}
	return events.NewHook(h, notifier, cfg.Webhook.IncludePayload, logger), notifier, nil
}
