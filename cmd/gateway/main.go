// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/connector"
	"github.com/absmach/fluxgate/gateway"
	"github.com/absmach/fluxgate/ratelimit"
	"github.com/absmach/fluxgate/server/health"
	"github.com/absmach/fluxgate/server/otel"
	"github.com/joho/godotenv"
	oteltrace "go.opentelemetry.io/otel"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	slog.Info("Starting MQTT gateway", "version", "0.1.0")
	slog.Info("Configuration loaded",
		"instance_id", cfg.Gateway.InstanceID,
		"hook", cfg.Hook.Type,
		"max_hook_calls", cfg.Gateway.MaxHookCalls,
		"hook_timeout", cfg.Gateway.HookTimeout,
		"rate_limit_enabled", cfg.RateLimit.Enabled,
		"webhook_enabled", cfg.Webhook.Enabled,
		"log_level", cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := otel.InitProvider(ctx, cfg.Telemetry, cfg.Gateway.InstanceID)
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithTracer(oteltrace.Tracer("fluxgate")),
	}

	if cfg.Telemetry.MetricsEnabled {
		metrics, err := otel.NewMetrics(nil)
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		opts = append(opts, gateway.WithMetrics(metrics))
	}

	static, err := newStaticAliases(cfg)
	if err != nil {
		slog.Error("Invalid static aliases", "error", err)
		os.Exit(1)
	}
	opts = append(opts, gateway.WithStaticAliases(static))
	slog.Info("Static aliases loaded", "count", static.Len())

	var limiter *ratelimit.Manager
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewManager(cfg.RateLimit)
		opts = append(opts, gateway.WithLimiter(limiter))
		slog.Info("Rate limiting enabled",
			"session_rate", cfg.RateLimit.Session.Rate,
			"publish_rate", cfg.RateLimit.Publish.Rate,
			"subscribe_rate", cfg.RateLimit.Subscribe.Rate)
	}

	store, err := newAliasStore(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize alias storage", "error", err)
		os.Exit(1)
	}

	h, notifier, err := newHook(cfg, store, logger)
	if err != nil {
		slog.Error("Failed to create hook", "error", err)
		store.Close()
		os.Exit(1)
	}

	gw := gateway.New(h, connector.New(logger), gateway.Config{
		MaxHookCalls: cfg.Gateway.MaxHookCalls,
		HookTimeout:  cfg.Gateway.HookTimeout,
		HookCacheTTL: cfg.Gateway.HookCacheTTL,
	}, opts...)

	if err := gw.Init(ctx, cfg.Hook.ConfigDir); err != nil {
		slog.Error("Hook initialization failed", "error", err)
		store.Close()
		os.Exit(1)
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	if cfg.Health.Enabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Health.ShutdownTimeout,
		}, gw, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("MQTT gateway started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.DrainTimeout+10*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx, cfg.Gateway.DrainTimeout); err != nil {
		slog.Error("Gateway shutdown error", "error", err)
	}

	cancel()
	wg.Wait()

	if notifier != nil {
		notifier.Close()
	}
	if limiter != nil {
		limiter.Stop()
	}
	if err := store.Close(); err != nil {
		slog.Error("Failed to close alias storage", "error", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("OpenTelemetry shutdown error", "error", err)
	}

	slog.Info("MQTT gateway stopped")
}
