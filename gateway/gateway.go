// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package gateway drives the hook through the session and connection
// lifecycle of a multiplexing MQTT gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/resolver"
	"github.com/absmach/fluxgate/security"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Hook operation names, used in errors, logs and metrics.
const (
	OpResolveAlias  = "resolve_alias"
	OpOpenSession   = "open_session"
	OpSessionClose  = "session_close"
	OpConnect       = "connect"
	OpDisconnection = "disconnection"
	OpPublish       = "publish"
	OpSubscribe     = "subscribe"
	OpUnsubscribe   = "unsubscribe"
)

const (
	deniedByHookError = "authorization failed"
	deniedByTimeout   = "authorization timed out"
)

// Config holds dispatcher settings.
type Config struct {
	// MaxHookCalls bounds the number of hook calls in flight.
	MaxHookCalls int64
	// HookTimeout bounds a single hook call. An authorization that does not
	// complete in time is a denial.
	HookTimeout time.Duration
	// HookCacheTTL caches hook resolved aliases. Zero disables caching.
	HookCacheTTL time.Duration
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		MaxHookCalls: 64,
		HookTimeout:  5 * time.Second,
	}
}

// Gateway is the hook dispatcher. It owns every session, connection and
// broker link; the hook only sees identifiers and value snapshots.
type Gateway struct {
	cfg       Config
	hook      hook.Hook
	resolver  *resolver.Resolver
	security  *security.Resolver
	connector Connector
	static    resolver.StaticTable
	limiter   Limiter
	metrics   Metrics
	tracer    trace.Tracer
	stats     *Stats
	logger    *slog.Logger
	sem       *semaphore.Weighted
	group     singleflight.Group

	mu       sync.Mutex
	sessions map[string]*session
	links    map[string]*link
	closed   bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithStaticAliases sets the alias table consulted before the hook.
func WithStaticAliases(table resolver.StaticTable) Option {
	return func(g *Gateway) {
		g.static = table
	}
}

// WithLimiter sets the rate limiter. By default nothing is limited.
func WithLimiter(l Limiter) Option {
	return func(g *Gateway) {
		if l != nil {
			g.limiter = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithTracer sets the tracer used for hook call spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gateway dispatching to h. A nil hook permits everything.
func New(h hook.Hook, connector Connector, cfg Config, opts ...Option) *Gateway {
	if h == nil {
		h = &hook.NoopHook{}
	}
	def := DefaultConfig()
	if cfg.MaxHookCalls <= 0 {
		cfg.MaxHookCalls = def.MaxHookCalls
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = def.HookTimeout
	}

	g := &Gateway{
		cfg:       cfg,
		hook:      h,
		connector: connector,
		limiter:   allowAll{},
		metrics:   noopMetrics{},
		tracer:    tracenoop.NewTracerProvider().Tracer(""),
		stats:     NewStats(),
		logger:    slog.Default(),
		sem:       semaphore.NewWeighted(cfg.MaxHookCalls),
		sessions:  make(map[string]*session),
		links:     make(map[string]*link),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.resolver = resolver.New(g.static, boundedAliases{g: g},
		resolver.WithHookCacheTTL(cfg.HookCacheTTL),
		resolver.WithLogger(g.logger))
	g.security = security.New(g.logger)

	return g
}

// Init initializes the hook. A failure must stop the gateway before it serves.
func (g *Gateway) Init(ctx context.Context, configDir string) error {
	if err := g.hook.Init(ctx, configDir); err != nil {
		return fmt.Errorf("hook init: %w", err)
	}
	return nil
}

// Stats returns the gateway counters.
func (g *Gateway) Stats() *Stats {
	return g.stats
}

// Draining reports whether the gateway stopped accepting sessions.
func (g *Gateway) Draining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

type callResult struct {
	ok  bool
	err error
}

// invoke runs fn bounded by the hook semaphore and timeout. The timeout
// covers both waiting for a slot and the call itself. The semaphore slot is
// held until fn returns, even after the caller gave up on it.
func (g *Gateway) invoke(ctx context.Context, op string, fn func(context.Context) (bool, error)) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.HookTimeout)
	defer cancel()

	if err := g.sem.Acquire(cctx, 1); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errHookTimeout
	}
	return g.run(ctx, cctx, op, fn)
}

// invokeNotification waits for a semaphore slot without a deadline, so a
// saturated hook delays notifications but never drops them. Only the call
// itself is bounded by the hook timeout.
func (g *Gateway) invokeNotification(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, g.cfg.HookTimeout)
	defer cancel()
	_, err := g.run(ctx, cctx, op, func(ctx context.Context) (bool, error) {
		return true, fn(ctx)
	})
	return err
}

// run calls fn on its own goroutine with an acquired semaphore slot and
// waits for it until cctx is done.
func (g *Gateway) run(ctx, cctx context.Context, op string, fn func(context.Context) (bool, error)) (bool, error) {
	done := make(chan callResult, 1)
	go func() {
		defer g.sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("hook %s panicked: %v", op, p)}
			}
		}()
		ok, err := fn(cctx)
		done <- callResult{ok: ok, err: err}
	}()

	select {
	case r := <-done:
		return r.ok, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errHookTimeout
	}
}

// authorize consults the hook and maps anything but an explicit permit to
// a *DenialError. A canceled caller context is returned as is.
func (g *Gateway) authorize(ctx context.Context, op string, fn func(context.Context) (bool, error), attrs ...any) error {
	ctx, span := g.tracer.Start(ctx, "hook."+op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	ok, err := g.invoke(ctx, op, fn)
	outcome, err := g.decide(ctx, op, ok, err, attrs)
	span.SetAttributes(attribute.String("hook.outcome", outcome))
	g.stats.outcome(outcome)
	g.metrics.RecordHookCall(ctx, op, outcome, time.Since(start))
	return err
}

func (g *Gateway) decide(ctx context.Context, op string, ok bool, err error, attrs []any) (string, error) {
	var herr *hook.Error
	switch {
	case err == nil && ok:
		return OutcomePermit, nil
	case err == nil:
		return OutcomeDeny, &DenialError{Op: op}
	case ctx.Err() != nil:
		return OutcomeCanceled, ctx.Err()
	case errors.Is(err, errHookTimeout):
		g.logger.Warn("hook authorization timed out",
			append([]any{slog.String("op", op), slog.Duration("timeout", g.cfg.HookTimeout)}, attrs...)...)
		return OutcomeTimeout, &DenialError{Op: op, Message: deniedByTimeout, Err: err}
	case errors.As(err, &herr):
		code := herr.Code
		if code < 0 {
			code = 0
		}
		return OutcomeDeny, &DenialError{Op: op, Code: code, Message: sanitize(herr.Message), Err: err}
	default:
		g.logger.Error("hook authorization failed",
			append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)...)
		return OutcomeError, &DenialError{Op: op, Message: deniedByHookError, Err: err}
	}
}

// notify delivers a lifecycle notification. Failures are logged and
// swallowed; cancellation of ctx does not abort the notification, and a
// saturated hook only delays it.
func (g *Gateway) notify(ctx context.Context, op string, fn func(context.Context) error, attrs ...any) {
	ctx, span := g.tracer.Start(context.WithoutCancel(ctx), "hook."+op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	err := g.invokeNotification(ctx, op, fn)
	outcome := OutcomeNotified
	if err != nil {
		outcome = OutcomeFailed
		g.logger.Warn("hook notification failed",
			append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)...)
	}
	span.SetAttributes(attribute.String("hook.outcome", outcome))
	g.stats.outcome(outcome)
	g.metrics.RecordHookCall(ctx, op, outcome, time.Since(start))
}

// boundedAliases routes alias resolution through the hook semaphore.
type boundedAliases struct {
	g *Gateway
}

func (b boundedAliases) ResolveAlias(ctx context.Context, alias string) (*hook.BrokerConfig, error) {
	var cfg *hook.BrokerConfig
	start := time.Now()
	_, err := b.g.invoke(ctx, OpResolveAlias, func(ctx context.Context) (bool, error) {
		c, err := b.g.hook.ResolveAlias(ctx, alias)
		cfg = c
		return true, err
	})
	if err != nil {
		b.g.stats.outcome(OutcomeFailed)
		b.g.metrics.RecordHookCall(ctx, OpResolveAlias, OutcomeFailed, time.Since(start))
		return nil, err
	}
	b.g.metrics.RecordHookCall(ctx, OpResolveAlias, OutcomePermit, time.Since(start))
	return cfg, nil
}

// resolveError maps a resolution failure. Configuration errors are returned
// as is; hook failures become denials.
func (g *Gateway) resolveError(ctx context.Context, alias string, err error) error {
	var ce *resolver.ConfigError
	if errors.As(err, &ce) {
		return err
	}
	_, err = g.decide(ctx, OpResolveAlias, false, err, []any{slog.String("alias", alias)})
	return err
}
