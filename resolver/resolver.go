// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/absmach/fluxgate/hook"
)

// Defaults applied when neither the client nor the broker configuration sets a value.
const (
	DefaultClientIDPrefix    = "fluxgate"
	DefaultConnectionTimeout = 5 * time.Second
	DefaultKeepAlive         = 30 * time.Second
)

// StaticTable is the pre-populated alias table consulted before the hook.
type StaticTable interface {
	Lookup(alias string) (*hook.BrokerConfig, bool)
}

// AliasResolver resolves aliases missing from the static table.
// hook.Hook satisfies it.
type AliasResolver interface {
	ResolveAlias(ctx context.Context, alias string) (*hook.BrokerConfig, error)
}

// Source tells where a broker configuration came from.
type Source int

const (
	SourceStatic Source = iota
	SourceHook
)

func (s Source) String() string {
	if s == SourceStatic {
		return "static"
	}
	return "hook"
}

// ClientOptions are the connection options declared by the client.
// Nil fields are not overridden.
type ClientOptions struct {
	Username     *string
	Password     *string
	WillMessage  *hook.Message
	CleanSession bool
}

// Config is the effective configuration of one connection attempt.
type Config struct {
	Alias          string
	Address        Address
	ClientIDPrefix string
	Security       *hook.SecurityParams
	Options        hook.ConnectOptions
	Source         Source
}

type entry struct {
	cfg     hook.BrokerConfig
	addr    Address
	expires time.Time
}

// Resolver merges the static table, the hook and client options into the
// effective connection configuration.
type Resolver struct {
	static   StaticTable
	aliases  AliasResolver
	hookTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
	statics  map[string]entry
	resolved map[string]entry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHookCacheTTL caches hook resolved configurations for ttl.
// By default they are resolved again on every connection attempt.
func WithHookCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.hookTTL = ttl
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a resolver. Both static and aliases may be nil.
func New(static StaticTable, aliases AliasResolver, opts ...Option) *Resolver {
	r := &Resolver{
		static:   static,
		aliases:  aliases,
		logger:   slog.Default(),
		now:      time.Now,
		statics:  make(map[string]entry),
		resolved: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns a copy of the broker configuration the alias resolves to.
func (r *Resolver) Lookup(ctx context.Context, alias string) (*hook.BrokerConfig, Source, error) {
	e, src, err := r.lookup(ctx, alias)
	if err != nil {
		return nil, src, err
	}
	cfg := copyBrokerConfig(e.cfg)
	return &cfg, src, nil
}

// Resolve returns the effective configuration for alias, applying client
// options over the broker configuration and defaults.
func (r *Resolver) Resolve(ctx context.Context, alias string, client ClientOptions) (*Config, error) {
	e, src, err := r.lookup(ctx, alias)
	if err != nil {
		return nil, err
	}
	base := copyBrokerConfig(e.cfg)

	opts := hook.ConnectOptions{
		Username:          first(client.Username, base.Username),
		Password:          first(client.Password, base.Password),
		ConnectionTimeout: DefaultConnectionTimeout,
		KeepAlive:         DefaultKeepAlive,
		WillMessage:       base.WillMessage,
		CleanSession:      client.CleanSession,
	}
	if base.ConnectionTimeout != nil {
		opts.ConnectionTimeout = *base.ConnectionTimeout
	}
	if base.KeepAlive != nil {
		opts.KeepAlive = *base.KeepAlive
	}
	if client.WillMessage != nil {
		w := client.WillMessage.Clone()
		opts.WillMessage = &w
	}

	prefix := strings.TrimSpace(base.ClientIDPrefix)
	if prefix == "" {
		prefix = DefaultClientIDPrefix
	}

	return &Config{
		Alias:          alias,
		Address:        e.addr,
		ClientIDPrefix: prefix,
		Security:       base.Security,
		Options:        opts.Clone(),
		Source:         src,
	}, nil
}

func (r *Resolver) lookup(ctx context.Context, alias string) (entry, Source, error) {
	if e, ok := r.cachedStatic(alias); ok {
		return e, SourceStatic, nil
	}

	if r.static != nil {
		if cfg, ok := r.static.Lookup(alias); ok && cfg != nil {
			e, err := newEntry(alias, *cfg)
			if err != nil {
				return entry{}, SourceStatic, err
			}
			r.mu.Lock()
			r.statics[alias] = e
			r.mu.Unlock()
			return e, SourceStatic, nil
		}
	}

	if e, ok := r.cachedResolved(alias); ok {
		return e, SourceHook, nil
	}

	cfg, err := r.resolveFromHook(ctx, alias)
	if err != nil {
		return entry{}, SourceHook, err
	}
	if cfg == nil {
		return entry{}, SourceHook, &ConfigError{Kind: ErrUnknownAlias, Alias: alias}
	}

	e, err := newEntry(alias, *cfg)
	if err != nil {
		return entry{}, SourceHook, err
	}
	if r.hookTTL > 0 {
		e.expires = r.now().Add(r.hookTTL)
		r.mu.Lock()
		r.resolved[alias] = e
		r.mu.Unlock()
	}

	r.logger.Debug("alias resolved by hook",
		slog.String("alias", alias),
		slog.String("address", e.addr.String()))

	return e, SourceHook, nil
}

func (r *Resolver) resolveFromHook(ctx context.Context, alias string) (cfg *hook.BrokerConfig, err error) {
	if r.aliases == nil {
		return nil, nil
	}
	defer func() {
		if p := recover(); p != nil {
			cfg = nil
			err = fmt.Errorf("alias resolution panicked: %v", p)
		}
	}()
	return r.aliases.ResolveAlias(ctx, alias)
}

func (r *Resolver) cachedStatic(alias string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.statics[alias]
	return e, ok
}

func (r *Resolver) cachedResolved(alias string) (entry, bool) {
	if r.hookTTL <= 0 {
		return entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.resolved[alias]
	if !ok {
		return entry{}, false
	}
	if r.now().After(e.expires) {
		delete(r.resolved, alias)
		return entry{}, false
	}
	return e, true
}

func newEntry(alias string, cfg hook.BrokerConfig) (entry, error) {
	addr, err := ParseAddress(cfg.Address)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Alias = alias
		}
		return entry{}, err
	}
	return entry{cfg: copyBrokerConfig(cfg), addr: addr}, nil
}

func copyBrokerConfig(cfg hook.BrokerConfig) hook.BrokerConfig {
	if cfg.ConnectionTimeout != nil {
		d := *cfg.ConnectionTimeout
		cfg.ConnectionTimeout = &d
	}
	if cfg.KeepAlive != nil {
		d := *cfg.KeepAlive
		cfg.KeepAlive = &d
	}
	cfg.Username = copyString(cfg.Username)
	cfg.Password = copyString(cfg.Password)
	if cfg.WillMessage != nil {
		w := cfg.WillMessage.Clone()
		cfg.WillMessage = &w
	}
	if cfg.Security != nil {
		sp := *cfg.Security
		cfg.Security = &sp
	}
	return cfg
}

func first(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
