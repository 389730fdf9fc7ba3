// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/absmach/fluxgate/hook"
)

// Common errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidAlias = errors.New("invalid alias name")
)

// AliasStore persists broker configurations by connection alias.
type AliasStore interface {
	// Get returns the configuration stored for alias, or ErrNotFound.
	Get(ctx context.Context, alias string) (*hook.BrokerConfig, error)

	// Put stores cfg under alias, replacing any previous entry.
	Put(ctx context.Context, alias string, cfg *hook.BrokerConfig) error

	// Delete removes alias. Deleting a missing alias is not an error.
	Delete(ctx context.Context, alias string) error

	// List returns all stored entries keyed by alias.
	List(ctx context.Context) (map[string]*hook.BrokerConfig, error)

	// Close releases the store resources.
	Close() error
}

// ValidateAlias rejects blank alias names.
func ValidateAlias(alias string) error {
	if strings.TrimSpace(alias) == "" {
		return ErrInvalidAlias
	}
	return nil
}

// CopyConfig returns a deep copy of cfg.
func CopyConfig(cfg *hook.BrokerConfig) *hook.BrokerConfig {
	if cfg == nil {
		return nil
	}
	cp := *cfg
	if cfg.ConnectionTimeout != nil {
		d := *cfg.ConnectionTimeout
		cp.ConnectionTimeout = &d
	}
	if cfg.KeepAlive != nil {
		d := *cfg.KeepAlive
		cp.KeepAlive = &d
	}
	if cfg.Username != nil {
		u := *cfg.Username
		cp.Username = &u
	}
	if cfg.Password != nil {
		p := *cfg.Password
		cp.Password = &p
	}
	if cfg.WillMessage != nil {
		w := cfg.WillMessage.Clone()
		cp.WillMessage = &w
	}
	if cfg.Security != nil {
		sp := *cfg.Security
		cp.Security = &sp
	}
	return &cp
}
