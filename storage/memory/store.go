// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/storage"
)

var _ storage.AliasStore = (*Store)(nil)

// Store is an in-memory alias store.
type Store struct {
	mu   sync.RWMutex
	data map[string]*hook.BrokerConfig
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]*hook.BrokerConfig),
	}
}

// Get retrieves the configuration stored for alias.
func (s *Store) Get(ctx context.Context, alias string) (*hook.BrokerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.data[alias]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyConfig(cfg), nil
}

// Put stores a copy of cfg under alias.
func (s *Store) Put(ctx context.Context, alias string, cfg *hook.BrokerConfig) error {
	if err := storage.ValidateAlias(alias); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[alias] = storage.CopyConfig(cfg)
	return nil
}

// Delete removes alias.
func (s *Store) Delete(ctx context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, alias)
	return nil
}

// List returns copies of all stored entries.
func (s *Store) List(ctx context.Context) (map[string]*hook.BrokerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*hook.BrokerConfig, len(s.data))
	for alias, cfg := range s.data {
		out[alias] = storage.CopyConfig(cfg)
	}
	return out, nil
}

// Close is a no-op for memory.
func (s *Store) Close() error {
	return nil
}
