// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.AliasStore = (*Store)(nil)

// Key format: alias/{name}.
const aliasPrefix = "alias/"

// Store is a BadgerDB backed alias store.
type Store struct {
	db *badger.DB

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string
	GCInterval time.Duration
}

// New opens or creates the database in cfg.Dir.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	opts.EncryptionKey = nil
	opts.EncryptionKeyRotationDuration = 0
	// Alias edits are rare and must survive a crash.
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open alias store: %w", err)
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s := &Store{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runGC(interval)

	return s, nil
}

func aliasKey(alias string) []byte {
	return []byte(aliasPrefix + alias)
}

// Get retrieves the configuration stored for alias.
func (s *Store) Get(ctx context.Context, alias string) (*hook.BrokerConfig, error) {
	var cfg *hook.BrokerConfig

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(aliasKey(alias))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			cfg = &hook.BrokerConfig{}
			return json.Unmarshal(val, cfg)
		})
	})
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Put stores cfg under alias.
func (s *Store) Put(ctx context.Context, alias string, cfg *hook.BrokerConfig) error {
	if err := storage.ValidateAlias(alias); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal broker config: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(aliasKey(alias), data)
	})
}

// Delete removes alias.
func (s *Store) Delete(ctx context.Context, alias string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(aliasKey(alias))
	})
}

// List returns all stored entries.
func (s *Store) List(ctx context.Context) (map[string]*hook.BrokerConfig, error) {
	out := make(map[string]*hook.BrokerConfig)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(aliasPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			alias := string(item.Key()[len(aliasPrefix):])

			err := item.Value(func(val []byte) error {
				var cfg hook.BrokerConfig
				if err := json.Unmarshal(val, &cfg); err != nil {
					return err
				}
				out[alias] = &cfg
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal alias %q: %w", alias, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Close stops the GC loop and closes the database. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
