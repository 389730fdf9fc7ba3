// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/storage"
	"github.com/absmach/fluxgate/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct {
	storage.AliasStore
}

func (brokenStore) Get(context.Context, string) (*hook.BrokerConfig, error) {
	return nil, errors.New("disk on fire")
}

func TestInitSeedsStore(t *testing.T) {
	dir := t.TempDir()
	data := "shop1:\n  address: tcp://broker.example:1883\n  username: bob\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, AliasesFile), []byte(data), 0o600))

	store := memory.New()
	h := New(store, nil)
	require.NoError(t, h.Init(context.Background(), dir))

	cfg, err := h.ResolveAlias(context.Background(), "shop1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "tcp://broker.example:1883", cfg.Address)
	assert.Equal(t, "bob", *cfg.Username)
}

func TestInitWithoutFile(t *testing.T) {
	h := New(memory.New(), nil)
	require.NoError(t, h.Init(context.Background(), t.TempDir()))
	require.NoError(t, h.Init(context.Background(), ""))
}

func TestInitInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AliasesFile), []byte("shop1: [not, a, map]\n"), 0o600))

	h := New(memory.New(), nil)
	assert.Error(t, h.Init(context.Background(), dir))
}

func TestResolveUnknownAlias(t *testing.T) {
	h := New(memory.New(), nil)
	cfg, err := h.ResolveAlias(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestResolveStoreFailure(t *testing.T) {
	h := New(brokenStore{}, nil)
	_, err := h.ResolveAlias(context.Background(), "shop1")

	var he *hook.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "alias store unavailable", he.Message)
}

func TestAuthorizationsPermitted(t *testing.T) {
	h := New(memory.New(), nil)
	ok, err := h.CanOpenSession(context.Background(), "s1", nil, nil, hook.ClientContext{}, "")
	require.NoError(t, err)
	assert.True(t, ok)
}
