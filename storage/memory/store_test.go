// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_, err := s.Get(ctx, "shop1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	cfg, err := hook.NewBrokerConfigBuilder("tcp://broker.example:1883").
		Username("bob").
		KeepAlive(time.Minute).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "shop1", cfg))

	*cfg.Username = "mallory"

	got, err := s.Get(ctx, "shop1")
	require.NoError(t, err)
	assert.Equal(t, "bob", *got.Username)
	assert.Equal(t, time.Minute, *got.KeepAlive)

	*got.Username = "eve"
	again, err := s.Get(ctx, "shop1")
	require.NoError(t, err)
	assert.Equal(t, "bob", *again.Username)

	require.NoError(t, s.Put(ctx, "shop2", &hook.BrokerConfig{Address: "mqtt://other:1883"}))
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "shop1"))
	require.NoError(t, s.Delete(ctx, "shop1"))
	_, err = s.Get(ctx, "shop1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorePutInvalidAlias(t *testing.T) {
	s := New()
	err := s.Put(context.Background(), "  ", &hook.BrokerConfig{Address: "tcp://b:1883"})
	assert.ErrorIs(t, err, storage.ErrInvalidAlias)
}
