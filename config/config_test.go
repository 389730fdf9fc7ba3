// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fluxgate/hook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(64), cfg.Gateway.MaxHookCalls)
	assert.Equal(t, 5*time.Second, cfg.Gateway.HookTimeout)
	assert.Zero(t, cfg.Gateway.HookCacheTTL)
	assert.Equal(t, HookNoop, cfg.Hook.Type)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Webhook.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			modify: func(c *Config) {},
		},
		{
			name:    "no hook calls allowed",
			modify:  func(c *Config) { c.Gateway.MaxHookCalls = 0 },
			wantErr: "gateway.max_hook_calls",
		},
		{
			name:    "zero hook timeout",
			modify:  func(c *Config) { c.Gateway.HookTimeout = 0 },
			wantErr: "gateway.hook_timeout",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: "log.level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
		{
			name:    "unknown hook type",
			modify:  func(c *Config) { c.Hook.Type = "ldap" },
			wantErr: "hook.type",
		},
		{
			name: "badger without dir",
			modify: func(c *Config) {
				c.Storage.Type = StorageBadger
				c.Storage.BadgerDir = ""
			},
			wantErr: "storage.badger_dir",
		},
		{
			name:    "alias without address",
			modify:  func(c *Config) { c.Aliases["shop1"] = AliasConfig{} },
			wantErr: "aliases.shop1.address",
		},
		{
			name: "alias with invalid will",
			modify: func(c *Config) {
				c.Aliases["shop1"] = AliasConfig{Address: "tcp://b:1883", Will: &WillConfig{Topic: "t", QoS: 3}}
			},
			wantErr: "aliases.shop1",
		},
		{
			name:    "sample rate out of range",
			modify:  func(c *Config) { c.Telemetry.TraceSampleRate = 2 },
			wantErr: "telemetry.trace_sample_rate",
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Publish.Burst = 0
			},
			wantErr: "rate_limit.publish",
		},
		{
			name: "webhook endpoint without url",
			modify: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []WebhookEndpoint{{Name: "audit", Type: "http"}}
			},
			wantErr: "webhook.endpoints[0].url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const sampleConfig = `
gateway:
  max_hook_calls: 8
  hook_timeout: 2s
log:
  level: debug
  format: json
aliases:
  shop1:
    address: tcp://broker.example:1883
  secure:
    address: mqtts://broker.example:8883
    username: gw
    keep_alive: 1m
    will:
      topic: gw/offline
      payload: bye
      qos: 1
    security:
      protocol: TLSv1.3
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cfg.Gateway.MaxHookCalls)
	assert.Equal(t, 2*time.Second, cfg.Gateway.HookTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Gateway.DrainTimeout)

	aliases, err := cfg.BuildAliases()
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "tcp://broker.example:1883", aliases["shop1"].Address)
	assert.Nil(t, aliases["shop1"].Security)

	secure := aliases["secure"]
	assert.Equal(t, "gw", *secure.Username)
	assert.Equal(t, time.Minute, *secure.KeepAlive)
	assert.Equal(t, hook.AtLeastOnce, secure.WillMessage.QoS)
	assert.Equal(t, []byte("bye"), secure.WillMessage.Payload)
	require.NotNil(t, secure.Security)
	assert.Equal(t, "TLSv1.3", secure.Security.Protocol)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Gateway, cfg.Gateway)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLUXGATE_GATEWAY_HOOK_TIMEOUT", "750ms")
	t.Setenv("FLUXGATE_LOG_LEVEL", "warn")
	t.Setenv("FLUXGATE_RATE_LIMIT_ENABLED", "true")
	t.Setenv("FLUXGATE_RATE_LIMIT_PUBLISH_RATE", "5")
	t.Setenv("FLUXGATE_WEBHOOK_DEFAULTS_RETRY_MAX_ATTEMPTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Gateway.HookTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5.0, cfg.RateLimit.Publish.Rate)
	assert.Equal(t, 7, cfg.Webhook.Defaults.Retry.MaxAttempts)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoadAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shop1:\n  address: tcp://broker.example:1883\n  client_id_prefix: shop\n"), 0o600))

	aliases, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", aliases["shop1"].ClientIDPrefix)

	require.NoError(t, os.WriteFile(path, []byte("bad:\n  address: tcp://b:1883\n  will:\n    topic: \"\"\n"), 0o600))
	_, err = LoadAliases(path)
	assert.ErrorIs(t, err, hook.ErrInvalidTopic)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Gateway.InstanceID = "gw-7"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gw-7", loaded.Gateway.InstanceID)
}
