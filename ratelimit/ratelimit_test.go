// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPRateLimiterAllow(t *testing.T) {
	limiter := NewIPRateLimiter(5, 2, time.Minute)
	defer limiter.Stop()

	assert.True(t, limiter.Allow("192.168.1.1"))
	assert.True(t, limiter.Allow("192.168.1.1:5555"), "port is ignored")
	assert.False(t, limiter.Allow("192.168.1.1"), "burst exhausted")

	time.Sleep(250 * time.Millisecond)
	assert.True(t, limiter.Allow("192.168.1.1"), "token refilled")
}

func TestIPRateLimiterDifferentIPs(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.2"))
}

func TestIPRateLimiterUnknownIP(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(""))
	}
}

func TestIPRateLimiterRemoveStale(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1, time.Minute)
	limiter.Stop()
	limiter.Stop()

	limiter.Allow("10.0.0.1")
	require.Equal(t, 1, limiter.size())

	limiter.removeStale(time.Now())
	assert.Equal(t, 1, limiter.size())

	limiter.removeStale(time.Now().Add(3 * time.Minute))
	assert.Zero(t, limiter.size())
}

func TestSessionRateLimiter(t *testing.T) {
	limiter := NewSessionRateLimiter(5, 2, 5, 1)

	assert.True(t, limiter.AllowPublish("s1"))
	assert.True(t, limiter.AllowPublish("s1"))
	assert.False(t, limiter.AllowPublish("s1"))
	assert.True(t, limiter.AllowPublish("s2"), "sessions are independent")

	assert.True(t, limiter.AllowSubscribe("s1"))
	assert.False(t, limiter.AllowSubscribe("s1"))

	limiter.Remove("s1")
	assert.True(t, limiter.AllowPublish("s1"), "fresh limiter after remove")
	assert.True(t, limiter.AllowSubscribe("s1"))
}

func TestManagerDisabled(t *testing.T) {
	m := NewManager(DefaultConfig())
	defer m.Stop()

	for i := 0; i < 1000; i++ {
		require.True(t, m.AllowConnection("10.0.0.1"))
		require.True(t, m.AllowPublish("s1"))
		require.True(t, m.AllowSubscribe("s1"))
	}
	m.OnClientDisconnect("s1")
}

func TestManagerEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Session.Rate = 1
	cfg.Session.Burst = 1
	cfg.Publish.Rate = 1
	cfg.Publish.Burst = 1
	cfg.Subscribe.Rate = 1
	cfg.Subscribe.Burst = 1

	m := NewManager(cfg)
	defer m.Stop()

	assert.True(t, m.AllowConnection("10.0.0.1"))
	assert.False(t, m.AllowConnection("10.0.0.1"))

	assert.True(t, m.AllowPublish("s1"))
	assert.False(t, m.AllowPublish("s1"))

	assert.True(t, m.AllowSubscribe("s1"))
	assert.False(t, m.AllowSubscribe("s1"))

	m.OnClientDisconnect("s1")
	assert.True(t, m.AllowPublish("s1"))
}

func TestManagerSelectiveEnable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Session.Enabled = false
	cfg.Publish.Rate = 1
	cfg.Publish.Burst = 1
	cfg.Subscribe.Enabled = false

	m := NewManager(cfg)
	defer m.Stop()

	for i := 0; i < 10; i++ {
		require.True(t, m.AllowConnection("10.0.0.1"))
		require.True(t, m.AllowSubscribe("s1"))
	}
	assert.True(t, m.AllowPublish("s1"))
	assert.False(t, m.AllowPublish("s1"))
}

func TestNormalizeIP(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"10.0.0.1":        "10.0.0.1",
		"10.0.0.1:1883":   "10.0.0.1",
		"[::1]:1883":      "::1",
		"2001:db8::1":     "2001:db8::1",
		"proxy.local:443": "proxy.local",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeIP(in), in)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.Session.Enabled)
	assert.Equal(t, 20, cfg.Session.Burst)
	assert.Equal(t, 5*time.Minute, cfg.Session.CleanupInterval)
	assert.Equal(t, float64(1000), cfg.Publish.Rate)
	assert.Equal(t, 10, cfg.Subscribe.Burst)
}
