// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles session opens per remote IP and publishes and
// subscriptions per session.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter limits session open attempts per remote IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates an IP rate limiter allowing r attempts per second
// with the given burst. Entries idle for two cleanup intervals are dropped.
func NewIPRateLimiter(r float64, burst int, cleanupInterval time.Duration) *IPRateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	l := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a session from ip may open now. Unknown IPs are
// always allowed.
func (l *IPRateLimiter) Allow(ip string) bool {
	ip = normalizeIP(ip)
	if ip == "" {
		return true
	}

	l.mu.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) removeStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := now.Add(-l.cleanup * 2)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, ip)
		}
	}
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// SessionRateLimiter limits publishes and subscriptions per session.
type SessionRateLimiter struct {
	mu           sync.Mutex
	publishes    map[string]*rate.Limiter
	subscribes   map[string]*rate.Limiter
	publishRate  rate.Limit
	publishBurst int
	subRate      rate.Limit
	subBurst     int
}

// NewSessionRateLimiter creates a per session rate limiter.
func NewSessionRateLimiter(publishRate float64, publishBurst int, subRate float64, subBurst int) *SessionRateLimiter {
	return &SessionRateLimiter{
		publishes:    make(map[string]*rate.Limiter),
		subscribes:   make(map[string]*rate.Limiter),
		publishRate:  rate.Limit(publishRate),
		publishBurst: publishBurst,
		subRate:      rate.Limit(subRate),
		subBurst:     subBurst,
	}
}

// AllowPublish reports whether the session may publish now.
func (l *SessionRateLimiter) AllowPublish(sessionID string) bool {
	return l.limiter(l.publishes, sessionID, l.publishRate, l.publishBurst).Allow()
}

// AllowSubscribe reports whether the session may subscribe now.
func (l *SessionRateLimiter) AllowSubscribe(sessionID string) bool {
	return l.limiter(l.subscribes, sessionID, l.subRate, l.subBurst).Allow()
}

func (l *SessionRateLimiter) limiter(m map[string]*rate.Limiter, key string, r rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := m[key]
	if !ok {
		lim = rate.NewLimiter(r, burst)
		m[key] = lim
	}
	return lim
}

// Remove drops the limiters of a closed session.
func (l *SessionRateLimiter) Remove(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.publishes, sessionID)
	delete(l.subscribes, sessionID)
}

// normalizeIP accepts a bare IP or a host:port pair.
func normalizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	Session   SessionConfig   `yaml:"session" envPrefix:"SESSION_"`
	Publish   PublishConfig   `yaml:"publish" envPrefix:"PUBLISH_"`
	Subscribe SubscribeConfig `yaml:"subscribe" envPrefix:"SUBSCRIBE_"`
}

// SessionConfig holds per IP session open limits.
type SessionConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Rate            float64       `yaml:"rate" env:"RATE"`   // session opens per second per IP
	Burst           int           `yaml:"burst" env:"BURST"` // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// PublishConfig holds per session publish limits.
type PublishConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	Rate    float64 `yaml:"rate" env:"RATE"` // publishes per second per session
	Burst   int     `yaml:"burst" env:"BURST"`
}

// SubscribeConfig holds per session subscription limits.
type SubscribeConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	Rate    float64 `yaml:"rate" env:"RATE"` // subscriptions per second per session
	Burst   int     `yaml:"burst" env:"BURST"`
}

// DefaultConfig returns the default configuration. Limiting is disabled.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Session: SessionConfig{
			Enabled:         true,
			Rate:            100.0 / 60.0, // 100 sessions per minute per IP
			Burst:           20,
			CleanupInterval: 5 * time.Minute,
		},
		Publish: PublishConfig{
			Enabled: true,
			Rate:    1000,
			Burst:   100,
		},
		Subscribe: SubscribeConfig{
			Enabled: true,
			Rate:    100,
			Burst:   10,
		},
	}
}

// Manager coordinates all rate limiters. It satisfies gateway.Limiter.
type Manager struct {
	config  Config
	ip      *IPRateLimiter
	session *SessionRateLimiter
}

// NewManager creates a rate limit manager. A disabled config allows everything.
func NewManager(cfg Config) *Manager {
	m := &Manager{config: cfg}
	if !cfg.Enabled {
		return m
	}
	if cfg.Session.Enabled {
		m.ip = NewIPRateLimiter(cfg.Session.Rate, cfg.Session.Burst, cfg.Session.CleanupInterval)
	}
	if cfg.Publish.Enabled || cfg.Subscribe.Enabled {
		m.session = NewSessionRateLimiter(cfg.Publish.Rate, cfg.Publish.Burst, cfg.Subscribe.Rate, cfg.Subscribe.Burst)
	}
	return m
}

// AllowConnection reports whether a session from ip may open.
func (m *Manager) AllowConnection(ip string) bool {
	if m.ip == nil {
		return true
	}
	return m.ip.Allow(ip)
}

// AllowPublish reports whether the session may publish.
func (m *Manager) AllowPublish(sessionID string) bool {
	if m.session == nil || !m.config.Publish.Enabled {
		return true
	}
	return m.session.AllowPublish(sessionID)
}

// AllowSubscribe reports whether the session may subscribe.
func (m *Manager) AllowSubscribe(sessionID string) bool {
	if m.session == nil || !m.config.Subscribe.Enabled {
		return true
	}
	return m.session.AllowSubscribe(sessionID)
}

// OnClientDisconnect drops the limiters of a closed session.
func (m *Manager) OnClientDisconnect(sessionID string) {
	if m.session == nil {
		return
	}
	m.session.Remove(sessionID)
}

// Stop releases background resources.
func (m *Manager) Stop() {
	if m.ip != nil {
		m.ip.Stop()
	}
}
