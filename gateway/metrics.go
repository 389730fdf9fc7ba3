// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"sync/atomic"
	"time"
)

// Hook call outcomes reported to Metrics.
const (
	OutcomePermit   = "permit"
	OutcomeDeny     = "deny"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeNotified = "notified"
	OutcomeFailed   = "failed"
)

// Metrics receives gateway measurements.
type Metrics interface {
	RecordHookCall(ctx context.Context, method, outcome string, d time.Duration)
	RecordSession(ctx context.Context, delta int64)
	RecordConnection(ctx context.Context, delta int64)
	RecordLink(ctx context.Context, shared bool, delta int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordHookCall(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordSession(context.Context, int64)                         {}
func (noopMetrics) RecordConnection(context.Context, int64)                      {}
func (noopMetrics) RecordLink(context.Context, bool, int64)                      {}

// Stats tracks gateway counters.
type Stats struct {
	startTime time.Time

	totalSessions   atomic.Uint64
	currentSessions atomic.Int64

	totalConnections   atomic.Uint64
	currentConnections atomic.Int64

	dedicatedLinks atomic.Int64
	sharedLinks    atomic.Int64

	denials      atomic.Uint64
	hookErrors   atomic.Uint64
	hookTimeouts atomic.Uint64
}

// Snapshot is a point in time copy of Stats.
type Snapshot struct {
	Uptime             time.Duration `json:"uptime"`
	TotalSessions      uint64        `json:"total_sessions"`
	CurrentSessions    int64         `json:"current_sessions"`
	TotalConnections   uint64        `json:"total_connections"`
	CurrentConnections int64         `json:"current_connections"`
	DedicatedLinks     int64         `json:"dedicated_links"`
	SharedLinks        int64         `json:"shared_links"`
	Denials            uint64        `json:"denials"`
	HookErrors         uint64        `json:"hook_errors"`
	HookTimeouts       uint64        `json:"hook_timeouts"`
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Uptime:             time.Since(s.startTime),
		TotalSessions:      s.totalSessions.Load(),
		CurrentSessions:    s.currentSessions.Load(),
		TotalConnections:   s.totalConnections.Load(),
		CurrentConnections: s.currentConnections.Load(),
		DedicatedLinks:     s.dedicatedLinks.Load(),
		SharedLinks:        s.sharedLinks.Load(),
		Denials:            s.denials.Load(),
		HookErrors:         s.hookErrors.Load(),
		HookTimeouts:       s.hookTimeouts.Load(),
	}
}

func (s *Stats) sessionOpened() {
	s.totalSessions.Add(1)
	s.currentSessions.Add(1)
}

func (s *Stats) sessionClosed() {
	s.currentSessions.Add(-1)
}

func (s *Stats) connectionOpened() {
	s.totalConnections.Add(1)
	s.currentConnections.Add(1)
}

func (s *Stats) connectionClosed() {
	s.currentConnections.Add(-1)
}

func (s *Stats) link(shared bool, delta int64) {
	if shared {
		s.sharedLinks.Add(delta)
		return
	}
	s.dedicatedLinks.Add(delta)
}

func (s *Stats) outcome(outcome string) {
	switch outcome {
	case OutcomeDeny:
		s.denials.Add(1)
	case OutcomeError:
		s.hookErrors.Add(1)
		s.denials.Add(1)
	case OutcomeTimeout:
		s.hookTimeouts.Add(1)
		s.denials.Add(1)
	case OutcomeFailed:
		s.hookErrors.Add(1)
	}
}
