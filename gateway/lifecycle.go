// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"time"
)

// Shutdown stops accepting sessions and waits up to drainTimeout for the
// open ones to close before closing the rest.
func (g *Gateway) Shutdown(ctx context.Context, drainTimeout time.Duration) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.logger.Info("Starting shutdown", "drain_timeout", drainTimeout)

	drainDeadline := time.Now().Add(drainTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		count := g.SessionCount()
		if count == 0 {
			g.logger.Info("All sessions closed")
			return g.Close(ctx)
		}
		if !time.Now().Before(drainDeadline) {
			g.logger.Info("Drain timeout reached", "remaining_sessions", count)
			return g.Close(ctx)
		}

		select {
		case <-ctx.Done():
			g.logger.Warn("Shutdown cancelled by context")
			return g.Close(ctx)
		case <-ticker.C:
		}
	}
}

// Close closes every session, notifying the hook, and every broker link.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.closeSession(ctx, id, nil)
	}
	return nil
}

// SessionCount returns the number of pending and open sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// LinkCount returns the number of physical broker links, including links
// being established.
func (g *Gateway) LinkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.links)
}
