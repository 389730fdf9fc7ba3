// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"log/slog"

	"github.com/absmach/fluxgate/hook"
)

type sessionState int

const (
	sessionPending sessionState = iota
	sessionOpen
	sessionClosed
)

type session struct {
	id    string
	state sessionState
	// pairs holds connections in Connecting or Connected state.
	pairs map[*Connection]struct{}
}

// SessionRequest carries the attributes of a client session being opened.
type SessionRequest struct {
	SessionID string
	User      *string
	Password  *string
	Context   hook.ClientContext
	// Principal is the identification name of the client TLS certificate, if any.
	Principal string
}

// OpenSession asks the hook whether the session may open. On denial the
// session is discarded and a *DenialError is returned.
func (g *Gateway) OpenSession(ctx context.Context, req SessionRequest) error {
	if req.SessionID == "" {
		return ErrEmptySessionID
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if _, ok := g.sessions[req.SessionID]; ok {
		g.mu.Unlock()
		return ErrSessionExists
	}
	s := &session{id: req.SessionID, pairs: make(map[*Connection]struct{})}
	g.sessions[req.SessionID] = s
	g.mu.Unlock()

	if !g.limiter.AllowConnection(req.Context.RemoteIP) {
		g.discardSession(s)
		g.logger.Debug("session open rate limited",
			slog.String("session_id", req.SessionID),
			slog.String("remote_ip", req.Context.RemoteIP))
		return ErrRateLimited
	}

	user, password := copyString(req.User), copyString(req.Password)
	cc := req.Context.Clone()
	err := g.authorize(ctx, OpOpenSession, func(ctx context.Context) (bool, error) {
		return g.hook.CanOpenSession(ctx, req.SessionID, user, password, cc, req.Principal)
	}, slog.String("session_id", req.SessionID))
	if err != nil {
		g.discardSession(s)
		return err
	}

	g.mu.Lock()
	if g.sessions[req.SessionID] != s {
		// Closed while the hook was deciding.
		g.mu.Unlock()
		g.notifySessionClose(ctx, req.SessionID)
		return ErrSessionNotOpen
	}
	s.state = sessionOpen
	g.mu.Unlock()

	g.stats.sessionOpened()
	g.metrics.RecordSession(ctx, 1)
	g.logger.Debug("session opened",
		slog.String("session_id", req.SessionID),
		slog.String("remote_ip", req.Context.RemoteIP))
	return nil
}

// CloseSession closes a session on explicit client request. Closing an
// unknown or already closed session is a no-op.
func (g *Gateway) CloseSession(ctx context.Context, sessionID string) error {
	g.closeSession(ctx, sessionID, nil)
	return nil
}

// InterruptSession closes a session after a transport failure. It may be
// reported together with CloseSession for the same event; the second call
// is a no-op.
func (g *Gateway) InterruptSession(ctx context.Context, sessionID string, cause error) error {
	g.closeSession(ctx, sessionID, cause)
	return nil
}

func (g *Gateway) closeSession(ctx context.Context, sessionID string, cause error) {
	g.mu.Lock()
	s, ok := g.sessions[sessionID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sessions, sessionID)
	wasOpen := s.state == sessionOpen
	s.state = sessionClosed
	var pairs []*Connection
	for c := range s.pairs {
		if c.state == pairConnected {
			pairs = append(pairs, c)
		}
	}
	g.mu.Unlock()

	if cause != nil {
		g.logger.Info("session interrupted",
			slog.String("session_id", sessionID),
			slog.String("cause", cause.Error()))
	}

	for _, c := range pairs {
		c.disconnect(ctx)
	}

	if !wasOpen {
		return
	}
	g.limiter.OnClientDisconnect(sessionID)
	g.stats.sessionClosed()
	g.metrics.RecordSession(ctx, -1)
	g.notifySessionClose(ctx, sessionID)
	g.logger.Debug("session closed", slog.String("session_id", sessionID))
}

func (g *Gateway) notifySessionClose(ctx context.Context, sessionID string) {
	g.notify(ctx, OpSessionClose, func(ctx context.Context) error {
		return g.hook.OnSessionClose(ctx, sessionID)
	}, slog.String("session_id", sessionID))
}

func (g *Gateway) discardSession(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions[s.id] == s {
		delete(g.sessions, s.id)
	}
	s.state = sessionClosed
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
