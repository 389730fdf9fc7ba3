// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/resolver"
	"github.com/absmach/fluxgate/security"
)

type pairState int

const (
	pairConnecting pairState = iota
	pairConnected
	pairDisconnected
)

// ConnectRequest is a client request to reach a broker through an alias.
type ConnectRequest struct {
	Alias string
	// ClientID is the MQTT client id chosen by the client. Empty selects a
	// shared link.
	ClientID string
	Options  resolver.ClientOptions
}

// Connection is the pairing of a session with a broker connection.
type Connection struct {
	gw        *Gateway
	sessionID string
	alias     string
	clientID  string
	address   string
	shared    bool

	// Guarded by Gateway.mu.
	state pairState
	link  *link
}

// SessionID returns the owning session id.
func (c *Connection) SessionID() string { return c.sessionID }

// ClientID returns the client id reported to the hook; empty for shared links.
func (c *Connection) ClientID() string { return c.clientID }

// Address returns the broker address.
func (c *Connection) Address() string { return c.address }

// Alias returns the connection alias the client asked for.
func (c *Connection) Alias() string { return c.alias }

// Shared reports whether the connection rides a shared link.
func (c *Connection) Shared() bool { return c.shared }

// BrokerClientID returns the client id used on the broker side.
func (c *Connection) BrokerClientID() string {
	c.gw.mu.Lock()
	defer c.gw.mu.Unlock()
	if c.link == nil {
		return ""
	}
	return c.link.clientID
}

// Connected reports whether the connection is usable.
func (c *Connection) Connected() bool {
	_, err := c.active()
	return err == nil
}

// Connect resolves the alias, asks the hook and opens or joins a broker link.
func (g *Gateway) Connect(ctx context.Context, sessionID string, req ConnectRequest) (*Connection, error) {
	c := &Connection{
		gw:        g,
		sessionID: sessionID,
		alias:     req.Alias,
		clientID:  req.ClientID,
		shared:    req.ClientID == "",
	}
	if err := g.addPending(c); err != nil {
		return nil, err
	}
	if err := g.connect(ctx, c, req); err != nil {
		g.dropPending(ctx, c)
		return nil, err
	}

	g.stats.connectionOpened()
	g.metrics.RecordConnection(ctx, 1)
	g.logger.Debug("connection established",
		slog.String("session_id", sessionID),
		slog.String("alias", req.Alias),
		slog.String("address", c.address),
		slog.Bool("shared", c.shared))
	return c, nil
}

func (g *Gateway) connect(ctx context.Context, c *Connection, req ConnectRequest) error {
	cfg, err := g.resolver.Resolve(ctx, req.Alias, req.Options)
	if err != nil {
		return g.resolveError(ctx, req.Alias, err)
	}
	c.address = cfg.Address.String()

	material, err := g.security.Resolve(cfg.Address, cfg.Security)
	if err != nil {
		g.logger.Warn("security material unavailable",
			slog.String("alias", req.Alias),
			slog.String("error", err.Error()))
		return err
	}
	g.logger.Debug("security material resolved",
		slog.String("alias", req.Alias),
		slog.String("address", c.address),
		slog.String("security", security.Status(material)))

	var reserved *link
	if !c.shared {
		if reserved, err = g.reserve(c.address, c.clientID); err != nil {
			return err
		}
	}

	opts := cfg.Options.Clone()
	err = g.authorize(ctx, OpConnect, func(ctx context.Context) (bool, error) {
		return g.hook.CanConnect(ctx, c.sessionID, c.clientID, c.address, opts)
	}, slog.String("session_id", c.sessionID), slog.String("address", c.address))
	if err != nil {
		if reserved != nil {
			g.unreserve(reserved)
		}
		return err
	}

	if c.shared {
		err = g.joinShared(ctx, c, cfg, material)
	} else {
		err = g.dial(ctx, c, reserved, cfg, material)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, c.address, err)
	}

	return g.establish(c)
}

func (g *Gateway) addPending(c *Connection) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	s, ok := g.sessions[c.sessionID]
	if !ok || s.state != sessionOpen {
		return ErrSessionNotOpen
	}
	c.state = pairConnecting
	s.pairs[c] = struct{}{}
	return nil
}

func (g *Gateway) dropPending(ctx context.Context, c *Connection) {
	g.mu.Lock()
	if s, ok := g.sessions[c.sessionID]; ok {
		delete(s.pairs, c)
	}
	c.state = pairDisconnected
	g.mu.Unlock()
	g.release(ctx, c)
}

// establish moves c to Connected. It fails with ErrSessionNotOpen if the
// session went away while connecting and with ErrBrokerUnavailable if the
// link did.
func (g *Gateway) establish(c *Connection) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[c.sessionID]
	if !ok || s.state != sessionOpen {
		return ErrSessionNotOpen
	}
	if _, ok := s.pairs[c]; !ok {
		return ErrSessionNotOpen
	}
	if c.link == nil || c.link.closed {
		return fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, c.address, errLinkChurn)
	}
	c.state = pairConnected
	return nil
}

func (c *Connection) active() (*link, error) {
	c.gw.mu.Lock()
	defer c.gw.mu.Unlock()
	if c.state != pairConnected || c.link == nil || c.link.closed {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

func (c *Connection) attrs() []any {
	return []any{
		slog.String("session_id", c.sessionID),
		slog.String("client_id", c.clientID),
		slog.String("address", c.address),
	}
}

// Publish forwards msg to the broker once the hook permits it.
func (c *Connection) Publish(ctx context.Context, msg hook.Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}
	if !msg.QoS.Valid() {
		return hook.ErrInvalidQoS
	}
	if _, err := c.active(); err != nil {
		return err
	}

	g := c.gw
	if !g.limiter.AllowPublish(c.sessionID) {
		return ErrRateLimited
	}

	msg = hook.NewMessage(msg.Topic, msg.Payload, msg.QoS, msg.Retained, msg.Duplicate)
	snapshot := msg.Clone()
	err := g.authorize(ctx, OpPublish, func(ctx context.Context) (bool, error) {
		return g.hook.CanPublish(ctx, c.sessionID, c.clientID, c.address, snapshot)
	}, append(c.attrs(), slog.String("topic", msg.Topic))...)
	if err != nil {
		return err
	}

	l, err := c.active()
	if err != nil {
		return err
	}
	if err := l.conn.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	return nil
}

// Subscribe forwards sub to the broker once the hook permits it. Messages
// matching the filter are passed to handler.
func (c *Connection) Subscribe(ctx context.Context, sub hook.Subscription, handler MessageHandler) error {
	if sub.TopicFilter == "" {
		return ErrEmptyTopic
	}
	if !sub.QoS.Valid() {
		return hook.ErrInvalidQoS
	}
	if _, err := c.active(); err != nil {
		return err
	}

	g := c.gw
	if !g.limiter.AllowSubscribe(c.sessionID) {
		return ErrRateLimited
	}

	err := g.authorize(ctx, OpSubscribe, func(ctx context.Context) (bool, error) {
		return g.hook.CanSubscribe(ctx, c.sessionID, c.clientID, c.address, sub)
	}, append(c.attrs(), slog.String("filter", sub.TopicFilter))...)
	if err != nil {
		return err
	}

	l, err := c.active()
	if err != nil {
		return err
	}
	if handler == nil {
		handler = func(hook.Message) {}
	}
	l.addHandler(c, sub.TopicFilter, handler)
	if err := l.conn.Subscribe(ctx, sub, l.deliver(sub.TopicFilter)); err != nil {
		l.removeHandler(c, sub.TopicFilter)
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	return nil
}

// Unsubscribe removes the subscription and notifies the hook afterwards.
// On a shared link the broker side subscription is kept while other
// connections hold the same filter.
func (c *Connection) Unsubscribe(ctx context.Context, topicFilter string) error {
	if topicFilter == "" {
		return ErrEmptyTopic
	}
	l, err := c.active()
	if err != nil {
		return err
	}

	if l.removeHandler(c, topicFilter) {
		if err := l.conn.Unsubscribe(ctx, topicFilter); err != nil {
			return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
		}
	}

	g := c.gw
	g.notify(ctx, OpUnsubscribe, func(ctx context.Context) error {
		return g.hook.OnUnsubscribe(ctx, c.sessionID, c.clientID, c.address, topicFilter)
	}, append(c.attrs(), slog.String("filter", topicFilter))...)
	return nil
}

// Close disconnects the connection. Closing twice is a no-op.
func (c *Connection) Close(ctx context.Context) error {
	c.disconnect(ctx)
	return nil
}

func (c *Connection) disconnect(ctx context.Context) {
	g := c.gw
	g.mu.Lock()
	if c.state != pairConnected {
		g.mu.Unlock()
		return
	}
	c.state = pairDisconnected
	if s, ok := g.sessions[c.sessionID]; ok {
		delete(s.pairs, c)
	}
	g.mu.Unlock()

	g.release(ctx, c)
	g.stats.connectionClosed()
	g.metrics.RecordConnection(ctx, -1)
	g.notifyDisconnection(ctx, c)
}

func (g *Gateway) notifyDisconnection(ctx context.Context, c *Connection) {
	g.notify(ctx, OpDisconnection, func(ctx context.Context) error {
		return g.hook.OnDisconnection(ctx, c.sessionID, c.clientID, c.address)
	}, c.attrs()...)
}

// IsDenied reports whether err is a hook denial and returns it.
func IsDenied(err error) (*DenialError, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
