// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/resolver"
	"github.com/absmach/fluxgate/security"
)

const maxJoinAttempts = 3

var errLinkChurn = errors.New("shared link closed while joining")

// link is one physical broker connection. A dedicated link serves a single
// connection; a shared link serves every connection with the same address
// and credentials.
type link struct {
	key      string
	address  string
	clientID string
	shared   bool

	// Guarded by Gateway.mu.
	conn   Link
	closed bool
	pairs  map[*Connection]struct{}

	mu   sync.Mutex
	subs map[string]map[*Connection]MessageHandler
}

func newLink(key, address, clientID string, shared bool) *link {
	return &link{
		key:      key,
		address:  address,
		clientID: clientID,
		shared:   shared,
		pairs:    make(map[*Connection]struct{}),
		subs:     make(map[string]map[*Connection]MessageHandler),
	}
}

func dedicatedKey(address, clientID string) string {
	return "dedicated|" + address + "|" + clientID
}

// sharedKey identifies a shared link by address and every connect option,
// so joiners only share a link whose session settings match their own.
func sharedKey(address string, opts hook.ConnectOptions) string {
	h := sha256.New()
	for _, v := range []*string{opts.Username, opts.Password} {
		writeOptional(h, v)
	}
	fmt.Fprintf(h, "%d|%d|%t|", opts.ConnectionTimeout, opts.KeepAlive, opts.CleanSession)
	if w := opts.WillMessage; w != nil {
		fmt.Fprintf(h, "\x01%d:%s|%d|%t|%d:", len(w.Topic), w.Topic, w.QoS, w.Retained, len(w.Payload))
		h.Write(w.Payload)
	} else {
		h.Write([]byte{0})
	}
	return "shared|" + address + "|" + hex.EncodeToString(h.Sum(nil))
}

func writeOptional(w io.Writer, v *string) {
	if v == nil {
		w.Write([]byte{0})
		return
	}
	fmt.Fprintf(w, "\x01%d:%s", len(*v), *v)
}

// deliver fans a broker message out to every connection subscribed with filter.
func (l *link) deliver(filter string) MessageHandler {
	return func(msg hook.Message) {
		l.mu.Lock()
		handlers := make([]MessageHandler, 0, len(l.subs[filter]))
		for _, h := range l.subs[filter] {
			handlers = append(handlers, h)
		}
		l.mu.Unlock()

		for _, h := range handlers {
			h(msg.Clone())
		}
	}
}

func (l *link) addHandler(c *Connection, filter string, h MessageHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs, ok := l.subs[filter]
	if !ok {
		hs = make(map[*Connection]MessageHandler)
		l.subs[filter] = hs
	}
	hs[c] = h
}

// removeHandler reports whether no connection holds filter anymore.
func (l *link) removeHandler(c *Connection, filter string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs := l.subs[filter]
	delete(hs, c)
	if len(hs) == 0 {
		delete(l.subs, filter)
		return true
	}
	return false
}

// dropHandlers removes every handler of c and returns the filters no
// connection holds anymore.
func (l *link) dropHandlers(c *Connection) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var orphans []string
	for filter, hs := range l.subs {
		if _, ok := hs[c]; !ok {
			continue
		}
		delete(hs, c)
		if len(hs) == 0 {
			delete(l.subs, filter)
			orphans = append(orphans, filter)
		}
	}
	return orphans
}

func (g *Gateway) endpoint(l *link, cfg *resolver.Config, material *security.Material) Endpoint {
	ep := Endpoint{
		Address:  l.address,
		ClientID: l.clientID,
		Options:  cfg.Options.Clone(),
		OnLost: func(err error) {
			g.linkLost(l, err)
		},
	}
	if material != nil {
		ep.TLS = material.TLS
	}
	return ep
}

// reserve claims the dedicated link key for (address, clientID).
func (g *Gateway) reserve(address, clientID string) (*link, error) {
	key := dedicatedKey(address, clientID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.links[key]; ok {
		return nil, ErrClientIDInUse
	}
	l := newLink(key, address, clientID, false)
	g.links[key] = l
	return l, nil
}

func (g *Gateway) unreserve(l *link) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.closed = true
	if g.links[l.key] == l {
		delete(g.links, l.key)
	}
}

func (g *Gateway) dial(ctx context.Context, c *Connection, l *link, cfg *resolver.Config, material *security.Material) error {
	conn, err := g.connector.Connect(ctx, g.endpoint(l, cfg, material))
	if err != nil {
		g.unreserve(l)
		return err
	}
	if err := g.activate(ctx, l, conn); err != nil {
		return err
	}
	if !g.join(c, l) {
		return errLinkChurn
	}
	return nil
}

func (g *Gateway) joinShared(ctx context.Context, c *Connection, cfg *resolver.Config, material *security.Material) error {
	key := sharedKey(c.address, cfg.Options)
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		v, err, _ := g.group.Do(key, func() (any, error) {
			g.mu.Lock()
			if l, ok := g.links[key]; ok && l.conn != nil && !l.closed {
				g.mu.Unlock()
				return l, nil
			}
			l := newLink(key, c.address, resolver.GenerateClientID(cfg.ClientIDPrefix), true)
			g.links[key] = l
			g.mu.Unlock()

			// Joined callers must not fail because the first one gave up.
			lctx := context.WithoutCancel(ctx)
			conn, err := g.connector.Connect(lctx, g.endpoint(l, cfg, material))
			if err != nil {
				g.unreserve(l)
				return nil, err
			}
			if err := g.activate(lctx, l, conn); err != nil {
				return nil, err
			}
			return l, nil
		})
		if err != nil {
			return err
		}
		if g.join(c, v.(*link)) {
			return nil
		}
	}
	return errLinkChurn
}

func (g *Gateway) activate(ctx context.Context, l *link, conn Link) error {
	g.mu.Lock()
	if l.closed || g.links[l.key] != l {
		g.mu.Unlock()
		_ = conn.Close()
		return errLinkChurn
	}
	l.conn = conn
	g.mu.Unlock()

	g.stats.link(l.shared, 1)
	g.metrics.RecordLink(ctx, l.shared, 1)
	g.logger.Debug("broker link opened",
		slog.String("address", l.address),
		slog.String("client_id", l.clientID),
		slog.Bool("shared", l.shared))
	return nil
}

func (g *Gateway) join(c *Connection, l *link) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l.closed || l.conn == nil {
		return false
	}
	l.pairs[c] = struct{}{}
	c.link = l
	return true
}

// release detaches c from its link, closing the link once unused.
func (g *Gateway) release(ctx context.Context, c *Connection) {
	g.mu.Lock()
	l := c.link
	if l == nil {
		g.mu.Unlock()
		return
	}
	c.link = nil
	delete(l.pairs, c)
	alive := !l.closed
	closeLink := alive && len(l.pairs) == 0
	if closeLink {
		l.closed = true
		if g.links[l.key] == l {
			delete(g.links, l.key)
		}
	}
	conn := l.conn
	g.mu.Unlock()

	orphans := l.dropHandlers(c)
	if !alive || conn == nil {
		return
	}
	if closeLink {
		g.closeLink(ctx, l, conn)
		return
	}
	for _, filter := range orphans {
		if err := conn.Unsubscribe(ctx, filter); err != nil {
			g.logger.Warn("failed to drop orphan subscription",
				slog.String("address", l.address),
				slog.String("filter", filter),
				slog.String("error", err.Error()))
		}
	}
}

func (g *Gateway) closeLink(ctx context.Context, l *link, conn Link) {
	if err := conn.Close(); err != nil {
		g.logger.Warn("failed to close broker link",
			slog.String("address", l.address),
			slog.String("error", err.Error()))
	}
	g.stats.link(l.shared, -1)
	g.metrics.RecordLink(ctx, l.shared, -1)
	g.logger.Debug("broker link closed",
		slog.String("address", l.address),
		slog.String("client_id", l.clientID))
}

// linkLost disconnects every connection of a dropped link.
func (g *Gateway) linkLost(l *link, cause error) {
	g.mu.Lock()
	if l.closed {
		g.mu.Unlock()
		return
	}
	l.closed = true
	if g.links[l.key] == l {
		delete(g.links, l.key)
	}
	var lost []*Connection
	for c := range l.pairs {
		if c.state != pairConnected {
			continue
		}
		c.state = pairDisconnected
		if s, ok := g.sessions[c.sessionID]; ok {
			delete(s.pairs, c)
		}
		lost = append(lost, c)
	}
	conn := l.conn
	g.mu.Unlock()

	attrs := []any{slog.String("address", l.address), slog.String("client_id", l.clientID)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	g.logger.Warn("broker link lost", attrs...)

	ctx := context.Background()
	if conn != nil {
		g.closeLink(ctx, l, conn)
	}
	for _, c := range lost {
		g.stats.connectionClosed()
		g.metrics.RecordConnection(ctx, -1)
		g.notifyDisconnection(ctx, c)
	}
}
