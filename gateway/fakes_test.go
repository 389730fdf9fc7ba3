// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxgate/hook"
)

type hookCall struct {
	method    string
	sessionID string
	clientID  string
	address   string
	options   hook.ConnectOptions
	message   hook.Message
	sub       hook.Subscription
	filter    string
}

// fakeHook records every call. Authorization methods permit unless the
// matching func is set.
type fakeHook struct {
	hook.NoopHook

	mu      sync.Mutex
	calls   []hookCall
	aliases map[string]*hook.BrokerConfig

	initErr     error
	resolveErr  error
	openSession func(sessionID string) (bool, error)
	connect     func(sessionID string) (bool, error)
	publish     func(msg hook.Message) (bool, error)
	subscribe   func(sub hook.Subscription) (bool, error)
	unsubscribe func(filter string)
}

func newFakeHook() *fakeHook {
	return &fakeHook{aliases: make(map[string]*hook.BrokerConfig)}
}

func (h *fakeHook) record(c hookCall) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
}

func (h *fakeHook) count(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (h *fakeHook) callsOf(method string) []hookCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hookCall
	for _, c := range h.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHook) Init(ctx context.Context, configDir string) error {
	h.record(hookCall{method: "Init"})
	return h.initErr
}

func (h *fakeHook) ResolveAlias(ctx context.Context, alias string) (*hook.BrokerConfig, error) {
	h.record(hookCall{method: "ResolveAlias"})
	if h.resolveErr != nil {
		return nil, h.resolveErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aliases[alias], nil
}

func (h *fakeHook) CanOpenSession(ctx context.Context, sessionID string, user, password *string, cc hook.ClientContext, principal string) (bool, error) {
	h.record(hookCall{method: "CanOpenSession", sessionID: sessionID})
	if h.openSession != nil {
		return h.openSession(sessionID)
	}
	return true, nil
}

func (h *fakeHook) OnSessionClose(ctx context.Context, sessionID string) error {
	h.record(hookCall{method: "OnSessionClose", sessionID: sessionID})
	return nil
}

func (h *fakeHook) CanConnect(ctx context.Context, sessionID, clientID, brokerAddress string, opts hook.ConnectOptions) (bool, error) {
	h.record(hookCall{method: "CanConnect", sessionID: sessionID, clientID: clientID, address: brokerAddress, options: opts})
	if h.connect != nil {
		return h.connect(sessionID)
	}
	return true, nil
}

func (h *fakeHook) OnDisconnection(ctx context.Context, sessionID, clientID, brokerAddress string) error {
	h.record(hookCall{method: "OnDisconnection", sessionID: sessionID, clientID: clientID, address: brokerAddress})
	return errors.New("notification failures are swallowed")
}

func (h *fakeHook) CanPublish(ctx context.Context, sessionID, clientID, brokerAddress string, msg hook.Message) (bool, error) {
	h.record(hookCall{method: "CanPublish", sessionID: sessionID, clientID: clientID, address: brokerAddress, message: msg})
	if h.publish != nil {
		return h.publish(msg)
	}
	return true, nil
}

func (h *fakeHook) CanSubscribe(ctx context.Context, sessionID, clientID, brokerAddress string, sub hook.Subscription) (bool, error) {
	h.record(hookCall{method: "CanSubscribe", sessionID: sessionID, clientID: clientID, address: brokerAddress, sub: sub})
	if h.subscribe != nil {
		return h.subscribe(sub)
	}
	return true, nil
}

func (h *fakeHook) OnUnsubscribe(ctx context.Context, sessionID, clientID, brokerAddress, topicFilter string) error {
	if h.unsubscribe != nil {
		h.unsubscribe(topicFilter)
	}
	h.record(hookCall{method: "OnUnsubscribe", sessionID: sessionID, clientID: clientID, address: brokerAddress, filter: topicFilter})
	return nil
}

type fakeConnector struct {
	mu       sync.Mutex
	connects atomic.Int32
	delay    time.Duration
	err      error
	lost     error
	links    []*fakeLink
}

func (f *fakeConnector) Connect(ctx context.Context, ep Endpoint) (Link, error) {
	f.connects.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	l := &fakeLink{ep: ep, subs: make(map[string]MessageHandler)}
	f.links = append(f.links, l)
	if f.lost != nil {
		ep.OnLost(f.lost)
	}
	return l, nil
}

func (f *fakeConnector) all() []*fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeLink(nil), f.links...)
}

type fakeLink struct {
	ep Endpoint

	mu         sync.Mutex
	published  []hook.Message
	subs       map[string]MessageHandler
	unsubs     []string
	closed     bool
	publishErr error
}

func (l *fakeLink) Publish(ctx context.Context, msg hook.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.publishErr != nil {
		return l.publishErr
	}
	l.published = append(l.published, msg)
	return nil
}

func (l *fakeLink) Subscribe(ctx context.Context, sub hook.Subscription, handler MessageHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[sub.TopicFilter] = handler
	return nil
}

func (l *fakeLink) Unsubscribe(ctx context.Context, topicFilter string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, topicFilter)
	l.unsubs = append(l.unsubs, topicFilter)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) publishedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.published)
}

func (l *fakeLink) unsubscribed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unsubs...)
}

func (l *fakeLink) deliver(filter string, msg hook.Message) {
	l.mu.Lock()
	h := l.subs[filter]
	l.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (l *fakeLink) lose(err error) {
	l.ep.OnLost(err)
}

type denyAllLimiter struct{}

func (denyAllLimiter) AllowConnection(string) bool { return false }
func (denyAllLimiter) AllowPublish(string) bool    { return false }
func (denyAllLimiter) AllowSubscribe(string) bool  { return false }
func (denyAllLimiter) OnClientDisconnect(string)   {}
