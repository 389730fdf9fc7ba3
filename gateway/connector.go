// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"crypto/tls"

	"github.com/absmach/fluxgate/hook"
)

// MessageHandler receives messages delivered by the broker for a subscription.
type MessageHandler func(msg hook.Message)

// Endpoint describes one physical broker link to open.
type Endpoint struct {
	Address  string
	ClientID string
	Options  hook.ConnectOptions
	TLS      *tls.Config
	// OnLost is called once if the link drops after a successful Connect.
	OnLost func(err error)
}

// Connector opens physical links to brokers.
type Connector interface {
	Connect(ctx context.Context, ep Endpoint) (Link, error)
}

// Link is an established broker connection.
type Link interface {
	Publish(ctx context.Context, msg hook.Message) error
	Subscribe(ctx context.Context, sub hook.Subscription, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topicFilter string) error
	Close() error
}

// Limiter throttles clients before the hook is consulted.
type Limiter interface {
	AllowConnection(ip string) bool
	AllowPublish(key string) bool
	AllowSubscribe(key string) bool
	OnClientDisconnect(key string)
}

type allowAll struct{}

func (allowAll) AllowConnection(string) bool { return true }
func (allowAll) AllowPublish(string) bool    { return true }
func (allowAll) AllowSubscribe(string) bool  { return true }
func (allowAll) OnClientDisconnect(string)   {}
