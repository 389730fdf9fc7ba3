// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connector opens broker links with the Eclipse Paho MQTT client.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fluxgate/gateway"
	"github.com/absmach/fluxgate/hook"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	// disconnectQuiesce is the time in milliseconds granted to in-flight work on Close.
	disconnectQuiesce = 250

	writeTimeout = 10 * time.Second

	// subackFailure is the SUBACK return code of a refused subscription.
	subackFailure = 0x80
)

var (
	// ErrNotConnected is returned when paho reports the link is down.
	ErrNotConnected        = errors.New("broker link not connected")
	// ErrSubscriptionRefused is returned when the broker answers SUBACK with a failure code.
	ErrSubscriptionRefused = errors.New("subscription refused by broker")
)

// subscribeResult is implemented by paho subscribe tokens.
type subscribeResult interface {
	Result() map[string]byte
}

var (
	_ gateway.Connector = (*Connector)(nil)
	_ gateway.Link      = (*link)(nil)
	_ subscribeResult   = (*paho.SubscribeToken)(nil)
)

// Connector implements gateway.Connector.
type Connector struct {
	logger    *slog.Logger
	newClient func(opts *paho.ClientOptions) paho.Client
}

// New creates a paho connector.
func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		logger:    logger,
		newClient: paho.NewClient,
	}
}

// Connect dials the broker and waits for CONNACK or ctx.
func (c *Connector) Connect(ctx context.Context, ep gateway.Endpoint) (gateway.Link, error) {
	opts := clientOptions(ep)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("broker link lost",
			slog.String("address", ep.Address),
			slog.String("client_id", ep.ClientID),
			slog.String("error", err.Error()))
		if ep.OnLost != nil {
			ep.OnLost(err)
		}
	})

	client := c.newClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, err
	}

	c.logger.Debug("broker link established",
		slog.String("address", ep.Address),
		slog.String("client_id", ep.ClientID))

	return &link{client: client}, nil
}

// clientOptions maps an endpoint to paho options. Reconnection is left to the
// gateway, which reports a lost link to the hook.
func clientOptions(ep gateway.Endpoint) *paho.ClientOptions {
	o := ep.Options

	opts := paho.NewClientOptions().
		AddBroker(ep.Address).
		SetClientID(ep.ClientID).
		SetCleanSession(o.CleanSession).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(o.ConnectionTimeout).
		SetKeepAlive(o.KeepAlive).
		SetWriteTimeout(writeTimeout).
		SetOrderMatters(false)

	if o.Username != nil {
		opts.SetUsername(*o.Username)
	}
	if o.Password != nil {
		opts.SetPassword(*o.Password)
	}
	if w := o.WillMessage; w != nil {
		opts.SetBinaryWill(w.Topic, w.Payload, byte(w.QoS), w.Retained)
	}
	if ep.TLS != nil {
		opts.SetTLSConfig(ep.TLS)
	}

	return opts
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type link struct {
	client paho.Client
}

func (l *link) Publish(ctx context.Context, msg hook.Message) error {
	if !l.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return wait(ctx, l.client.Publish(msg.Topic, byte(msg.QoS), msg.Retained, msg.Payload))
}

func (l *link) Subscribe(ctx context.Context, sub hook.Subscription, handler gateway.MessageHandler) error {
	if !l.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	cb := func(_ paho.Client, m paho.Message) {
		handler(hook.NewMessage(m.Topic(), m.Payload(), hook.QoS(m.Qos()), m.Retained(), m.Duplicate()))
	}
	token := l.client.Subscribe(sub.TopicFilter, byte(sub.QoS), cb)
	if err := wait(ctx, token); err != nil {
		return err
	}
	if st, ok := token.(subscribeResult); ok {
		if code, found := st.Result()[sub.TopicFilter]; found && code == subackFailure {
			return fmt.Errorf("%w: %s", ErrSubscriptionRefused, sub.TopicFilter)
		}
	}
	return nil
}

func (l *link) Unsubscribe(ctx context.Context, topicFilter string) error {
	if !l.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return wait(ctx, l.client.Unsubscribe(topicFilter))
}

func (l *link) Close() error {
	l.client.Disconnect(disconnectQuiesce)
	return nil
}
