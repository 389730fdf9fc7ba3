// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the notifications emitted for hook decisions and
// lifecycle callbacks.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeSessionAuthorized      = "session.authorized"
	TypeSessionClosed          = "session.closed"
	TypeConnectionAuthorized   = "connection.authorized"
	TypeConnectionClosed       = "connection.closed"
	TypeMessageAuthorized      = "message.authorized"
	TypeSubscriptionAuthorized = "subscription.authorized"
	TypeSubscriptionRemoved    = "subscription.removed"
)

// Event is the common interface for all events.
type Event interface {
	// Type returns the event type identifier (e.g., "session.authorized").
	Type() string

	// Topic returns the MQTT topic or filter for message and subscription
	// events, empty for others.
	Topic() string

	// Wrap wraps the event in a common envelope with metadata.
	Wrap(gatewayID string) *Envelope
}

// Envelope is the common wrapper for all events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	GatewayID string `json:"gateway_id"`
	Data      any    `json:"data"`
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	return json.Marshal((*plain)(e))
}

func wrap(e Event, gatewayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		GatewayID: gatewayID,
		Data:      e,
	}
}

// Decision is the outcome of an authorization.
type Decision struct {
	Permitted bool   `json:"permitted"`
	Code      int    `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SessionAuthorized is emitted after CanOpenSession decided.
type SessionAuthorized struct {
	Decision
	SessionID string `json:"session_id"`
	Username  string `json:"username,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
	Principal string `json:"principal,omitempty"`
}

func (e SessionAuthorized) Type() string                    { return TypeSessionAuthorized }
func (e SessionAuthorized) Topic() string                   { return "" }
func (e SessionAuthorized) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }

// SessionClosed is emitted when a permitted session has been closed.
type SessionClosed struct {
	SessionID string `json:"session_id"`
}

func (e SessionClosed) Type() string                    { return TypeSessionClosed }
func (e SessionClosed) Topic() string                   { return "" }
func (e SessionClosed) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }

// ConnectionAuthorized is emitted after CanConnect decided.
type ConnectionAuthorized struct {
	Decision
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	BrokerAddress string `json:"broker_address"`
	Username      string `json:"username,omitempty"`
	CleanSession  bool   `json:"clean_session"`
	KeepAlive     string `json:"keep_alive"`
}

func (e ConnectionAuthorized) Type() string                    { return TypeConnectionAuthorized }
func (e ConnectionAuthorized) Topic() string                   { return "" }
func (e ConnectionAuthorized) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }

// ConnectionClosed is emitted when a client was disconnected from its broker.
type ConnectionClosed struct {
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	BrokerAddress string `json:"broker_address"`
}

func (e ConnectionClosed) Type() string                    { return TypeConnectionClosed }
func (e ConnectionClosed) Topic() string                   { return "" }
func (e ConnectionClosed) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }

// MessageAuthorized is emitted after CanPublish decided.
type MessageAuthorized struct {
	Decision
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	BrokerAddress string `json:"broker_address"`
	MessageTopic  string `json:"topic"`
	QoS           byte   `json:"qos"`
	Retained      bool   `json:"retained"`
	PayloadSize   int    `json:"payload_size"`
	Payload       []byte `json:"payload,omitempty"`
}

func (e MessageAuthorized) Type() string                    { return TypeMessageAuthorized }
func (e MessageAuthorized) Topic() string                   { return e.MessageTopic }
func (e MessageAuthorized) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }

// SubscriptionAuthorized is emitted after CanSubscribe decided.
type SubscriptionAuthorized struct {
	Decision
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	BrokerAddress string `json:"broker_address"`
	TopicFilter   string `json:"topic_filter"`
	QoS           byte   `json:"qos"`
}

func (e SubscriptionAuthorized) Type() string                    { return TypeSubscriptionAuthorized }
func (e SubscriptionAuthorized) Topic() string                   { return e.TopicFilter }
func (e SubscriptionAuthorized) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }

// SubscriptionRemoved is emitted after a client unsubscribed.
type SubscriptionRemoved struct {
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	BrokerAddress string `json:"broker_address"`
	TopicFilter   string `json:"topic_filter"`
}

func (e SubscriptionRemoved) Type() string                    { return TypeSubscriptionRemoved }
func (e SubscriptionRemoved) Topic() string                   { return e.TopicFilter }
func (e SubscriptionRemoved) Wrap(gatewayID string) *Envelope { return wrap(e, gatewayID) }
