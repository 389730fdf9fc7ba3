// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"fmt"
	"time"
)

// QoS is the MQTT delivery guarantee level.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Valid reports whether q is one of the three MQTT levels.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at_most_once"
	case AtLeastOnce:
		return "at_least_once"
	case ExactlyOnce:
		return "exactly_once"
	default:
		return fmt.Sprintf("qos(%d)", byte(q))
	}
}

// Message is a PUBLISH as requested by a client, or a will message.
type Message struct {
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload,omitempty"`
	QoS       QoS    `json:"qos"`
	Retained  bool   `json:"retained"`
	Duplicate bool   `json:"duplicate"`
}

// NewMessage builds a message owning a copy of payload.
// The duplicate flag is dropped for QoS 0.
func NewMessage(topic string, payload []byte, qos QoS, retained, duplicate bool) Message {
	return Message{
		Topic:     topic,
		Payload:   clone(payload),
		QoS:       qos,
		Retained:  retained,
		Duplicate: duplicate && qos != AtMostOnce,
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Payload = clone(m.Payload)
	return m
}

// Subscription is a SUBSCRIBE entry as requested by a client.
type Subscription struct {
	TopicFilter string `json:"topic_filter"`
	QoS         QoS    `json:"qos"`
}

// ConnectOptions are the effective options used to connect to the broker,
// already merged from client input, broker configuration and defaults.
type ConnectOptions struct {
	Username          *string       `json:"username,omitempty"`
	Password          *string       `json:"-"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	KeepAlive         time.Duration `json:"keep_alive"`
	WillMessage       *Message      `json:"will_message,omitempty"`
	CleanSession      bool          `json:"clean_session"`
}

// Clone returns a deep copy of o.
func (o ConnectOptions) Clone() ConnectOptions {
	o.Username = cloneString(o.Username)
	o.Password = cloneString(o.Password)
	if o.WillMessage != nil {
		w := o.WillMessage.Clone()
		o.WillMessage = &w
	}
	return o
}

// Client context keys, as exposed by ClientContext.Map.
const (
	KeyRemoteIP       = "REMOTE_IP"
	KeyRemotePort     = "REMOTE_PORT"
	KeyUserAgent      = "USER_AGENT"
	KeyForwardingInfo = "FORWARDING_INFO"
	KeyLocalServer    = "LOCAL_SERVER"
	KeyHTTPHeaders    = "HTTP_HEADERS"
)

// ClientContext holds the properties of the client request that opened a session.
type ClientContext struct {
	RemoteIP       string            `json:"REMOTE_IP,omitempty"`
	RemotePort     string            `json:"REMOTE_PORT,omitempty"`
	UserAgent      string            `json:"USER_AGENT,omitempty"`
	ForwardingInfo string            `json:"FORWARDING_INFO,omitempty"`
	LocalServer    string            `json:"LOCAL_SERVER,omitempty"`
	HTTPHeaders    map[string]string `json:"HTTP_HEADERS,omitempty"`
}

// Map returns the context keyed by the fixed set of context keys.
// Empty values are omitted.
func (c ClientContext) Map() map[string]any {
	m := make(map[string]any, 6)
	for k, v := range map[string]string{
		KeyRemoteIP:       c.RemoteIP,
		KeyRemotePort:     c.RemotePort,
		KeyUserAgent:      c.UserAgent,
		KeyForwardingInfo: c.ForwardingInfo,
		KeyLocalServer:    c.LocalServer,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if len(c.HTTPHeaders) > 0 {
		headers := make(map[string]string, len(c.HTTPHeaders))
		for k, v := range c.HTTPHeaders {
			headers[k] = v
		}
		m[KeyHTTPHeaders] = headers
	}
	return m
}

// Clone returns a deep copy of c.
func (c ClientContext) Clone() ClientContext {
	if c.HTTPHeaders != nil {
		headers := make(map[string]string, len(c.HTTPHeaders))
		for k, v := range c.HTTPHeaders {
			headers[k] = v
		}
		c.HTTPHeaders = headers
	}
	return c
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
