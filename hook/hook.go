// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import "context"

// Hook is the policy component the gateway consults for every client session
// and every bridged broker connection.
//
// Authorization methods (CanOpenSession, CanConnect, CanPublish, CanSubscribe)
// are called BEFORE the action. They return true to permit, false to deny, or an
// error (preferably *Error) to deny with a code and a message forwarded to the
// client.
//
// Notification methods (OnSessionClose, OnDisconnection, OnUnsubscribe) are
// called AFTER the event happened. Their errors are logged and never affect the
// gateway.
//
// Implementations must be safe for concurrent use: the gateway invokes them from
// many sessions at once without any serialization.
type Hook interface {
	// Init is called once during gateway startup with the directory holding the
	// hook's configuration files. A returned error aborts the startup.
	Init(ctx context.Context, configDir string) error

	// ResolveAlias returns the broker configuration for a connection alias that
	// has no static entry, or nil if this hook cannot supply one.
	ResolveAlias(ctx context.Context, alias string) (*BrokerConfig, error)

	// CanOpenSession authorizes a new client session. The user and password are
	// nil when the client did not provide them; principal is the identification
	// name of the client TLS certificate, empty when there is none.
	CanOpenSession(ctx context.Context, sessionID string, user, password *string, cc ClientContext, principal string) (bool, error)

	// OnSessionClose is called after a permitted session has been closed.
	OnSessionClose(ctx context.Context, sessionID string) error

	// CanConnect authorizes a client to connect to the broker at brokerAddress.
	// For a shared connection it is called for every joining client, clientID is
	// empty and the actual client identifier is generated by the gateway.
	CanConnect(ctx context.Context, sessionID, clientID, brokerAddress string, opts ConnectOptions) (bool, error)

	// OnDisconnection is called after a client has been disconnected from the
	// broker, including disconnections caused by a session interruption.
	OnDisconnection(ctx context.Context, sessionID, clientID, brokerAddress string) error

	// CanPublish authorizes a message before it is forwarded to the broker.
	CanPublish(ctx context.Context, sessionID, clientID, brokerAddress string, msg Message) (bool, error)

	// CanSubscribe authorizes a subscription before it is forwarded to the broker.
	CanSubscribe(ctx context.Context, sessionID, clientID, brokerAddress string, sub Subscription) (bool, error)

	// OnUnsubscribe is called after the client has been unsubscribed from topicFilter.
	OnUnsubscribe(ctx context.Context, sessionID, clientID, brokerAddress, topicFilter string) error
}
