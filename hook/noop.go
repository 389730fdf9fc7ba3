// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import "context"

// NoopHook permits everything, resolves nothing and observes nothing.
// It is the hook a gateway runs with when no policy is configured. Custom hooks
// can embed it and override only the methods they care about.
type NoopHook struct{}

var _ Hook = (*NoopHook)(nil)

func (h *NoopHook) Init(ctx context.Context, configDir string) error {
	return nil
}

func (h *NoopHook) ResolveAlias(ctx context.Context, alias string) (*BrokerConfig, error) {
	return nil, nil
}

func (h *NoopHook) CanOpenSession(ctx context.Context, sessionID string, user, password *string, cc ClientContext, principal string) (bool, error) {
	return true, nil
}

func (h *NoopHook) OnSessionClose(ctx context.Context, sessionID string) error {
	return nil
}

func (h *NoopHook) CanConnect(ctx context.Context, sessionID, clientID, brokerAddress string, opts ConnectOptions) (bool, error) {
	return true, nil
}

func (h *NoopHook) OnDisconnection(ctx context.Context, sessionID, clientID, brokerAddress string) error {
	return nil
}

func (h *NoopHook) CanPublish(ctx context.Context, sessionID, clientID, brokerAddress string, msg Message) (bool, error) {
	return true, nil
}

func (h *NoopHook) CanSubscribe(ctx context.Context, sessionID, clientID, brokerAddress string, sub Subscription) (bool, error) {
	return true, nil
}

func (h *NoopHook) OnUnsubscribe(ctx context.Context, sessionID, clientID, brokerAddress, topicFilter string) error {
	return nil
}
