// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/absmach/fluxgate/hook"
)

// Notifier delivers events. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

var _ hook.Hook = (*Hook)(nil)

// Hook decorates another hook and emits an event for every decision and
// notification it makes. Results of the wrapped hook are returned unchanged.
type Hook struct {
	next           hook.Hook
	notifier       Notifier
	includePayload bool
	logger         *slog.Logger
}

// NewHook wraps next. Message payloads are attached to events only when
// includePayload is set.
func NewHook(next hook.Hook, notifier Notifier, includePayload bool, logger *slog.Logger) *Hook {
	if next == nil {
		next = &hook.NoopHook{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{
		next:           next,
		notifier:       notifier,
		includePayload: includePayload,
		logger:         logger,
	}
}

func (h *Hook) Init(ctx context.Context, configDir string) error {
	return h.next.Init(ctx, configDir)
}

func (h *Hook) ResolveAlias(ctx context.Context, alias string) (*hook.BrokerConfig, error) {
	return h.next.ResolveAlias(ctx, alias)
}

func (h *Hook) CanOpenSession(ctx context.Context, sessionID string, user, password *string, cc hook.ClientContext, principal string) (bool, error) {
	ok, err := h.next.CanOpenSession(ctx, sessionID, user, password, cc, principal)
	h.emit(ctx, SessionAuthorized{
		Decision:  decision(ok, err),
		SessionID: sessionID,
		Username:  deref(user),
		RemoteIP:  cc.RemoteIP,
		Principal: principal,
	})
	return ok, err
}

func (h *Hook) OnSessionClose(ctx context.Context, sessionID string) error {
	err := h.next.OnSessionClose(ctx, sessionID)
	h.emit(ctx, SessionClosed{SessionID: sessionID})
	return err
}

func (h *Hook) CanConnect(ctx context.Context, sessionID, clientID, brokerAddress string, opts hook.ConnectOptions) (bool, error) {
	ok, err := h.next.CanConnect(ctx, sessionID, clientID, brokerAddress, opts)
	h.emit(ctx, ConnectionAuthorized{
		Decision:      decision(ok, err),
		SessionID:     sessionID,
		ClientID:      clientID,
		BrokerAddress: brokerAddress,
		Username:      deref(opts.Username),
		CleanSession:  opts.CleanSession,
		KeepAlive:     opts.KeepAlive.String(),
	})
	return ok, err
}

func (h *Hook) OnDisconnection(ctx context.Context, sessionID, clientID, brokerAddress string) error {
	err := h.next.OnDisconnection(ctx, sessionID, clientID, brokerAddress)
	h.emit(ctx, ConnectionClosed{
		SessionID:     sessionID,
		ClientID:      clientID,
		BrokerAddress: brokerAddress,
	})
	return err
}

func (h *Hook) CanPublish(ctx context.Context, sessionID, clientID, brokerAddress string, msg hook.Message) (bool, error) {
	ok, err := h.next.CanPublish(ctx, sessionID, clientID, brokerAddress, msg)
	ev := MessageAuthorized{
		Decision:      decision(ok, err),
		SessionID:     sessionID,
		ClientID:      clientID,
		BrokerAddress: brokerAddress,
		MessageTopic:  msg.Topic,
		QoS:           byte(msg.QoS),
		Retained:      msg.Retained,
		PayloadSize:   len(msg.Payload),
	}
	if h.includePayload {
		ev.Payload = msg.Clone().Payload
	}
	h.emit(ctx, ev)
	return ok, err
}

func (h *Hook) CanSubscribe(ctx context.Context, sessionID, clientID, brokerAddress string, sub hook.Subscription) (bool, error) {
	ok, err := h.next.CanSubscribe(ctx, sessionID, clientID, brokerAddress, sub)
	h.emit(ctx, SubscriptionAuthorized{
		Decision:      decision(ok, err),
		SessionID:     sessionID,
		ClientID:      clientID,
		BrokerAddress: brokerAddress,
		TopicFilter:   sub.TopicFilter,
		QoS:           byte(sub.QoS),
	})
	return ok, err
}

func (h *Hook) OnUnsubscribe(ctx context.Context, sessionID, clientID, brokerAddress, topicFilter string) error {
	err := h.next.OnUnsubscribe(ctx, sessionID, clientID, brokerAddress, topicFilter)
	h.emit(ctx, SubscriptionRemoved{
		SessionID:     sessionID,
		ClientID:      clientID,
		BrokerAddress: brokerAddress,
		TopicFilter:   topicFilter,
	})
	return err
}

func (h *Hook) emit(ctx context.Context, ev Event) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(ctx, ev); err != nil {
		h.logger.Warn("event notification failed",
			slog.String("event_type", ev.Type()),
			slog.String("error", err.Error()))
	}
}

func decision(ok bool, err error) Decision {
	var he *hook.Error
	switch {
	case errors.As(err, &he):
		return Decision{Code: he.Code, Reason: he.Message}
	case err != nil:
		return Decision{Reason: "hook error"}
	case !ok:
		return Decision{Reason: "denied"}
	default:
		return Decision{Permitted: true}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
