// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook delivers hook events to HTTP endpoints.
package webhook

import (
	"context"
	"time"

	"github.com/absmach/fluxgate/hook/events"
)

// Notifier sends events asynchronously.
type Notifier interface {
	events.Notifier

	// Close gracefully shuts down, flushing pending events.
	Close() error
}

// Sender is the protocol-specific sender interface.
type Sender interface {
	// Send delivers payload to url. Returns error if the send fails.
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}
