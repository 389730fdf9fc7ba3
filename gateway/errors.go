// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDenied matches every *DenialError.
	ErrDenied            = errors.New("denied by hook")
	ErrSessionExists     = errors.New("session already exists")
	ErrSessionNotOpen    = errors.New("session not open")
	ErrNotConnected      = errors.New("connection not established")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrClientIDInUse     = errors.New("client id already in use on broker")
	ErrClosed            = errors.New("gateway closed")
	ErrEmptySessionID    = errors.New("empty session id")
	ErrEmptyTopic        = errors.New("empty topic")

	errHookTimeout = errors.New("hook call timed out")
)

const maxMessageLen = 256

// DenialError is returned when the hook refuses an action. Code and Message
// are safe to forward to the client.
type DenialError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *DenialError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s denied (code %d)", e.Op, e.Code)
	}
	return fmt.Sprintf("%s denied (code %d): %s", e.Op, e.Code, e.Message)
}

func (e *DenialError) Is(target error) bool {
	return target == ErrDenied
}

func (e *DenialError) Unwrap() error {
	return e.Err
}

// sanitize keeps the first line of msg, drops non printable ASCII and caps
// the result at maxMessageLen bytes.
func sanitize(msg string) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	var b strings.Builder
	for i := 0; i < len(msg) && b.Len() < maxMessageLen; i++ {
		if c := msg[i]; c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
