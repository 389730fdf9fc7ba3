// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import "fmt"

// Error is returned by a hook to deny an action with a code and a message that
// are forwarded to the client.
//
// The message should be single-line plain ASCII; the gateway sanitizes it
// before forwarding otherwise.
type Error struct {
	Code    int
	Message string
}

// NewError creates an Error. Negative codes are replaced by 0.
func NewError(code int, message string) *Error {
	if code < 0 {
		code = 0
	}
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("hook error %d: %s", e.Code, e.Message)
}
