// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"errors"
	"fmt"
)

// Configuration errors. They are fatal to a single connection attempt.
var (
	ErrUnknownAlias         = errors.New("unknown connection alias")
	ErrInvalidAddress       = errors.New("invalid broker address")
	ErrSecureSchemeMismatch = errors.New("secure channel cannot be set up")
)

// ConfigError describes why a connection configuration could not be resolved.
// Kind is one of the sentinel errors of this package.
type ConfigError struct {
	Kind   error
	Alias  string
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Kind.Error()
	if e.Alias != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Alias)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
