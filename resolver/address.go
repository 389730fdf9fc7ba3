// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported broker address schemes.
const (
	SchemeTCP   = "tcp"
	SchemeMQTT  = "mqtt"
	SchemeMQTTS = "mqtts"
	SchemeSSL   = "ssl"
)

// Address is a parsed and validated broker address.
type Address struct {
	Scheme string
	Host   string
	Port   string
	raw    string
}

// ParseAddress validates a broker address in the form scheme://host[:port].
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Address{}, &ConfigError{Kind: ErrInvalidAddress, Detail: raw, Err: err}
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case SchemeTCP, SchemeMQTT, SchemeMQTTS, SchemeSSL:
	default:
		return Address{}, &ConfigError{Kind: ErrInvalidAddress, Detail: fmt.Sprintf("unsupported scheme in %q", raw)}
	}

	if u.Hostname() == "" {
		return Address{}, &ConfigError{Kind: ErrInvalidAddress, Detail: fmt.Sprintf("missing host in %q", raw)}
	}

	return Address{
		Scheme: scheme,
		Host:   u.Hostname(),
		Port:   u.Port(),
		raw:    raw,
	}, nil
}

// Secure reports whether the scheme requires an encrypted channel.
func (a Address) Secure() bool {
	return a.Scheme == SchemeMQTTS || a.Scheme == SchemeSSL
}

func (a Address) String() string {
	return a.raw
}
