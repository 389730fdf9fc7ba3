// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"errors"
	"time"
)

// Builder validation errors.
var (
	ErrInvalidTopic = errors.New("invalid topic")
	ErrInvalidQoS   = errors.New("invalid QoS")
)

// BrokerConfig is the configuration of the broker a connection alias refers to.
// Nil fields mean "use the gateway default". A BrokerConfig is never modified
// once built.
type BrokerConfig struct {
	// Address is one of tcp://host:port, mqtt://host:port, mqtts://host:port
	// or ssl://host:port.
	Address string `json:"address"`

	// ClientIDPrefix is used to generate client ids of shared connections.
	// A blank prefix selects the default one.
	ClientIDPrefix string `json:"client_id_prefix,omitempty"`

	ConnectionTimeout *time.Duration `json:"connection_timeout,omitempty"`
	KeepAlive         *time.Duration `json:"keep_alive,omitempty"`

	// Username and Password are sent as is, including empty values.
	// Client supplied credentials take precedence.
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`

	WillMessage *Message `json:"will_message,omitempty"`

	// Security is set only if at least one security parameter was provided.
	Security *SecurityParams `json:"security,omitempty"`
}

// SecurityParams holds the material used to encrypt the link to the broker.
// Empty fields fall back to defaults.
type SecurityParams struct {
	// Protocol is the security protocol name, TLSv1.2 when empty.
	Protocol string `json:"protocol,omitempty"`

	// TruststorePath points to a PEM bundle or a PKCS#12 file with the
	// certificates to trust. Platform roots are used when empty.
	TruststorePath     string `json:"truststore_path,omitempty"`
	TruststorePassword string `json:"truststore_password,omitempty"`

	// KeystorePath points to a PEM or PKCS#12 file with the client certificate
	// and its private key, used when the broker requires client authentication.
	KeystorePath       string `json:"keystore_path,omitempty"`
	KeystorePassword   string `json:"keystore_password,omitempty"`
	PrivateKeyPassword string `json:"private_key_password,omitempty"`
}

// IsZero reports whether no parameter is set.
func (p SecurityParams) IsZero() bool {
	return p == SecurityParams{}
}

// BrokerConfigBuilder assembles a BrokerConfig from independently set fields.
type BrokerConfigBuilder struct {
	cfg      BrokerConfig
	security SecurityParams
	err      error
}

// NewBrokerConfigBuilder starts a builder for the broker at address.
func NewBrokerConfigBuilder(address string) *BrokerConfigBuilder {
	return &BrokerConfigBuilder{cfg: BrokerConfig{Address: address}}
}

func (b *BrokerConfigBuilder) Username(username string) *BrokerConfigBuilder {
	b.cfg.Username = &username
	return b
}

func (b *BrokerConfigBuilder) Password(password string) *BrokerConfigBuilder {
	b.cfg.Password = &password
	return b
}

func (b *BrokerConfigBuilder) ClientIDPrefix(prefix string) *BrokerConfigBuilder {
	b.cfg.ClientIDPrefix = prefix
	return b
}

func (b *BrokerConfigBuilder) ConnectionTimeout(d time.Duration) *BrokerConfigBuilder {
	b.cfg.ConnectionTimeout = &d
	return b
}

func (b *BrokerConfigBuilder) KeepAlive(d time.Duration) *BrokerConfigBuilder {
	b.cfg.KeepAlive = &d
	return b
}

// WillMessage sets the will message. An empty topic or an out of range QoS is
// reported by Build.
func (b *BrokerConfigBuilder) WillMessage(topic string, payload []byte, qos QoS, retain bool) *BrokerConfigBuilder {
	switch {
	case topic == "":
		b.fail(ErrInvalidTopic)
		return b
	case !qos.Valid():
		b.fail(ErrInvalidQoS)
		return b
	}
	will := NewMessage(topic, payload, qos, retain, false)
	b.cfg.WillMessage = &will
	return b
}

func (b *BrokerConfigBuilder) SecurityProtocol(protocol string) *BrokerConfigBuilder {
	b.security.Protocol = protocol
	return b
}

func (b *BrokerConfigBuilder) Truststore(path, password string) *BrokerConfigBuilder {
	b.security.TruststorePath = path
	b.security.TruststorePassword = password
	return b
}

func (b *BrokerConfigBuilder) Keystore(path, password, privateKeyPassword string) *BrokerConfigBuilder {
	b.security.KeystorePath = path
	b.security.KeystorePassword = password
	b.security.PrivateKeyPassword = privateKeyPassword
	return b
}

// Build returns the configuration, or the first error recorded by a setter.
func (b *BrokerConfigBuilder) Build() (*BrokerConfig, error) {
	if b.err != nil {
		return nil, b.err
	}
	cfg := b.cfg
	cfg.Username = cloneString(cfg.Username)
	cfg.Password = cloneString(cfg.Password)
	if cfg.WillMessage != nil {
		w := cfg.WillMessage.Clone()
		cfg.WillMessage = &w
	}
	if !b.security.IsZero() {
		sp := b.security
		cfg.Security = &sp
	}
	return &cfg, nil
}

func (b *BrokerConfigBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
