// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fluxgate/hook"
	"gopkg.in/yaml.v3"
)

// AliasConfig describes the broker a connection alias points to.
type AliasConfig struct {
	Address           string          `yaml:"address"`
	ClientIDPrefix    string          `yaml:"client_id_prefix,omitempty"`
	Username          *string         `yaml:"username,omitempty"`
	Password          *string         `yaml:"password,omitempty"`
	ConnectionTimeout time.Duration   `yaml:"connection_timeout,omitempty"`
	KeepAlive         time.Duration   `yaml:"keep_alive,omitempty"`
	Will              *WillConfig     `yaml:"will,omitempty"`
	Security          *SecurityConfig `yaml:"security,omitempty"`
}

// WillConfig is the will message registered on the broker connection.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// SecurityConfig holds the TLS material of a secure broker address.
type SecurityConfig struct {
	Protocol           string `yaml:"protocol,omitempty"`
	TruststorePath     string `yaml:"truststore_path,omitempty"`
	TruststorePassword string `yaml:"truststore_password,omitempty"`
	KeystorePath       string `yaml:"keystore_path,omitempty"`
	KeystorePassword   string `yaml:"keystore_password,omitempty"`
	PrivateKeyPassword string `yaml:"private_key_password,omitempty"`
}

// Build converts the alias into a broker configuration.
func (a AliasConfig) Build() (*hook.BrokerConfig, error) {
	b := hook.NewBrokerConfigBuilder(a.Address).ClientIDPrefix(a.ClientIDPrefix)
	if a.Username != nil {
		b.Username(*a.Username)
	}
	if a.Password != nil {
		b.Password(*a.Password)
	}
	if a.ConnectionTimeout > 0 {
		b.ConnectionTimeout(a.ConnectionTimeout)
	}
	if a.KeepAlive > 0 {
		b.KeepAlive(a.KeepAlive)
	}
	if a.Will != nil {
		b.WillMessage(a.Will.Topic, []byte(a.Will.Payload), hook.QoS(a.Will.QoS), a.Will.Retain)
	}
	if s := a.Security; s != nil {
		b.SecurityProtocol(s.Protocol).
			Truststore(s.TruststorePath, s.TruststorePassword).
			Keystore(s.KeystorePath, s.KeystorePassword, s.PrivateKeyPassword)
	}
	return b.Build()
}

// BuildAliases converts all configured aliases.
func (c *Config) BuildAliases() (map[string]hook.BrokerConfig, error) {
	return buildAliases(c.Aliases)
}

// LoadAliases reads a YAML file holding a map of alias name to AliasConfig.
func LoadAliases(filename string) (map[string]hook.BrokerConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var aliases map[string]AliasConfig
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("failed to parse aliases file: %w", err)
	}
	return buildAliases(aliases)
}

func buildAliases(aliases map[string]AliasConfig) (map[string]hook.BrokerConfig, error) {
	out := make(map[string]hook.BrokerConfig, len(aliases))
	for name, alias := range aliases {
		cfg, err := alias.Build()
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", name, err)
		}
		out[name] = *cfg
	}
	return out, nil
}
