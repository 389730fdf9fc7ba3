// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"strings"

	"github.com/absmach/fluxgate/hook"
	"github.com/google/uuid"
)

var _ StaticTable = (*Table)(nil)

// Table is an immutable in-memory alias table.
type Table struct {
	entries map[string]hook.BrokerConfig
}

// NewTable copies entries into a new table.
func NewTable(entries map[string]hook.BrokerConfig) *Table {
	t := &Table{entries: make(map[string]hook.BrokerConfig, len(entries))}
	for alias, cfg := range entries {
		t.entries[alias] = copyBrokerConfig(cfg)
	}
	return t
}

// Lookup returns a copy of the configuration registered for alias.
func (t *Table) Lookup(alias string) (*hook.BrokerConfig, bool) {
	cfg, ok := t.entries[alias]
	if !ok {
		return nil, false
	}
	c := copyBrokerConfig(cfg)
	return &c, true
}

// Len returns the number of aliases in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// GenerateClientID returns prefix + "-" + a random suffix.
// A blank prefix is replaced by DefaultClientIDPrefix.
func GenerateClientID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultClientIDPrefix
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
