// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fluxgate/gateway"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/absmach/fluxgate"

var _ gateway.Metrics = (*Metrics)(nil)

// Metrics holds OpenTelemetry instruments for the gateway.
type Metrics struct {
	meter metric.Meter

	hookCalls    metric.Int64Counter
	hookDuration metric.Float64Histogram

	sessionsActive    metric.Int64UpDownCounter
	connectionsActive metric.Int64UpDownCounter
	linksActive       metric.Int64UpDownCounter
}

// NewMetrics creates the gateway instruments from mp. A nil provider
// selects the global one.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{meter: mp.Meter(meterName)}

	var err error
	m.hookCalls, err = m.meter.Int64Counter(
		"fluxgate.hook.calls",
		metric.WithDescription("Hook calls by method and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hookCalls counter: %w", err)
	}

	m.hookDuration, err = m.meter.Float64Histogram(
		"fluxgate.hook.duration.ms",
		metric.WithDescription("Hook call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hookDuration histogram: %w", err)
	}

	m.sessionsActive, err = m.meter.Int64UpDownCounter(
		"fluxgate.sessions.active",
		metric.WithDescription("Number of open client sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessionsActive gauge: %w", err)
	}

	m.connectionsActive, err = m.meter.Int64UpDownCounter(
		"fluxgate.connections.active",
		metric.WithDescription("Number of established session to broker connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsActive gauge: %w", err)
	}

	m.linksActive, err = m.meter.Int64UpDownCounter(
		"fluxgate.links.active",
		metric.WithDescription("Number of physical broker links"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create linksActive gauge: %w", err)
	}

	return m, nil
}

// RecordHookCall records a hook call and its latency.
func (m *Metrics) RecordHookCall(ctx context.Context, method, outcome string, d time.Duration) {
	m.hookCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
	m.hookDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordSession tracks open sessions.
func (m *Metrics) RecordSession(ctx context.Context, delta int64) {
	m.sessionsActive.Add(ctx, delta)
}

// RecordConnection tracks established connections.
func (m *Metrics) RecordConnection(ctx context.Context, delta int64) {
	m.connectionsActive.Add(ctx, delta)
}

// RecordLink tracks physical broker links.
func (m *Metrics) RecordLink(ctx context.Context, shared bool, delta int64) {
	m.linksActive.Add(ctx, delta, metric.WithAttributes(attribute.Bool("shared", shared)))
}
