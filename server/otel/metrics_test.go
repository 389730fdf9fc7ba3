// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordHookCall(ctx, gateway.OpConnect, gateway.OutcomePermit, 3*time.Millisecond)
	m.RecordHookCall(ctx, gateway.OpConnect, gateway.OutcomeDeny, time.Millisecond)
	m.RecordHookCall(ctx, gateway.OpPublish, gateway.OutcomePermit, time.Millisecond)
	m.RecordSession(ctx, 1)
	m.RecordSession(ctx, 1)
	m.RecordSession(ctx, -1)
	m.RecordConnection(ctx, 1)
	m.RecordLink(ctx, true, 1)

	data := collect(t, reader)

	calls, ok := data["fluxgate.hook.calls"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, calls.DataPoints, 3)
	var total int64
	for _, dp := range calls.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)

	hist, ok := data["fluxgate.hook.duration.ms"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)

	sessions, ok := data["fluxgate.sessions.active"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sessions.DataPoints, 1)
	assert.Equal(t, int64(1), sessions.DataPoints[0].Value)

	links, ok := data["fluxgate.links.active"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, links.DataPoints, 1)
	shared, _ := links.DataPoints[0].Attributes.Value("shared")
	assert.True(t, shared.AsBool())
}

func TestMetricsWithGateway(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	g := gateway.New(nil, nil, gateway.DefaultConfig(), gateway.WithMetrics(m))
	require.NoError(t, g.OpenSession(context.Background(), gateway.SessionRequest{SessionID: "s1"}))
	require.NoError(t, g.CloseSession(context.Background(), "s1"))

	data := collect(t, reader)
	calls, ok := data["fluxgate.hook.calls"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, calls.DataPoints, 2)
}

func TestResource(t *testing.T) {
	res, err := Resource(config.Default().Telemetry, "gw-1")
	require.NoError(t, err)

	var found bool
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "service.instance.id" {
			found = true
			assert.Equal(t, "gw-1", kv.Value.AsString())
		}
	}
	assert.True(t, found)
}
