package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.TransitionExecuted(ctx, "automatic")
	m.TransitionExecuted(ctx, "manual")
	m.TransitionExecuted(ctx, "manual")
	m.ConditionNotMet(ctx)
	m.HistoryFailed(ctx)
	m.WorkflowValidated(ctx, false)

	sums := collect(t, reader)

	transitions := sums["workflow.transitions"]
	require.Len(t, transitions.DataPoints, 2)
	byKind := map[string]int64{}
	for _, dp := range transitions.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("kind"))
		byKind[kind.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"automatic": 1, "manual": 2}, byKind)

	assert.Equal(t, int64(1), sums["workflow.conditions_not_met"].DataPoints[0].Value)
	assert.Equal(t, int64(1), sums["workflow.history_failures"].DataPoints[0].Value)
	assert.Equal(t, int64(1), sums["workflow.validations"].DataPoints[0].Value)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransitionExecuted(context.Background(), "manual")
		m.ConditionNotMet(context.Background())
		m.HistoryFailed(context.Background())
		m.WorkflowValidated(context.Background(), true)
	})
}

func TestNewGlobalMetrics(t *testing.T) {
	m, err := NewGlobalMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m)
}
