// Package telemetry holds the OpenTelemetry instruments of the workflow
// engine.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope used for the global meter.
const ScopeName = "admissions-workflow/backend"

// Metrics records engine counters. A nil *Metrics records nothing.
type Metrics struct {
	transitions      metric.Int64Counter
	conditionsNotMet metric.Int64Counter
	historyFailures  metric.Int64Counter
	validations      metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.transitions, err = meter.Int64Counter("workflow.transitions",
		metric.WithDescription("Applications moved between stages"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if m.conditionsNotMet, err = meter.Int64Counter("workflow.conditions_not_met",
		metric.WithDescription("Manual transitions refused because a condition failed")); err != nil {
		return nil, err
	}
	if m.historyFailures, err = meter.Int64Counter("workflow.history_failures",
		metric.WithDescription("Stage change records that could not be written")); err != nil {
		return nil, err
	}
	if m.validations, err = meter.Int64Counter("workflow.validations",
		metric.WithDescription("Workflow validation runs")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewGlobalMetrics creates the instruments on the global meter provider.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(ScopeName))
}

// TransitionExecuted counts a stage change. kind is "automatic" or "manual".
func (m *Metrics) TransitionExecuted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) ConditionNotMet(ctx context.Context) {
	if m == nil {
		return
	}
	m.conditionsNotMet.Add(ctx, 1)
}

func (m *Metrics) HistoryFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.historyFailures.Add(ctx, 1)
}

// WorkflowValidated counts a validation run by outcome.
func (m *Metrics) WorkflowValidated(ctx context.Context, valid bool) {
	if m == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}
