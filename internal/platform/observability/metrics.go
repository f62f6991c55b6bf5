package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/printloom/api"

// ProviderCallRecorder counts billable provider calls keyed by
// (provider, model, operation). Pipeline components receive it as an
// injected dependency so they stay testable in isolation.
type ProviderCallRecorder struct {
	counter metric.Int64Counter
}

// NewProviderCallRecorder builds a recorder backed by the global OTel meter.
func NewProviderCallRecorder() (*ProviderCallRecorder, error) {
	meter := otel.GetMeterProvider().Meter(meterName)
	counter, err := meter.Int64Counter(
		"provider.calls",
		metric.WithDescription("Accepted image/copy provider calls by provider, model, and operation."),
	)
	if err != nil {
		return nil, err
	}
	return &ProviderCallRecorder{counter: counter}, nil
}

// RecordCall increments the provider call counter.
func (r *ProviderCallRecorder) RecordCall(ctx context.Context, provider, model, op string) {
	if r == nil || r.counter == nil {
		return
	}
	r.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("model", strings.TrimSpace(model)),
		attribute.String("operation", strings.TrimSpace(op)),
	))
}
