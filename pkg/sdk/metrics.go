package sdk

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Resolution sources recorded on session.role.resolutions.
const (
	sourceAnonymous = "anonymous"
	sourceCache     = "cache"
	sourceAllowList = "allowlist"
	sourceAuthority = "authority"
	sourceFallback  = "fallback"
	sourceDiscarded = "discarded"
)

// sessionMetrics holds the instruments of the session layer. Instruments come
// from the global meter provider, so they are noops until the host installs one.
type sessionMetrics struct {
	resolutions        metric.Int64Counter
	authorityDuration  metric.Float64Histogram
	teardowns          metric.Int64Counter
	credentialFailures metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *sessionMetrics
)

func instruments() *sessionMetrics {
	metricsOnce.Do(func() {
		metricsInst = newSessionMetrics(otel.Meter("storefront/session"))
	})
	return metricsInst
}

func newSessionMetrics(meter metric.Meter) *sessionMetrics {
	m := &sessionMetrics{}

	// Instrument creation only fails on invalid names; a nil instrument is
	// replaced by a noop below so recording never has to nil-check.
	m.resolutions, _ = meter.Int64Counter(
		"session.role.resolutions",
		metric.WithDescription("Role resolutions by source"),
		metric.WithUnit("{resolution}"),
	)
	m.authorityDuration, _ = meter.Float64Histogram(
		"session.role.authority.duration",
		metric.WithDescription("Role authority lookup latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	m.teardowns, _ = meter.Int64Counter(
		"session.teardowns",
		metric.WithDescription("Session teardowns triggered by authorization failures"),
		metric.WithUnit("{teardown}"),
	)
	m.credentialFailures, _ = meter.Int64Counter(
		"session.credential.failures",
		metric.WithDescription("Outbound requests dispatched without a credential because retrieval failed"),
		metric.WithUnit("{request}"),
	)

	if m.resolutions == nil || m.authorityDuration == nil || m.teardowns == nil || m.credentialFailures == nil {
		return newSessionMetrics(noop.NewMeterProvider().Meter("storefront/session"))
	}
	return m
}

func (m *sessionMetrics) recordResolution(ctx context.Context, source string, role Role) {
	m.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("role", role.String()),
	))
}

func (m *sessionMetrics) recordAuthorityDuration(ctx context.Context, ms float64, ok bool) {
	m.authorityDuration.Record(ctx, ms, metric.WithAttributes(attribute.Bool("success", ok)))
}

func (m *sessionMetrics) recordTeardown(ctx context.Context, status int) {
	m.teardowns.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", status)))
}

func (m *sessionMetrics) recordCredentialFailure(ctx context.Context) {
	m.credentialFailures.Add(ctx, 1)
}
