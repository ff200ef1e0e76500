package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/forumapi"
)

// Metrics holds the OpenTelemetry instruments of the authentication core.
type Metrics struct {
	LoginsTotal       metric.Int64Counter
	LoginFailures     metric.Int64Counter
	ValidationsTotal  metric.Int64Counter
	RefreshesTotal    metric.Int64Counter
	RefreshFailures   metric.Int64Counter
	LogoutsTotal      metric.Int64Counter
	SweepsTotal       metric.Int64Counter
	SessionsSwept     metric.Int64Counter
	IdPRequestLatency metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"forum.auth.logins.total",
		metric.WithDescription("Total number of completed logins"),
		metric.WithUnit("{login}"),
	)

	m.LoginFailures, _ = meter.Int64Counter(
		"forum.auth.logins.failures.total",
		metric.WithDescription("Total number of failed login callbacks"),
		metric.WithUnit("{login}"),
	)

	m.ValidationsTotal, _ = meter.Int64Counter(
		"forum.auth.validations.total",
		metric.WithDescription("Total number of token validations by outcome"),
		metric.WithUnit("{validation}"),
	)

	m.RefreshesTotal, _ = meter.Int64Counter(
		"forum.auth.refreshes.total",
		metric.WithDescription("Total number of issued refresh tokens"),
		metric.WithUnit("{token}"),
	)

	m.RefreshFailures, _ = meter.Int64Counter(
		"forum.auth.refreshes.failures.total",
		metric.WithDescription("Total number of rejected refresh attempts"),
		metric.WithUnit("{token}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"forum.auth.logouts.total",
		metric.WithDescription("Total number of logouts"),
		metric.WithUnit("{logout}"),
	)

	m.SweepsTotal, _ = meter.Int64Counter(
		"forum.sessions.sweeps.total",
		metric.WithDescription("Total number of expired session sweeps"),
		metric.WithUnit("{sweep}"),
	)

	m.SessionsSwept, _ = meter.Int64Counter(
		"forum.sessions.swept.total",
		metric.WithDescription("Total number of expired sessions deleted by sweeps"),
		metric.WithUnit("{session}"),
	)

	m.IdPRequestLatency, _ = meter.Float64Histogram(
		"forum.idp.request.duration",
		metric.WithDescription("Duration of login callback completion against the identity provider"),
		metric.WithUnit("ms"),
	)

	return m
}

// RecordValidation counts a validation with its outcome label.
func (m *Metrics) RecordValidation(ctx context.Context, outcome string) {
	m.ValidationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLogin counts a login attempt against a provider.
func (m *Metrics) RecordLogin(ctx context.Context, provider string, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if err != nil {
		m.LoginFailures.Add(ctx, 1, attrs)
		return
	}
	m.LoginsTotal.Add(ctx, 1, attrs)
}

// RecordSweep counts one sweep and the sessions it removed.
func (m *Metrics) RecordSweep(ctx context.Context, deleted int) {
	m.SweepsTotal.Add(ctx, 1)
	m.SessionsSwept.Add(ctx, int64(deleted))
}
