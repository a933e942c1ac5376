package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authcache library
type Metrics struct {
	// Silent resolution
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Token-endpoint traffic
	RefreshRedemptions  metric.Int64Counter
	TokensAcquired      metric.Int64Counter
	AcquisitionDuration metric.Float64Histogram

	// Device flow
	DeviceFlowPolls metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	meter := inst.Meter("client")

	var err error
	m.CacheHits, err = meter.Int64Counter(
		"authcache.cache.hits",
		metric.WithDescription("Access tokens served from the credential cache"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.hits counter: %w", err)
	}

	m.CacheMisses, err = meter.Int64Counter(
		"authcache.cache.misses",
		metric.WithDescription("Silent lookups that fell through to refresh or returned nothing"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.misses counter: %w", err)
	}

	m.RefreshRedemptions, err = meter.Int64Counter(
		"authcache.refresh.redemptions",
		metric.WithDescription("Refresh-token redemption attempts against the token endpoint"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.redemptions counter: %w", err)
	}

	m.TokensAcquired, err = meter.Int64Counter(
		"authcache.tokens.acquired",
		metric.WithDescription("Successful token acquisitions by flow"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.acquired counter: %w", err)
	}

	m.AcquisitionDuration, err = meter.Float64Histogram(
		"authcache.acquisition.duration",
		metric.WithDescription("End-to-end token acquisition duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition.duration histogram: %w", err)
	}

	m.DeviceFlowPolls, err = meter.Int64Counter(
		"authcache.deviceflow.polls",
		metric.WithDescription("Device-code token endpoint polls"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deviceflow.polls counter: %w", err)
	}

	return m, nil
}

// RecordCacheLookup records a silent cache lookup outcome
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}

// RecordRefreshRedemption records one refresh-token redemption attempt
func (m *Metrics) RecordRefreshRedemption(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.RefreshRedemptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordAcquisition records a completed acquisition with its flow and duration
func (m *Metrics) RecordAcquisition(ctx context.Context, flow string, success bool, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.Bool("success", success),
	)
	if success {
		m.TokensAcquired.Add(ctx, 1, attrs)
	}
	m.AcquisitionDuration.Record(ctx, durationMs, attrs)
}

// RecordDeviceFlowPoll records one device-code poll
func (m *Metrics) RecordDeviceFlowPoll(ctx context.Context) {
	if m == nil {
		return
	}
	m.DeviceFlowPolls.Add(ctx, 1)
}
