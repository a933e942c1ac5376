package instrumentation

import (
	"context"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Error("Metrics() = nil")
	}
	if inst.Meter("client") == nil {
		t.Error("Meter() = nil")
	}
	if inst.Tracer("cache") == nil {
		t.Error("Tracer() = nil")
	}
}

func TestNew_Disabled(t *testing.T) {
	inst, err := New(Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Recording against no-op providers must not panic
	ctx := context.Background()
	inst.Metrics().RecordCacheLookup(ctx, true)
	inst.Metrics().RecordCacheLookup(ctx, false)
	inst.Metrics().RecordRefreshRedemption(ctx, "success")
	inst.Metrics().RecordAcquisition(ctx, "silent", true, 12.5)
	inst.Metrics().RecordDeviceFlowPoll(ctx)
}

func TestMetrics_NilReceiverSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// All helpers are safe on a nil Metrics so call sites need no guards
	m.RecordCacheLookup(ctx, true)
	m.RecordRefreshRedemption(ctx, "error")
	m.RecordAcquisition(ctx, "device_code", false, 1)
	m.RecordDeviceFlowPoll(ctx)
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
